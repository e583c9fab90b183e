package reply

import (
	"testing"

	"github.com/BTreeMap/ReplyDesk/internal/models"
)

func TestWasAwaitingBookingDetails(t *testing.T) {
	question := DefaultProfile().BookingQuestionReply
	bookingEx := func(reply string) *models.Exchange {
		return &models.Exchange{Tags: []models.Tag{models.TagBooking}, ReplyText: reply}
	}

	if WasAwaitingBookingDetails(nil, question) {
		t.Error("no prior exchange means no open request")
	}
	if !WasAwaitingBookingDetails(bookingEx(question), question) {
		t.Error("the canonical booking question leaves an open request")
	}
	// A model-drafted booking prompt counts too, as long as it reads
	// like a question.
	if !WasAwaitingBookingDetails(bookingEx("What service do you need, and what is your name?"), question) {
		t.Error("a drafted booking question leaves an open request")
	}
	if WasAwaitingBookingDetails(bookingEx("Got it, the owner will confirm shortly."), question) {
		t.Error("a closing statement is not an open request")
	}

	hoursEx := &models.Exchange{Tags: []models.Tag{models.TagHours}, ReplyText: question}
	if WasAwaitingBookingDetails(hoursEx, question) {
		t.Error("only booking-tagged exchanges can leave an open request")
	}
}
