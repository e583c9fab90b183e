package reply

import (
	"github.com/BTreeMap/ReplyDesk/internal/models"
)

// WasAwaitingBookingDetails reports whether the sender's previous
// exchange left an open booking-information request: its primary tag is
// booking and its reply reads as an information-collection prompt (or
// is the canonical booking question verbatim). Dialogue state is
// reconstructed from the logged reply text; nothing tracks it
// separately, so two concurrent messages from one sender can at worst
// re-ask the question once.
func WasAwaitingBookingDetails(last *models.Exchange, bookingQuestion string) bool {
	if last == nil {
		return false
	}
	if last.PrimaryTag() != models.TagBooking {
		return false
	}
	return LooksLikeInfoCollection(last.ReplyText) || last.ReplyText == bookingQuestion
}
