package reply

import (
	"github.com/BTreeMap/ReplyDesk/internal/models"
)

// inboundContext carries everything a rule may consult: the normalized
// text and the one-turn lookback state.
type inboundContext struct {
	text     string
	last     *models.Exchange
	awaiting bool
}

// rule pairs a matcher with the outcome it produces. Outcomes are
// functions because the lookback rule's reply depends on the message.
type rule struct {
	name    string
	matches func(in inboundContext) bool
	outcome func(in inboundContext) models.ReplyOutcome
}

// textRule adapts a pure text matcher and a fixed outcome into a rule.
func textRule(name string, match func(string) bool, replyText string, handoff bool, tags ...models.Tag) rule {
	out := models.ReplyOutcome{ReplyText: replyText, Tags: tags, NeedsHandoff: handoff, Rule: name}
	return rule{
		name:    name,
		matches: func(in inboundContext) bool { return match(in.text) },
		outcome: func(inboundContext) models.ReplyOutcome { return out },
	}
}

// Cascade is the ordered first-match policy table mapping an inbound
// message (plus one-turn lookback) to a reply outcome. The slice order
// is the single source of truth for precedence; a message matching
// several rules resolves to the earliest one.
type Cascade struct {
	profile Profile
	rules   []rule
}

// NewCascade builds the policy table for a business profile. Rules tied
// to a business fact (hours, address, retail) only claim a message when
// the canned "unknown" reply is the right answer; when the fact is
// configured, the message falls through to the generative fallback,
// which carries the fact in its context.
func NewCascade(profile Profile) *Cascade {
	c := &Cascade{profile: profile}

	c.rules = []rule{
		textRule("booking_details", MatchBookingDetailsProvided, profile.BookingReceivedReply, true, models.TagBooking),
		textRule("booking_partial", MatchBookingPartial, profile.BookingQuestionReply, true, models.TagBooking),
		// Exact greeting and gratitude phrases outrank the length check:
		// "hi" is two characters yet must get the greeting, not the
		// clarifier, while a bare "k" still gets the clarifier.
		textRule("thanks", MatchThanks, profile.ThanksReply, false, models.TagGeneral),
		textRule("greeting", MatchGreeting, profile.GreetingReply, false, models.TagGeneral),
		textRule("very_short", MatchVeryShort, profile.ShortClarifyReply, false, models.TagGeneral),
		textRule("emergency", MatchEmergency, profile.EmergencyReply, true, models.TagEmergency),
		textRule("complaint", MatchComplaint, profile.HandoffReply, true, models.TagComplaint),
		textRule("date_or_time", MatchDateOrTimeOnly, profile.BookingQuestionReply, true, models.TagBooking),
		textRule("service_discovery", MatchServiceDiscovery, profile.ServiceDiscoveryReply(), false, models.TagServiceQuestion),
		textRule("availability", MatchAvailabilityWithDateTime, profile.BookingQuestionReply, true, models.TagBooking),
		{
			name: "hours",
			matches: func(in inboundContext) bool {
				return profile.HoursUnknown() && MatchHoursQuery(in.text)
			},
			outcome: staticOutcome("hours", profile.HoursUnknownReply, true, models.TagHours),
		},
		{
			name: "location",
			matches: func(in inboundContext) bool {
				return profile.LocationUnknown() && MatchLocationQuery(in.text)
			},
			outcome: staticOutcome("location", profile.LocationUnknownReply, true, models.TagLocation),
		},
		textRule("booking_trigger", MatchBookingTrigger, profile.BookingQuestionReply, true, models.TagBooking),
		{
			name:    "booking_lookback",
			matches: func(in inboundContext) bool { return in.awaiting },
			outcome: func(in inboundContext) models.ReplyOutcome {
				// An open booking request is never silently dropped:
				// either the details arrived or the question is re-asked.
				if MatchBookingDetailsProvided(in.text) {
					return models.ReplyOutcome{
						ReplyText:    profile.BookingReceivedReply,
						Tags:         []models.Tag{models.TagBooking},
						NeedsHandoff: true,
						Rule:         "booking_lookback",
					}
				}
				return models.ReplyOutcome{
					ReplyText:    profile.BookingQuestionReply,
					Tags:         []models.Tag{models.TagBooking},
					NeedsHandoff: true,
					Rule:         "booking_lookback",
				}
			},
		},
		{
			name: "retail",
			matches: func(in inboundContext) bool {
				return profile.ServiceBased() && MatchRetailIntent(in.text)
			},
			outcome: staticOutcome("retail", profile.RetailRedirectReply, false, models.TagServiceQuestion),
		},
	}
	return c
}

func staticOutcome(name, replyText string, handoff bool, tags ...models.Tag) func(inboundContext) models.ReplyOutcome {
	out := models.ReplyOutcome{ReplyText: replyText, Tags: tags, NeedsHandoff: handoff, Rule: name}
	return func(inboundContext) models.ReplyOutcome { return out }
}

// Classify evaluates the rules in order against the normalized text and
// returns the first match. ok is false when no rule fired and the
// generative fallback must answer.
func (c *Cascade) Classify(text string, last *models.Exchange) (models.ReplyOutcome, bool) {
	in := inboundContext{
		text:     text,
		last:     last,
		awaiting: WasAwaitingBookingDetails(last, c.profile.BookingQuestionReply),
	}
	for _, r := range c.rules {
		if r.matches(in) {
			return r.outcome(in), true
		}
	}
	return models.ReplyOutcome{}, false
}
