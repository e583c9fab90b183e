package reply

import (
	"regexp"
	"strings"
)

// The matchers below are pure predicates over normalized inbound text.
// They are deliberately keyword/pattern based rather than statistical:
// the safety-critical categories (emergency, complaint) and the
// fact-sensitive ones (hours, inventory) require deterministic,
// auditable behavior.

var (
	// A phone-number-like token: seven or more consecutive digits, or a
	// 3-3-4 grouping with optional separators.
	phoneLikeRe = regexp.MustCompile(`\b(\d{7,}|\d{3}[-.\s]?\d{3}[-.\s]?\d{4})\b`)

	// A short numeric token (3-5 digits), e.g. a street number or a
	// postal code fragment offered as partial booking info.
	shortNumberRe = regexp.MustCompile(`\b\d{3,5}\b`)

	longDigitRunRe = regexp.MustCompile(`\d{7,}`)

	alphaTokenRe = regexp.MustCompile(`[a-zA-Z]{2,}`)

	emergencyRe = regexp.MustCompile(`(?i)\b(911|emergency|ambulance|police|fire|bleeding|unconscious|overdose|suicide|kill myself|harm myself|gun|shoot|stabbing|attack|danger)\b`)

	complaintRe = regexp.MustCompile(`(?i)\b(refund|complaint|complain|unacceptable|terrible|awful|horrible|worst|scam|rip off|ripped off|overcharged|dispute|chargeback|lawyer|lawsuit|legal action|money back|disappointed)\b`)

	serviceDiscoveryRe = regexp.MustCompile(`(?i)\b(what services|which services|what do you (offer|provide|do)|what (kind|kinds|type|types) of services|services (do you have|do you offer|do you provide)|list (of|your) services)\b`)

	availabilityRe = regexp.MustCompile(`(?i)\b(availab[a-z]*|opening(s)?|slot(s)?)\b`)

	dateTokenRe = regexp.MustCompile(`(?i)\b(today|tomorrow|(jan(uary)?|feb(ruary)?|mar(ch)?|apr(il)?|may|jun(e)?|jul(y)?|aug(ust)?|sep(t|tember)?|oct(ober)?|nov(ember)?|dec(ember)?)\.?\s+\d{1,2}(st|nd|rd|th)?|\d{1,2}(st|nd|rd|th))\b`)

	timeTokenRe = regexp.MustCompile(`(?i)\b(\d{1,2}(:\d{2})?\s?(am|pm)|noon|midnight)\b`)

	hoursQueryRe = regexp.MustCompile(`(?i)\b(hours|open|close|closing|opening|are you open|are you closed|open today|open now)\b`)

	locationQueryRe = regexp.MustCompile(`(?i)\b(address|location|located|where are you|directions|near you)\b`)

	bookingTriggerRe = regexp.MustCompile(`(?i)\b(book|booking|appointment|schedule|reschedule|reserve|reservation)\b`)

	retailIntentRe = regexp.MustCompile(`(?i)\b(do you (sell|have|carry|stock)|in stock|sell|carry|stock)\b`)
)

// Exact-phrase sets for one-line social messages. Compared against the
// lowercased normalized text with trailing punctuation stripped.
var greetingPhrases = map[string]bool{
	"hi":             true,
	"hello":          true,
	"hey":            true,
	"yo":             true,
	"howdy":          true,
	"hi there":       true,
	"hey there":      true,
	"hello there":    true,
	"good morning":   true,
	"good afternoon": true,
	"good evening":   true,
}

var thanksPhrases = map[string]bool{
	"thanks":            true,
	"thank you":         true,
	"thank u":           true,
	"thx":               true,
	"ty":                true,
	"many thanks":       true,
	"thanks a lot":      true,
	"thanks so much":    true,
	"thank you so much": true,
	"appreciate it":     true,
	"much appreciated":  true,
}

// distinctAlphaTokens counts distinct alphabetic tokens of length >= 2,
// case-insensitively.
func distinctAlphaTokens(text string) int {
	seen := map[string]bool{}
	for _, tok := range alphaTokenRe.FindAllString(text, -1) {
		seen[strings.ToLower(tok)] = true
	}
	return len(seen)
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func exactPhrase(text string, set map[string]bool) bool {
	t := strings.TrimRight(strings.ToLower(text), "!. ")
	return set[t]
}

// MatchBookingDetailsProvided reports whether the text reads like a
// completed booking detail submission: a phone-number-like token plus
// at least one name or service word.
func MatchBookingDetailsProvided(text string) bool {
	return phoneLikeRe.MatchString(text) && alphaTokenRe.MatchString(text)
}

// MatchBookingPartial reports whether the text reads like a partial
// booking detail submission: at least two distinct words plus a short
// numeric token, with no full phone number. The long-digit exclusion
// keeps a postal code from being mistaken for a contact number.
func MatchBookingPartial(text string) bool {
	return distinctAlphaTokens(text) >= 2 &&
		shortNumberRe.MatchString(text) &&
		!longDigitRunRe.MatchString(text)
}

// MatchVeryShort reports whether the normalized text is under three
// characters, too little signal to classify.
func MatchVeryShort(text string) bool {
	return len([]rune(text)) < 3
}

// MatchThanks reports whether the text is exactly a gratitude phrase.
func MatchThanks(text string) bool {
	return exactPhrase(text, thanksPhrases)
}

// MatchGreeting reports whether the text is exactly a greeting phrase.
func MatchGreeting(text string) bool {
	return exactPhrase(text, greetingPhrases)
}

// MatchEmergency reports whether the text contains a life-safety keyword.
func MatchEmergency(text string) bool {
	return emergencyRe.MatchString(text)
}

// MatchComplaint reports whether the text contains dissatisfaction,
// refund, or billing-dispute vocabulary.
func MatchComplaint(text string) bool {
	return complaintRe.MatchString(text)
}

// MatchServiceDiscovery reports whether the text asks what the business
// offers.
func MatchServiceDiscovery(text string) bool {
	return serviceDiscoveryRe.MatchString(text)
}

// MatchDateOrTime reports whether the text contains a date token (month
// plus day, ordinal day, today/tomorrow) or a clock time token.
func MatchDateOrTime(text string) bool {
	return dateTokenRe.MatchString(text) || timeTokenRe.MatchString(text)
}

// MatchDateOrTimeOnly reports whether the text is a short message (at
// most five words) carrying a date or time token, read as a bare
// follow-up inside a booking flow.
func MatchDateOrTimeOnly(text string) bool {
	return MatchDateOrTime(text) && wordCount(text) <= 5
}

// MatchAvailabilityWithDateTime reports whether the text asks about
// availability for a concrete date or time.
func MatchAvailabilityWithDateTime(text string) bool {
	return availabilityRe.MatchString(text) && MatchDateOrTime(text)
}

// MatchHoursQuery reports whether the text asks about opening hours.
func MatchHoursQuery(text string) bool {
	return hoursQueryRe.MatchString(text)
}

// MatchLocationQuery reports whether the text asks where the business is.
func MatchLocationQuery(text string) bool {
	return locationQueryRe.MatchString(text)
}

// MatchBookingTrigger reports whether the text contains booking or
// scheduling vocabulary.
func MatchBookingTrigger(text string) bool {
	return bookingTriggerRe.MatchString(text)
}

// MatchRetailIntent reports whether the text asks about products or
// inventory rather than services.
func MatchRetailIntent(text string) bool {
	return retailIntentRe.MatchString(text)
}

// LooksLikeInfoCollection reports whether a reply reads as a request
// for information: a question mark, an interrogative opener, or a
// politeness formula. The booking lookback uses this to recognize its
// own prior prompt in the log.
func LooksLikeInfoCollection(replyText string) bool {
	t := strings.ToLower(strings.TrimSpace(replyText))
	if strings.Contains(replyText, "?") {
		return true
	}
	for _, prefix := range []string{"what", "which", "when", "where", "who", "how"} {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return strings.Contains(t, "can you") || strings.Contains(t, "could you") || strings.Contains(t, "please")
}

// Source phrase lists for best-effort acquisition tracking. Matching is
// substring-based over the lowercased text; this is metadata only and
// never feeds classification.
var sourcePhrases = []struct {
	source  string
	phrases []string
}{
	{"qr", []string{"qr code", "scanned your code", "scanned the code", "the qr"}},
	{"website", []string{"your website", "your site", "found you online", "saw you online", "on google"}},
	{"referral", []string{"referred", "referral", "recommended", "friend told me", "told me about you"}},
}

// DetectSource scans the text for phrases hinting at how the customer
// found the business. Returns "" when nothing matches.
func DetectSource(text string) string {
	t := strings.ToLower(text)
	for _, group := range sourcePhrases {
		for _, phrase := range group.phrases {
			if strings.Contains(t, phrase) {
				return group.source
			}
		}
	}
	return ""
}
