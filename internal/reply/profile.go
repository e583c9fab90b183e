package reply

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/ReplyDesk/internal/util"
)

// UnknownValue marks a business fact that has not been configured.
// Replies must never state a fact whose value is UnknownValue.
const UnknownValue = "UNKNOWN"

// IsUnknown reports whether a business fact is unconfigured.
func IsUnknown(value string) bool {
	return strings.ToUpper(strings.TrimSpace(value)) == UnknownValue
}

// Profile holds the per-business facts and canned reply strings the
// cascade and the fallback responder work from. It is passed in at
// construction time; nothing reads business data from globals.
type Profile struct {
	BusinessName  string
	BusinessType  string
	Location      string
	Tone          string
	Hours         string
	Services      string
	BookingMethod string
	Phone         string
	Website       string

	HandoffReply         string
	HoursUnknownReply    string
	LocationUnknownReply string
	RetailRedirectReply  string
	EmergencyReply       string
	ShortClarifyReply    string
	BookingQuestionReply string
	BookingReceivedReply string
	GreetingReply        string
	ThanksReply          string
	ServiceUnknownReply  string
}

// DefaultProfile returns the stock profile: a generic service business
// with unknown hours and services, professional tone, and the standard
// canned replies.
func DefaultProfile() Profile {
	return Profile{
		BusinessName:  "This business",
		BusinessType:  "Local service business",
		Location:      "New York, NY",
		Tone:          "professional",
		Hours:         UnknownValue,
		Services:      UnknownValue,
		BookingMethod: "text",
		Phone:         UnknownValue,
		Website:       UnknownValue,

		HandoffReply:         "Thanks for reaching out — I’m going to pass this to the owner and they’ll follow up shortly.",
		HoursUnknownReply:    "I don’t have the hours handy right now, but I can check with the owner and get back to you shortly.",
		LocationUnknownReply: "I don’t have the address handy right now, but I can check with the owner and follow up shortly.",
		RetailRedirectReply:  "We don’t carry retail products like that. We primarily offer services — would you like help with any of our services?",
		EmergencyReply:       "If this is an emergency or someone is in danger, please call 911 right now. If you’re safe, share a brief summary and I’ll pass it to the owner.",
		ShortClarifyReply:    "Sorry — could you share a bit more detail so I can help?",
		BookingQuestionReply: "To help with your booking request, what service is it for, what’s your name, and the best contact number?",
		BookingReceivedReply: "Thanks — got it. I’ll pass this to the owner to confirm availability and follow up shortly.",
		GreetingReply:        "Hi! How can we help you today?",
		ThanksReply:          "You’re welcome! Let us know if there’s anything else we can help with.",
		ServiceUnknownReply:  "Happy to help! Could you tell me a bit more about what you’re looking for?",
	}
}

// ProfileFromEnv returns the default profile with any BUSINESS_*
// environment overrides applied. Canned replies are not overridable
// from the environment; their wording is part of the cascade contract.
func ProfileFromEnv() Profile {
	p := DefaultProfile()
	p.BusinessName = util.EnvOrDefault("BUSINESS_NAME", p.BusinessName)
	p.BusinessType = util.EnvOrDefault("BUSINESS_TYPE", p.BusinessType)
	p.Location = util.EnvOrDefault("BUSINESS_LOCATION", p.Location)
	p.Tone = util.EnvOrDefault("BUSINESS_TONE", p.Tone)
	p.Hours = util.EnvOrDefault("BUSINESS_HOURS", p.Hours)
	p.Services = util.EnvOrDefault("BUSINESS_SERVICES", p.Services)
	p.BookingMethod = util.EnvOrDefault("BUSINESS_BOOKING_METHOD", p.BookingMethod)
	p.Phone = util.EnvOrDefault("BUSINESS_PHONE", p.Phone)
	p.Website = util.EnvOrDefault("BUSINESS_WEBSITE", p.Website)
	return p
}

// HoursUnknown reports whether business hours are unconfigured.
func (p Profile) HoursUnknown() bool { return IsUnknown(p.Hours) }

// LocationUnknown reports whether the business address is unconfigured.
func (p Profile) LocationUnknown() bool { return IsUnknown(p.Location) }

// ServicesUnknown reports whether the service list is unconfigured.
func (p Profile) ServicesUnknown() bool { return IsUnknown(p.Services) }

// ServiceBased reports whether this business sells services rather than
// retail products. Unknown service lists are treated as service-based.
func (p Profile) ServiceBased() bool {
	return strings.Contains(strings.ToLower(p.BusinessType), "service") || p.ServicesUnknown()
}

// ServiceDiscoveryReply answers "what do you offer" questions: the
// configured service list when known, a clarifying question otherwise.
func (p Profile) ServiceDiscoveryReply() string {
	if p.ServicesUnknown() {
		return p.ServiceUnknownReply
	}
	return fmt.Sprintf("We offer %s. Would you like help with any of these?", p.Services)
}

// SystemPrompt builds the fallback model instruction from the profile.
// Unknown facts are passed through as UNKNOWN so the model knows what it
// must not state.
func (p Profile) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You reply to customer messages on behalf of a local business.\n\n")
	b.WriteString("BUSINESS CONTEXT (source of truth):\n")
	fmt.Fprintf(&b, "- Name: %s\n", p.BusinessName)
	fmt.Fprintf(&b, "- Type: %s\n", p.BusinessType)
	fmt.Fprintf(&b, "- Location: %s\n", p.Location)
	fmt.Fprintf(&b, "- Hours: %s\n", p.Hours)
	fmt.Fprintf(&b, "- Services: %s\n", p.Services)
	fmt.Fprintf(&b, "- Booking method: %s\n", p.BookingMethod)
	fmt.Fprintf(&b, "- Phone: %s\n", p.Phone)
	fmt.Fprintf(&b, "- Website: %s\n", p.Website)
	fmt.Fprintf(&b, "- Tone: %s\n\n", p.Tone)
	b.WriteString("STYLE CONSTRAINTS:\n")
	b.WriteString("- 1-2 sentences, max ~240 characters.\n")
	b.WriteString("- One message only (no paragraphs/bullets).\n")
	b.WriteString("- No emojis unless tone is casual.\n\n")
	b.WriteString("SAFETY RULES:\n")
	b.WriteString("- Do NOT confirm hours, pricing, availability, bookings, addresses, or policies unless explicitly provided in context.\n")
	b.WriteString("- Hours question: do NOT ask what day it is. If hours unknown, offer to check with owner (needs_handoff=true).\n")
	b.WriteString("- Pricing unknown: ask ONE clarifying question; do NOT handoff unless necessary.\n")
	b.WriteString("- Booking: do NOT confirm. Ask for (1) service, (2) name, (3) best contact. Set needs_handoff=true.\n")
	b.WriteString("- Complaints/refunds/legal threats: set needs_handoff=true.\n")
	b.WriteString("- Emergency: advise contacting local emergency services and set needs_handoff=true.\n")
	b.WriteString("- If service-based and asked about physical products/inventory, say you don't carry retail products and offer help with your services instead.\n")
	b.WriteString("- Never mention you are an AI.\n\n")
	b.WriteString("OUTPUT JSON ONLY:\n")
	b.WriteString("{\n")
	b.WriteString("  \"reply\": \"string\",\n")
	b.WriteString("  \"needs_handoff\": true/false,\n")
	b.WriteString("  \"tags\": [\"pricing\"|\"hours\"|\"booking\"|\"location\"|\"service_question\"|\"general\"|\"complaint\"|\"emergency\"|\"other\"]\n")
	b.WriteString("}")
	return b.String()
}
