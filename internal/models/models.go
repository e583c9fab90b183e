// Package models defines the core data structures for ReplyDesk.
//
// It includes the Exchange log entry, the inbound message envelope, the
// tag vocabulary, and the API response types shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Channel identifies the transport an inbound message arrived on.
type Channel string

const (
	// ChannelSMS indicates a plain SMS message.
	ChannelSMS Channel = "sms"
	// ChannelWhatsApp indicates a WhatsApp message.
	ChannelWhatsApp Channel = "whatsapp"
)

// DetectChannel derives the channel from the sender address form.
// Twilio prefixes WhatsApp addresses with "whatsapp:".
func DetectChannel(sender string) Channel {
	if strings.HasPrefix(strings.ToLower(sender), "whatsapp:") {
		return ChannelWhatsApp
	}
	return ChannelSMS
}

// Tag is a single intent label from the closed vocabulary.
type Tag string

const (
	// TagPricing marks price questions.
	TagPricing Tag = "pricing"
	// TagHours marks opening-hours questions.
	TagHours Tag = "hours"
	// TagBooking marks booking requests and booking follow-ups.
	TagBooking Tag = "booking"
	// TagLocation marks address and directions questions.
	TagLocation Tag = "location"
	// TagServiceQuestion marks questions about offered services.
	TagServiceQuestion Tag = "service_question"
	// TagGeneral marks small talk and low-signal messages.
	TagGeneral Tag = "general"
	// TagComplaint marks dissatisfaction, refund, and dispute messages.
	TagComplaint Tag = "complaint"
	// TagEmergency marks life-safety messages.
	TagEmergency Tag = "emergency"
	// TagOther is the sentinel for everything unclassified.
	TagOther Tag = "other"
)

// allowedTags is the closed vocabulary accepted from any source,
// including the generative model.
var allowedTags = map[Tag]bool{
	TagPricing:         true,
	TagHours:           true,
	TagBooking:         true,
	TagLocation:        true,
	TagServiceQuestion: true,
	TagGeneral:         true,
	TagComplaint:       true,
	TagEmergency:       true,
	TagOther:           true,
}

// importantTags is the subset that triggers owner alerting when an
// exchange is flagged for handoff.
var importantTags = map[Tag]bool{
	TagBooking:   true,
	TagHours:     true,
	TagLocation:  true,
	TagComplaint: true,
	TagEmergency: true,
}

// alwaysHandoffTags force needs_handoff regardless of what the
// generative model claims.
var alwaysHandoffTags = map[Tag]bool{
	TagComplaint: true,
	TagEmergency: true,
}

// AllTags returns the closed vocabulary in display order.
func AllTags() []Tag {
	return []Tag{
		TagPricing,
		TagHours,
		TagBooking,
		TagLocation,
		TagServiceQuestion,
		TagGeneral,
		TagComplaint,
		TagEmergency,
		TagOther,
	}
}

// IsValidTag checks if the given tag is part of the closed vocabulary.
func IsValidTag(t Tag) bool {
	return allowedTags[t]
}

// IsImportantTag checks if the given tag belongs to the alert-triggering set.
func IsImportantTag(t Tag) bool {
	return importantTags[t]
}

// IsAlwaysHandoffTag checks if the given tag forces a handoff.
func IsAlwaysHandoffTag(t Tag) bool {
	return alwaysHandoffTags[t]
}

// NormalizeTags cleans a raw tag list: trims, lowercases, drops labels
// outside the vocabulary, and falls back to ["other"] when nothing
// survives. The Exchange invariant of a non-empty tag list holds for
// every possible input.
func NormalizeTags(raw []string) []Tag {
	var cleaned []Tag
	for _, r := range raw {
		t := Tag(strings.ToLower(strings.TrimSpace(r)))
		if allowedTags[t] {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return []Tag{TagOther}
	}
	return cleaned
}

// TagsToCSV encodes a tag list for storage as a single text column.
func TagsToCSV(tags []Tag) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ",")
}

// TagsFromCSV decodes a stored tag column. Unknown labels are dropped
// and an empty column decodes to ["other"].
func TagsFromCSV(csv string) []Tag {
	return NormalizeTags(strings.Split(csv, ","))
}

// Source hint values recorded as best-effort acquisition metadata.
// Never consulted by classification.
const (
	// SourceWebsite indicates the customer mentioned finding the business online.
	SourceWebsite = "website"
	// SourceQR indicates the customer mentioned scanning a QR code.
	SourceQR = "qr"
	// SourceReferral indicates the customer mentioned a referral.
	SourceReferral = "referral"
)

// Validation constants for input validation
const (
	// DefaultMaxReplyLength defines the maximum allowed reply length in runes.
	DefaultMaxReplyLength = 240
	// MaxRecentExchangesLimit caps how many exchanges the log viewer may request.
	MaxRecentExchangesLimit = 200
)

// Error variables for better error handling and testability
var (
	ErrEmptySender    = errors.New("sender cannot be empty")
	ErrEmptyExchange  = errors.New("exchange id cannot be empty")
	ErrEmptyReplyText = errors.New("reply text cannot be empty")
	ErrReplyTooLong   = errors.New("reply text exceeds maximum length")
	ErrNoTags         = errors.New("tags cannot be empty")
	ErrInvalidTag     = errors.New("tag is not part of the vocabulary")
	ErrInvalidChannel = errors.New("invalid channel")
)

// IsValidChannel checks if the given channel is supported.
func IsValidChannel(c Channel) bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp:
		return true
	default:
		return false
	}
}

// InboundMessage is the transport-agnostic envelope for one inbound
// customer message. ProviderID carries the transport's message SID when
// available and is used to drop webhook delivery retries.
type InboundMessage struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Body       string `json:"body"`
	ProviderID string `json:"provider_id,omitempty"`
}

// Validate performs validation on an InboundMessage. An empty body is
// legal; the engine answers it with the short-message clarifier.
func (m *InboundMessage) Validate() error {
	if m.From == "" {
		return ErrEmptySender
	}
	return nil
}

// ReplyOutcome is the classification decision for one inbound message:
// the reply to send, the intent tags, and whether the owner must act.
// Rule names the cascade rule that produced it ("fallback" for the
// generative path).
type ReplyOutcome struct {
	ReplyText    string `json:"reply_text"`
	Tags         []Tag  `json:"tags"`
	NeedsHandoff bool   `json:"needs_handoff"`
	Rule         string `json:"rule,omitempty"`
}

// PrimaryTag returns the first tag, the main intent classification.
func (o ReplyOutcome) PrimaryTag() Tag {
	if len(o.Tags) == 0 {
		return TagOther
	}
	return o.Tags[0]
}

// Exchange is one logged inbound/reply interaction. Exchanges are
// append-only and immutable once created; there is no update or delete
// path anywhere in the system.
type Exchange struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"ts"`
	Channel      Channel   `json:"channel"`
	Sender       string    `json:"sender"`
	Recipient    string    `json:"recipient,omitempty"`
	InboundText  string    `json:"inbound_text"`
	ReplyText    string    `json:"reply_text"`
	Tags         []Tag     `json:"tags"`
	NeedsHandoff bool      `json:"needs_handoff"`
	Source       string    `json:"source,omitempty"`
	Rule         string    `json:"rule,omitempty"`
}

// PrimaryTag returns the first tag, the main intent classification.
func (e *Exchange) PrimaryTag() Tag {
	if len(e.Tags) == 0 {
		return TagOther
	}
	return e.Tags[0]
}

// Validate performs comprehensive validation on an Exchange structure.
func (e *Exchange) Validate() error {
	if e.ID == "" {
		return ErrEmptyExchange
	}
	if e.Sender == "" {
		return ErrEmptySender
	}
	if !IsValidChannel(e.Channel) {
		return ErrInvalidChannel
	}
	if e.ReplyText == "" {
		return ErrEmptyReplyText
	}
	if len([]rune(e.ReplyText)) > DefaultMaxReplyLength {
		return ErrReplyTooLong
	}
	if len(e.Tags) == 0 {
		return ErrNoTags
	}
	for _, t := range e.Tags {
		if !allowedTags[t] {
			return ErrInvalidTag
		}
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
