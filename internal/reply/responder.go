package reply

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ReplyDesk/internal/models"
)

// DefaultFallbackTimeout bounds the generative call so a reply is
// always produced within a fixed deadline.
const DefaultFallbackTimeout = 15 * time.Second

// Completer is the minimal generative model surface the fallback
// responder needs. genai.Client satisfies it.
type Completer interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Responder produces an outcome for messages no cascade rule claimed.
type Responder interface {
	Respond(ctx context.Context, sender, text string) models.ReplyOutcome
}

// FallbackResponder asks the generative model to draft a reply under a
// fixed safety instruction, then re-checks the result: tags outside the
// vocabulary are dropped, always-handoff tags force the handoff flag,
// and replies that would state an unknown business fact are replaced
// with the matching canned message. Model failure never escapes; it
// collapses to the default handoff outcome.
type FallbackResponder struct {
	model        Completer
	profile      Profile
	systemPrompt string
	strict       bool
	timeout      time.Duration
}

var _ Responder = (*FallbackResponder)(nil)

// ResponderOption defines a configuration option for FallbackResponder.
type ResponderOption func(*FallbackResponder)

// WithStrictSubstitution controls what replaces empty or unparseable
// model output: the default handoff (strict, the default) or the plain
// greeting (lenient).
func WithStrictSubstitution(strict bool) ResponderOption {
	return func(r *FallbackResponder) {
		r.strict = strict
	}
}

// WithFallbackTimeout bounds the generative call.
func WithFallbackTimeout(d time.Duration) ResponderOption {
	return func(r *FallbackResponder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewFallbackResponder creates a responder for the given model and
// profile. model may be nil; every Respond call then takes the failure
// path, which is how an unconfigured OpenAI key degrades.
func NewFallbackResponder(model Completer, profile Profile, opts ...ResponderOption) *FallbackResponder {
	r := &FallbackResponder{
		model:        model,
		profile:      profile,
		systemPrompt: profile.SystemPrompt(),
		strict:       true,
		timeout:      DefaultFallbackTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// modelPayload is the JSON shape the system prompt demands.
type modelPayload struct {
	Reply        *string         `json:"reply"`
	NeedsHandoff bool            `json:"needs_handoff"`
	Tags         json.RawMessage `json:"tags"`
}

// Respond classifies via the generative model. The returned outcome is
// always safe to send: failures and policy violations are substituted,
// never propagated.
func (r *FallbackResponder) Respond(ctx context.Context, sender, text string) models.ReplyOutcome {
	if r.model == nil || text == "" {
		return r.failureOutcome()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Customer (%s) message: %s", sender, text)
	raw, err := r.model.GeneratePromptWithContext(ctx, r.systemPrompt, userPrompt)
	if err != nil {
		slog.Error("FallbackResponder.Respond: model call failed", "sender", sender, "error", err)
		return r.failureOutcome()
	}

	var payload modelPayload
	content := strings.TrimSpace(raw)
	if content == "" || json.Unmarshal([]byte(content), &payload) != nil || payload.Reply == nil {
		slog.Warn("FallbackResponder.Respond: unusable model output", "sender", sender, "strict", r.strict)
		return r.substituteOutcome()
	}

	replyText := strings.TrimSpace(*payload.Reply)
	if replyText == "" {
		slog.Warn("FallbackResponder.Respond: empty model reply", "sender", sender, "strict", r.strict)
		return r.substituteOutcome()
	}

	tags := tagsFromRaw(payload.Tags)
	needsHandoff := payload.NeedsHandoff
	for _, t := range tags {
		if models.IsAlwaysHandoffTag(t) {
			needsHandoff = true
			break
		}
	}

	replyText = r.finalize(replyText, needsHandoff, tags)

	// Booking info-collection prompts use the canonical wording so the
	// lookback can recognize them on the next turn.
	if hasTag(tags, models.TagBooking) && needsHandoff && LooksLikeInfoCollection(replyText) {
		replyText = r.profile.BookingQuestionReply
	}

	return models.ReplyOutcome{
		ReplyText:    replyText,
		Tags:         tags,
		NeedsHandoff: needsHandoff,
		Rule:         "fallback",
	}
}

// finalize overrides a drafted reply whenever a tag demands canned
// wording: emergencies and complaints always get their fixed messages,
// unknown hours or address get the "let me check" message, and a
// handoff without a question collapses to the default handoff text.
func (r *FallbackResponder) finalize(replyText string, needsHandoff bool, tags []models.Tag) string {
	switch {
	case hasTag(tags, models.TagEmergency):
		return r.profile.EmergencyReply
	case hasTag(tags, models.TagHours) && r.profile.HoursUnknown():
		return r.profile.HoursUnknownReply
	case hasTag(tags, models.TagLocation) && r.profile.LocationUnknown():
		return r.profile.LocationUnknownReply
	case hasTag(tags, models.TagComplaint):
		return r.profile.HandoffReply
	case hasTag(tags, models.TagBooking) && needsHandoff && LooksLikeInfoCollection(replyText):
		return replyText
	case !needsHandoff:
		return replyText
	case LooksLikeInfoCollection(replyText):
		return replyText
	default:
		return r.profile.HandoffReply
	}
}

// failureOutcome is the safe default for model failure: hand the
// conversation to the owner.
func (r *FallbackResponder) failureOutcome() models.ReplyOutcome {
	return models.ReplyOutcome{
		ReplyText:    r.profile.HandoffReply,
		Tags:         []models.Tag{models.TagOther},
		NeedsHandoff: true,
		Rule:         "fallback",
	}
}

// substituteOutcome replaces empty or unparseable model output.
func (r *FallbackResponder) substituteOutcome() models.ReplyOutcome {
	if r.strict {
		return r.failureOutcome()
	}
	return models.ReplyOutcome{
		ReplyText:    r.profile.GreetingReply,
		Tags:         []models.Tag{models.TagGeneral},
		NeedsHandoff: false,
		Rule:         "fallback",
	}
}

func tagsFromRaw(raw json.RawMessage) []models.Tag {
	if len(raw) == 0 {
		return []models.Tag{models.TagOther}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return []models.Tag{models.TagOther}
	}
	return models.NormalizeTags(list)
}

func hasTag(tags []models.Tag, want models.Tag) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
