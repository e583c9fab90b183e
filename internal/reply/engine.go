package reply

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/ReplyDesk/internal/models"
	"github.com/BTreeMap/ReplyDesk/internal/store"
)

// Engine is the classification entry point: one call per inbound
// message, producing the exchange that was logged and whose reply the
// transport sends back. Each call is independent; the only shared state
// is the store.
type Engine struct {
	store       store.Store
	cascade     *Cascade
	responder   Responder
	alerts      store.AlertOutboxRepo
	profile     Profile
	maxReplyLen int
	clock       func() time.Time
}

// EngineOption defines a configuration option for the Engine.
type EngineOption func(*Engine)

// WithProfile sets the business profile the cascade works from.
func WithProfile(p Profile) EngineOption {
	return func(e *Engine) {
		e.profile = p
	}
}

// WithResponder sets the fallback responder. Defaults to a
// FallbackResponder with no model, which answers with the handoff
// message.
func WithResponder(r Responder) EngineOption {
	return func(e *Engine) {
		e.responder = r
	}
}

// WithAlerts sets the outbox that receives owner alerts for important
// handoffs. Without it, handoffs are logged but nobody is notified.
func WithAlerts(repo store.AlertOutboxRepo) EngineOption {
	return func(e *Engine) {
		e.alerts = repo
	}
}

// WithMaxReplyLength overrides the reply length bound.
func WithMaxReplyLength(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxReplyLen = n
		}
	}
}

// WithClock overrides the timestamp source, for tests.
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.clock = fn
		}
	}
}

// NewEngine creates an Engine over the given exchange store.
func NewEngine(st store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       st,
		profile:     DefaultProfile(),
		maxReplyLen: models.DefaultMaxReplyLength,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cascade = NewCascade(e.profile)
	if e.responder == nil {
		e.responder = NewFallbackResponder(nil, e.profile)
	}
	return e
}

// Handle classifies one inbound message and returns the logged
// exchange, whose ReplyText the transport sends back. The reply is
// produced even when persistence or alerting fails; only an invalid
// envelope (no sender) yields an error.
func (e *Engine) Handle(ctx context.Context, msg models.InboundMessage) (models.Exchange, error) {
	if err := msg.Validate(); err != nil {
		return models.Exchange{}, err
	}

	text := Normalize(msg.Body)
	channel := models.DetectChannel(msg.From)

	last, err := e.store.MostRecentBySender(msg.From)
	if err != nil {
		// Lookback loss only costs a repeated booking question, so the
		// message is still answered.
		slog.Error("Engine.Handle: lookback failed", "sender", msg.From, "error", err)
		last = nil
	}

	outcome, matched := e.cascade.Classify(text, last)
	if !matched {
		outcome = e.responder.Respond(ctx, msg.From, text)
	}
	outcome.ReplyText = EnforceLength(outcome.ReplyText, e.maxReplyLen)

	ex := models.Exchange{
		ID:           uuid.New().String(),
		Timestamp:    e.clock().UTC(),
		Channel:      channel,
		Sender:       msg.From,
		Recipient:    msg.To,
		InboundText:  text,
		ReplyText:    outcome.ReplyText,
		Tags:         outcome.Tags,
		NeedsHandoff: outcome.NeedsHandoff,
		Source:       DetectSource(text),
		Rule:         outcome.Rule,
	}

	if err := e.store.AddExchange(ex); err != nil {
		slog.Error("Engine.Handle: failed to persist exchange", "id", ex.ID, "sender", msg.From, "error", err)
	}

	e.maybeAlert(ex)

	slog.Debug("Engine.Handle: replied", "sender", msg.From, "rule", ex.Rule, "tags", models.TagsToCSV(ex.Tags), "handoff", ex.NeedsHandoff)
	return ex, nil
}

// maybeAlert enqueues an owner alert when the exchange needs a handoff
// on an important tag. Failures are logged and swallowed; the customer
// already has their reply.
func (e *Engine) maybeAlert(ex models.Exchange) {
	if e.alerts == nil {
		return
	}
	if !ex.NeedsHandoff || !models.IsImportantTag(ex.PrimaryTag()) {
		return
	}
	subject := fmt.Sprintf("Handoff needed: %s from %s", ex.PrimaryTag(), ex.Sender)
	body := fmt.Sprintf(
		"Channel: %s\nFrom: %s\nMessage: %s\nReply sent: %s\nTags: %s\nRule: %s",
		ex.Channel, ex.Sender, ex.InboundText, ex.ReplyText, models.TagsToCSV(ex.Tags), ex.Rule,
	)
	if _, err := e.alerts.EnqueueAlert(subject, body, "exchange:"+ex.ID); err != nil {
		slog.Error("Engine.Handle: failed to enqueue alert", "exchangeID", ex.ID, "error", err)
	}
}
