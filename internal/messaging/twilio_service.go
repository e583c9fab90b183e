package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go/twiml"

	"github.com/BTreeMap/ReplyDesk/internal/models"
	"github.com/BTreeMap/ReplyDesk/internal/reply"
	"github.com/BTreeMap/ReplyDesk/internal/store"
	"github.com/BTreeMap/ReplyDesk/internal/twiliomsg"
)

// TwilioService implements the Service interface using the Twilio API.
// Inbound traffic arrives synchronously through WebhookHandler and is
// answered in the webhook response itself, so the Responses channel
// stays empty; it exists for interface compatibility.
type TwilioService struct {
	client       twiliomsg.Sender // real Twilio client or MockClient
	clarifyReply string
	responses    chan models.InboundMessage
	done         chan struct{}
	mu           sync.RWMutex
	stopped      bool
}

var _ Service = (*TwilioService)(nil)

// TwilioOption defines a configuration option for TwilioService.
type TwilioOption func(*TwilioService)

// WithClarifyReply sets the reply rendered when a webhook form cannot
// be parsed or carries no sender. Defaults to the stock clarifier.
func WithClarifyReply(text string) TwilioOption {
	return func(s *TwilioService) {
		if text != "" {
			s.clarifyReply = text
		}
	}
}

// NewTwilioService creates a new TwilioService around the given sender.
func NewTwilioService(client twiliomsg.Sender, opts ...TwilioOption) *TwilioService {
	service := &TwilioService{
		client:       client,
		clarifyReply: reply.DefaultProfile().ShortClarifyReply,
		responses:    make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone
// number, preserving any whatsapp: channel prefix. The number part is
// reduced to digits and must have at least 6 of them.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	rest := recipient
	prefix := ""
	if strings.HasPrefix(rest, "whatsapp:") {
		prefix = "whatsapp:"
		rest = strings.TrimPrefix(rest, "whatsapp:")
	}

	digits := phoneNumberRegex.ReplaceAllString(rest, "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(digits) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", digits)
	}

	canonical := prefix + "+" + digits
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio; inbound traffic arrives via webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()

	return nil
}

// SendMessage sends a message via Twilio. The sender may be nil when
// credentials were never configured; webhook replies still work then,
// only direct sends fail.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	if s.client == nil {
		return fmt.Errorf("twilio sender not configured")
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	return s.client.SendMessage(ctx, canonicalTo, body)
}

// Responses returns the channel for incoming messages (unused for
// Twilio; the webhook answers inline).
func (s *TwilioService) Responses() <-chan models.InboundMessage {
	return s.responses
}

// WebhookHandler handles inbound Twilio webhook requests. It parses
// the form, drops duplicate deliveries by MessageSid, hands the
// message to the reply handler, and renders the reply as TwiML so
// Twilio sends it back on the same channel. A malformed form still
// gets a TwiML reply with the clarifier; Twilio retries on errors, so
// answering beats failing.
func (s *TwilioService) WebhookHandler(h Handler, dedup store.DedupRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := r.ParseForm(); err != nil {
			slog.Error("TwilioService webhook form parse failed", "error", err)
			s.writeTwiML(w, s.clarifyReply)
			return
		}

		msg := models.InboundMessage{
			From:       r.FormValue("From"),
			To:         r.FormValue("To"),
			Body:       r.FormValue("Body"),
			ProviderID: r.FormValue("MessageSid"),
		}
		if msg.From == "" {
			slog.Warn("TwilioService webhook missing From field")
			s.writeTwiML(w, s.clarifyReply)
			return
		}

		if dedup != nil && msg.ProviderID != "" {
			fresh, err := dedup.RecordInbound(msg.ProviderID, msg.From)
			if err != nil {
				// Answering twice beats not answering; keep going.
				slog.Error("TwilioService webhook dedup check failed", "sid", msg.ProviderID, "error", err)
			} else if !fresh {
				slog.Info("TwilioService webhook dropping duplicate delivery", "sid", msg.ProviderID, "from", msg.From)
				s.writeTwiML(w, "")
				return
			}
		}

		ex, err := h.Handle(r.Context(), msg)
		if err != nil {
			slog.Error("TwilioService webhook handler error", "from", msg.From, "error", err)
			s.writeTwiML(w, s.clarifyReply)
			return
		}

		slog.Debug("TwilioService webhook replied", "from", msg.From, "rule", ex.Rule)
		s.writeTwiML(w, ex.ReplyText)
	}
}

// writeTwiML renders a messaging TwiML document with zero or one
// Message verbs. An empty body produces an empty Response, telling
// Twilio to send nothing.
func (s *TwilioService) writeTwiML(w http.ResponseWriter, body string) {
	var verbs []twiml.Element
	if body != "" {
		verbs = append(verbs, &twiml.MessagingMessage{Body: body})
	}

	doc, err := twiml.Messages(verbs)
	if err != nil {
		slog.Error("TwilioService TwiML render failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, doc)
}
