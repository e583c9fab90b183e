package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/ReplyDesk/internal/reply"
	"github.com/BTreeMap/ReplyDesk/internal/store"
	"github.com/BTreeMap/ReplyDesk/internal/twiliomsg"
)

// Ensure TwilioService implements Service interface
func TestTwilioService_ImplementsService(t *testing.T) {
	var _ Service = (*TwilioService)(nil)
}

func TestTwilioService_ValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewTwilioService(twiliomsg.NewMockClient())

	tests := []struct {
		name      string
		recipient string
		expected  string
		wantErr   bool
	}{
		{
			name:      "formatted US number",
			recipient: "+1 (555) 123-4567",
			expected:  "+15551234567",
		},
		{
			name:      "already canonical",
			recipient: "+15551234567",
			expected:  "+15551234567",
		},
		{
			name:      "whatsapp prefix preserved",
			recipient: "whatsapp:+1 555 123 4567",
			expected:  "whatsapp:+15551234567",
		},
		{
			name:      "empty recipient",
			recipient: "",
			wantErr:   true,
		},
		{
			name:      "no digits",
			recipient: "not-a-number",
			wantErr:   true,
		},
		{
			name:      "too short",
			recipient: "12345",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ValidateAndCanonicalizeRecipient(tt.recipient)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %q", tt.recipient, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestTwilioService_SendMessageCanonicalizes(t *testing.T) {
	mock := twiliomsg.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "whatsapp:+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "whatsapp:+15551234567" {
		t.Errorf("expected canonical recipient, got %q", mock.SentMessages[0].To)
	}
}

func TestTwilioService_SendMessageAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliomsg.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+15551234567", "x"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func postWebhook(t *testing.T, handler http.HandlerFunc, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func newWebhookHandler(t *testing.T) (http.HandlerFunc, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	engine := reply.NewEngine(st)
	svc := NewTwilioService(twiliomsg.NewMockClient())
	return svc.WebhookHandler(engine, st), st
}

func TestWebhookHandlerRepliesWithTwiML(t *testing.T) {
	handler, st := newWebhookHandler(t)

	form := url.Values{}
	form.Set("From", "+15551230000")
	form.Set("To", "+15559990000")
	form.Set("Body", "what are your hours?")
	form.Set("MessageSid", "SM0001")

	rr := postWebhook(t, handler, form)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("expected application/xml, got %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "<Message") {
		t.Errorf("expected a Message verb, got %q", body)
	}
	if !strings.Contains(body, "hours handy right now") {
		t.Errorf("expected the hours reply, got %q", body)
	}

	stored, err := st.MostRecentBySender("+15551230000")
	if err != nil || stored == nil {
		t.Fatalf("exchange not logged: %v", err)
	}
	if stored.Rule != "hours" {
		t.Errorf("expected hours rule, got %q", stored.Rule)
	}
}

func TestWebhookHandlerDropsDuplicateDelivery(t *testing.T) {
	handler, st := newWebhookHandler(t)

	form := url.Values{}
	form.Set("From", "+15551230000")
	form.Set("Body", "what are your hours?")
	form.Set("MessageSid", "SM0001")

	first := postWebhook(t, handler, form)
	if !strings.Contains(first.Body.String(), "<Message") {
		t.Fatalf("first delivery must be answered, got %q", first.Body.String())
	}

	second := postWebhook(t, handler, form)
	if second.Code != http.StatusOK {
		t.Fatalf("duplicate delivery must still return 200, got %d", second.Code)
	}
	if strings.Contains(second.Body.String(), "<Message") {
		t.Errorf("duplicate delivery must not be answered again, got %q", second.Body.String())
	}

	recent, err := st.RecentExchanges(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("duplicate delivery must not be logged, got %d exchanges", len(recent))
	}
}

func TestWebhookHandlerMissingSender(t *testing.T) {
	handler, _ := newWebhookHandler(t)

	form := url.Values{}
	form.Set("Body", "hello?")

	rr := postWebhook(t, handler, form)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "could you share a bit more detail") {
		t.Errorf("expected the clarifier, got %q", rr.Body.String())
	}
}

func TestWebhookHandlerWhatsAppSender(t *testing.T) {
	handler, st := newWebhookHandler(t)

	form := url.Values{}
	form.Set("From", "whatsapp:+15551230000")
	form.Set("To", "whatsapp:+15559990000")
	form.Set("Body", "hi")
	form.Set("MessageSid", "SM0002")

	rr := postWebhook(t, handler, form)
	if !strings.Contains(rr.Body.String(), "How can we help you today") {
		t.Errorf("expected the greeting, got %q", rr.Body.String())
	}

	stored, _ := st.MostRecentBySender("whatsapp:+15551230000")
	if stored == nil || stored.Channel != "whatsapp" {
		t.Errorf("expected a whatsapp exchange, got %+v", stored)
	}
}

func TestWebhookHandlerRejectsGet(t *testing.T) {
	handler, _ := newWebhookHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook/inbound", nil)
	rr := httptest.NewRecorder()
	handler(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
	if allow := rr.Header().Get("Allow"); allow != http.MethodPost {
		t.Errorf("expected Allow: POST, got %q", allow)
	}
}
