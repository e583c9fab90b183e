package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyDesk/internal/messaging"
	"github.com/BTreeMap/ReplyDesk/internal/models"
	"github.com/BTreeMap/ReplyDesk/internal/reply"
	"github.com/BTreeMap/ReplyDesk/internal/store"
	"github.com/BTreeMap/ReplyDesk/internal/twiliomsg"
)

// newTestServer builds a Server over the in-memory store with the
// generative fallback disabled.
func newTestServer(dashToken string) (*Server, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	engine := reply.NewEngine(st, reply.WithAlerts(st))
	svc := messaging.NewTwilioService(twiliomsg.NewMockClient())
	return NewServer(st, engine, svc, dashToken), st
}

func seedExchange(t *testing.T, st *store.InMemoryStore, id, sender, inbound string, tag models.Tag, handoff bool) {
	t.Helper()
	err := st.AddExchange(models.Exchange{
		ID:           id,
		Timestamp:    time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		Channel:      models.ChannelSMS,
		Sender:       sender,
		InboundText:  inbound,
		ReplyText:    "reply for " + id,
		Tags:         []models.Tag{tag},
		NeedsHandoff: handoff,
	})
	if err != nil {
		t.Fatalf("failed to seed exchange: %v", err)
	}
}

func TestWebhookRouteRepliesWithTwiML(t *testing.T) {
	server, st := newTestServer("")

	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "what are your hours?")
	form.Set("MessageSid", "SM12345")

	req := httptest.NewRequest("POST", "/webhook/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "xml") {
		t.Errorf("expected XML content type, got %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "<Message") {
		t.Errorf("expected TwiML message, got %q", rr.Body.String())
	}

	exchanges, err := st.RecentExchanges(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exchanges) != 1 {
		t.Fatalf("expected 1 logged exchange, got %d", len(exchanges))
	}
}

func TestLogsWithoutTokenConfigured(t *testing.T) {
	server, _ := newTestServer("")

	req := httptest.NewRequest("GET", "/logs?token=anything", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 when no dash token configured, got %d", rr.Code)
	}
}

func TestLogsRejectsWrongToken(t *testing.T) {
	server, _ := newTestServer("sesame")

	req := httptest.NewRequest("GET", "/logs?token=nope", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong token, got %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/logs", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for missing token, got %d", rr.Code)
	}
}

func TestLogsRendersEscapedExchanges(t *testing.T) {
	server, st := newTestServer("sesame")
	seedExchange(t, st, "ex-1", "+15551111111", "when do you open?", models.TagHours, false)
	seedExchange(t, st, "ex-2", "+15552222222", "<script>alert(1)</script>", models.TagComplaint, true)

	req := httptest.NewRequest("GET", "/logs?token=sesame", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("expected HTML content type, got %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "+15551111111") || !strings.Contains(body, "when do you open?") {
		t.Errorf("expected exchange rows in page, got:\n%s", body)
	}
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("customer text must be HTML-escaped")
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Error("expected escaped customer text in page")
	}
}

func TestLogsMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer("sesame")

	req := httptest.NewRequest("POST", "/logs?token=sesame", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
	if allow := rr.Header().Get("Allow"); allow != http.MethodGet {
		t.Errorf("expected Allow: GET header, got %q", allow)
	}
}

func TestExchangesJSON(t *testing.T) {
	server, st := newTestServer("sesame")
	seedExchange(t, st, "ex-1", "+15551111111", "how much is a cut?", models.TagPricing, false)
	seedExchange(t, st, "ex-2", "+15552222222", "where are you located?", models.TagLocation, false)
	seedExchange(t, st, "ex-3", "+15553333333", "this is unacceptable", models.TagComplaint, true)

	req := httptest.NewRequest("GET", "/api/exchanges?token=sesame&limit=2", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
	items, ok := resp.Result.([]interface{})
	if !ok {
		t.Fatalf("expected result array, got %T", resp.Result)
	}
	if len(items) != 2 {
		t.Fatalf("expected limit to cap at 2 exchanges, got %d", len(items))
	}
	first, ok := items[0].(map[string]interface{})
	if !ok {
		t.Fatalf("expected object items, got %T", items[0])
	}
	if first["id"] != "ex-3" {
		t.Errorf("expected newest exchange first, got %v", first["id"])
	}
}

func TestExchangesJSONTokenGate(t *testing.T) {
	server, _ := newTestServer("")

	req := httptest.NewRequest("GET", "/api/exchanges?token=x", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 when no dash token configured, got %d", rr.Code)
	}

	server, _ = newTestServer("sesame")
	req = httptest.NewRequest("GET", "/api/exchanges?token=wrong", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong token, got %d", rr.Code)
	}

	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "error" {
		t.Errorf("expected error envelope, got %q", resp.Status)
	}
}

func TestExchangesJSONInvalidLimit(t *testing.T) {
	server, _ := newTestServer("sesame")

	for _, limit := range []string{"abc", "-5", "0"} {
		req := httptest.NewRequest("GET", "/api/exchanges?token=sesame&limit="+limit, nil)
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("limit %q: expected 400, got %d", limit, rr.Code)
		}
	}
}

func TestHealthHandler(t *testing.T) {
	server, _ := newTestServer("")

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var health map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", health["status"])
	}
}

// failingStore simulates a store outage for the degraded health path.
type failingStore struct {
	*store.InMemoryStore
}

func (f failingStore) RecentExchanges(limit int) ([]models.Exchange, error) {
	return nil, errors.New("database unavailable")
}

func TestHealthHandlerDegraded(t *testing.T) {
	st := failingStore{store.NewInMemoryStore()}
	engine := reply.NewEngine(st)
	svc := messaging.NewTwilioService(twiliomsg.NewMockClient())
	server := NewServer(st, engine, svc, "")

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var health map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if health["status"] != "degraded" {
		t.Errorf("expected degraded status, got %v", health["status"])
	}
}

func TestRootBanner(t *testing.T) {
	server, _ := newTestServer("")

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.Contains(resp.Message, "ReplyDesk") {
		t.Errorf("expected service banner, got %q", resp.Message)
	}

	req = httptest.NewRequest("GET", "/definitely-not-a-route", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", rr.Code)
	}
}

func TestNewBackendDefaultsToInMemory(t *testing.T) {
	backend, err := newBackend(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := backend.(*store.InMemoryStore); !ok {
		t.Errorf("expected in-memory store without DSN, got %T", backend)
	}
}
