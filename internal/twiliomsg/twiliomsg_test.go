package twiliomsg

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "+15551234567", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}

	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}

func TestMockClient_SendMessageError(t *testing.T) {
	mock := NewMockClient()
	mock.Err = errors.New("boom")

	if err := mock.SendMessage(context.Background(), "+15551234567", "x"); err == nil {
		t.Fatal("expected configured error")
	}
	if len(mock.SentMessages) != 0 {
		t.Errorf("failed sends must not be recorded, got %d", len(mock.SentMessages))
	}
}

func TestNewClientMissingCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Fatal("expected error without a from number")
	}
}

func TestNewClientStripsFromPrefix(t *testing.T) {
	c, err := NewClient(
		WithAccountSID("AC123"),
		WithAuthToken("tok"),
		WithFrom("whatsapp:+15550001111"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.from != "+15550001111" {
		t.Errorf("expected bare E.164 from, got %q", c.from)
	}
}
