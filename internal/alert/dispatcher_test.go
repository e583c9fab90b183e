package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyDesk/internal/store"
)

func TestDispatcherDeliversDueAlerts(t *testing.T) {
	st := store.NewInMemoryStore()
	mock := NewMockNotifier()
	d := NewDispatcher(st, mock, time.Second)

	if _, err := st.EnqueueAlert("Handoff needed: complaint from +1555", "details", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d.poll(context.Background())

	got := mock.Notifications()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Subject != "Handoff needed: complaint from +1555" {
		t.Errorf("unexpected subject %q", got[0].Subject)
	}

	// Delivered alerts leave the queue for good.
	remaining, err := st.ClaimDueAlerts(time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected empty queue after delivery, got %d", len(remaining))
	}
}

func TestDispatcherRetriesWithBackoff(t *testing.T) {
	st := store.NewInMemoryStore()
	mock := NewMockNotifier()
	mock.Err = errors.New("smtp down")
	d := NewDispatcher(st, mock, time.Second)

	if _, err := st.EnqueueAlert("subject", "body", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d.poll(context.Background())

	if len(mock.Notifications()) != 0 {
		t.Fatal("failed deliveries must not be recorded")
	}

	// Not due again immediately: the first retry waits 10s.
	soon, err := st.ClaimDueAlerts(time.Now().UTC().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(soon) != 0 {
		t.Errorf("alert must back off before retrying, got %d", len(soon))
	}

	later, err := st.ClaimDueAlerts(time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(later) != 1 {
		t.Fatalf("expected alert due after backoff, got %d", len(later))
	}
	if later[0].Attempts != 1 {
		t.Errorf("expected 1 recorded attempt, got %d", later[0].Attempts)
	}
	if later[0].LastError != "smtp down" {
		t.Errorf("expected recorded error, got %q", later[0].LastError)
	}
}

func TestDispatcherRecoverStaleAlerts(t *testing.T) {
	st := store.NewInMemoryStore()
	d := NewDispatcher(st, NewMockNotifier(), time.Second)

	if _, err := st.EnqueueAlert("subject", "body", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Claim but never resolve, simulating a crash mid-send.
	claimed, err := st.ClaimDueAlerts(time.Now().UTC(), 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim failed: %v (%d)", err, len(claimed))
	}

	// Too fresh to recover.
	if err := d.RecoverStaleAlerts(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fresh, _ := st.ClaimDueAlerts(time.Now().UTC(), 10)
	if len(fresh) != 0 {
		t.Errorf("fresh sending alert must not be requeued, got %d", len(fresh))
	}

	// Push the stale threshold past the lock time.
	d.staleThreshold = -time.Second
	if err := d.RecoverStaleAlerts(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requeued, _ := st.ClaimDueAlerts(time.Now().UTC(), 10)
	if len(requeued) != 1 {
		t.Errorf("stale sending alert must be requeued, got %d", len(requeued))
	}
}

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	st := store.NewInMemoryStore()
	d := NewDispatcher(st, NewMockNotifier(), 10*time.Millisecond)

	if _, err := st.EnqueueAlert("subject", "body", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}
