package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReplyDesk/internal/store"
)

// Dispatcher periodically claims due alerts from the outbox and
// delivers them through the notifier. Delivery is asynchronous and
// best-effort with bounded retry; a notification failure can never
// affect a customer reply.
type Dispatcher struct {
	repo           store.AlertOutboxRepo
	notifier       Notifier
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(repo store.AlertOutboxRepo, notifier Notifier, pollInterval time.Duration) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Dispatcher{
		repo:           repo,
		notifier:       notifier,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
	}
}

// RecoverStaleAlerts requeues alerts stuck in sending state (crash
// recovery). Should be called once at startup.
func (d *Dispatcher) RecoverStaleAlerts() error {
	staleBefore := time.Now().Add(-d.staleThreshold)
	n, err := d.repo.RequeueStaleSendingAlerts(staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("Dispatcher.RecoverStaleAlerts: requeued stale alerts", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("Dispatcher.Run: starting alert dispatcher", "pollInterval", d.pollInterval)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher.Run: stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	now := time.Now()
	alerts, err := d.repo.ClaimDueAlerts(now, d.claimLimit)
	if err != nil {
		slog.Error("Dispatcher.poll: claim failed", "error", err)
		return
	}

	for _, a := range alerts {
		slog.Debug("Dispatcher.poll: delivering alert", "id", a.ID, "subject", a.Subject)
		if err := d.notifier.Notify(ctx, a.Subject, a.Body); err != nil {
			slog.Error("Dispatcher.poll: delivery failed", "id", a.ID, "error", err)
			// Exponential backoff: 10s, 20s, 40s, ...
			backoff := time.Duration(10*(1<<a.Attempts)) * time.Second
			nextAttempt := now.Add(backoff)
			if err := d.repo.FailAlert(a.ID, err.Error(), nextAttempt); err != nil {
				slog.Error("Dispatcher.poll: fail alert error", "id", a.ID, "error", err)
			}
		} else {
			if err := d.repo.MarkAlertSent(a.ID); err != nil {
				slog.Error("Dispatcher.poll: mark sent error", "id", a.ID, "error", err)
			}
			slog.Debug("Dispatcher.poll: alert delivered", "id", a.ID)
		}
	}
}
