package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReplyDesk/internal/util"
)

// EnqueueAlert inserts a new owner alert into the outbox. When dedupeKey
// is non-empty and a queued or sending alert with the same key already
// exists, the existing alert's ID is returned instead of inserting a
// duplicate.
func (s *PostgresStore) EnqueueAlert(subject, body, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existingID string
		err := s.db.QueryRow(
			"SELECT id FROM alert_outbox WHERE dedupe_key = $1 AND status IN ($2, $3) LIMIT 1",
			dedupeKey, string(AlertStatusQueued), string(AlertStatusSending),
		).Scan(&existingID)
		if err == nil {
			slog.Debug("PostgresStore.EnqueueAlert: deduped", "dedupeKey", dedupeKey, "id", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("failed to check alert dedupe key: %w", err)
		}
	}

	id := util.GenerateAlertID()
	now := time.Now().UTC()
	_, err := s.db.Exec(
		"INSERT INTO alert_outbox (id, subject, body, status, attempts, dedupe_key, created_at, updated_at) VALUES ($1, $2, $3, $4, 0, $5, $6, $7)",
		id, subject, body, string(AlertStatusQueued), nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		slog.Error("PostgresStore.EnqueueAlert: insert failed", "error", err)
		return "", fmt.Errorf("failed to enqueue alert: %w", err)
	}
	slog.Debug("PostgresStore.EnqueueAlert: enqueued", "id", id, "subject", subject)
	return id, nil
}

// ClaimDueAlerts atomically marks up to limit due alerts as sending and
// returns them. Uses FOR UPDATE SKIP LOCKED so multiple dispatchers can
// share one outbox without claiming the same alert twice.
func (s *PostgresStore) ClaimDueAlerts(now time.Time, limit int) ([]AlertMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		`UPDATE alert_outbox SET status = $1, locked_at = $2, updated_at = $2
		 WHERE id IN (
		   SELECT id FROM alert_outbox WHERE status = $3 AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		   ORDER BY created_at ASC LIMIT $4
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+alertColumns,
		string(AlertStatusSending), now.UTC(), string(AlertStatusQueued), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due alerts: %w", err)
	}
	defer rows.Close()

	var claimed []AlertMessage
	for rows.Next() {
		m, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimed alerts: %w", err)
	}
	if len(claimed) > 0 {
		slog.Debug("PostgresStore.ClaimDueAlerts: claimed alerts", "count", len(claimed))
	}
	return claimed, nil
}

// MarkAlertSent records successful delivery of an alert.
func (s *PostgresStore) MarkAlertSent(id string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		"UPDATE alert_outbox SET status = $1, locked_at = NULL, last_error = NULL, updated_at = $2 WHERE id = $3",
		string(AlertStatusSent), now, id,
	)
	if err != nil {
		slog.Error("PostgresStore.MarkAlertSent: update failed", "id", id, "error", err)
		return fmt.Errorf("failed to mark alert sent: %w", err)
	}
	return nil
}

// FailAlert records a delivery failure and requeues the alert for a
// retry at nextAttemptAt.
func (s *PostgresStore) FailAlert(id string, errMsg string, nextAttemptAt time.Time) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		"UPDATE alert_outbox SET status = $1, attempts = attempts + 1, next_attempt_at = $2, locked_at = NULL, last_error = $3, updated_at = $4 WHERE id = $5",
		string(AlertStatusQueued), nextAttemptAt.UTC(), errMsg, now, id,
	)
	if err != nil {
		slog.Error("PostgresStore.FailAlert: update failed", "id", id, "error", err)
		return fmt.Errorf("failed to record alert failure: %w", err)
	}
	return nil
}

// RequeueStaleSendingAlerts returns alerts stuck in sending (for example
// after a crash mid-delivery) to the queue so the dispatcher can retry
// them. Returns the number of requeued alerts.
func (s *PostgresStore) RequeueStaleSendingAlerts(staleBefore time.Time) (int, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		"UPDATE alert_outbox SET status = $1, locked_at = NULL, updated_at = $2 WHERE status = $3 AND locked_at IS NOT NULL AND locked_at < $4",
		string(AlertStatusQueued), now, string(AlertStatusSending), staleBefore.UTC(),
	)
	if err != nil {
		slog.Error("PostgresStore.RequeueStaleSendingAlerts: update failed", "error", err)
		return 0, fmt.Errorf("failed to requeue stale alerts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleSendingAlerts: requeued stale alerts", "count", n)
	}
	return int(n), nil
}
