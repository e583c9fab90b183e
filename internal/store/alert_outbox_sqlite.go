package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReplyDesk/internal/util"
)

// alertColumns is the column list shared by every alert outbox query.
const alertColumns = "id, subject, body, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at"

// EnqueueAlert inserts a new owner alert into the outbox. When dedupeKey
// is non-empty and a queued or sending alert with the same key already
// exists, the existing alert's ID is returned instead of inserting a
// duplicate.
func (s *SQLiteStore) EnqueueAlert(subject, body, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existingID string
		err := s.db.QueryRow(
			"SELECT id FROM alert_outbox WHERE dedupe_key = ? AND status IN (?, ?) LIMIT 1",
			dedupeKey, string(AlertStatusQueued), string(AlertStatusSending),
		).Scan(&existingID)
		if err == nil {
			slog.Debug("SQLiteStore.EnqueueAlert: deduped", "dedupeKey", dedupeKey, "id", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("failed to check alert dedupe key: %w", err)
		}
	}

	id := util.GenerateAlertID()
	now := time.Now().UTC()
	_, err := s.db.Exec(
		"INSERT INTO alert_outbox (id, subject, body, status, attempts, dedupe_key, created_at, updated_at) VALUES (?, ?, ?, ?, 0, ?, ?, ?)",
		id, subject, body, string(AlertStatusQueued), nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		slog.Error("SQLiteStore.EnqueueAlert: insert failed", "error", err)
		return "", fmt.Errorf("failed to enqueue alert: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueueAlert: enqueued", "id", id, "subject", subject)
	return id, nil
}

// ClaimDueAlerts atomically marks up to limit due alerts as sending and
// returns them. An alert is due when queued and its next_attempt_at is
// unset or in the past.
func (s *SQLiteStore) ClaimDueAlerts(now time.Time, limit int) ([]AlertMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		"SELECT "+alertColumns+" FROM alert_outbox WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?) ORDER BY created_at ASC LIMIT ?",
		string(AlertStatusQueued), now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due alerts: %w", err)
	}
	var claimed []AlertMessage
	for rows.Next() {
		m, err := scanAlert(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate due alerts: %w", err)
	}
	rows.Close()

	lockTime := now.UTC()
	for i := range claimed {
		_, err := tx.Exec(
			"UPDATE alert_outbox SET status = ?, locked_at = ?, updated_at = ? WHERE id = ?",
			string(AlertStatusSending), lockTime, lockTime, claimed[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to mark alert sending: %w", err)
		}
		claimed[i].Status = AlertStatusSending
		claimed[i].LockedAt = &lockTime
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	if len(claimed) > 0 {
		slog.Debug("SQLiteStore.ClaimDueAlerts: claimed alerts", "count", len(claimed))
	}
	return claimed, nil
}

// MarkAlertSent records successful delivery of an alert.
func (s *SQLiteStore) MarkAlertSent(id string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		"UPDATE alert_outbox SET status = ?, locked_at = NULL, last_error = NULL, updated_at = ? WHERE id = ?",
		string(AlertStatusSent), now, id,
	)
	if err != nil {
		slog.Error("SQLiteStore.MarkAlertSent: update failed", "id", id, "error", err)
		return fmt.Errorf("failed to mark alert sent: %w", err)
	}
	return nil
}

// FailAlert records a delivery failure and requeues the alert for a
// retry at nextAttemptAt.
func (s *SQLiteStore) FailAlert(id string, errMsg string, nextAttemptAt time.Time) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		"UPDATE alert_outbox SET status = ?, attempts = attempts + 1, next_attempt_at = ?, locked_at = NULL, last_error = ?, updated_at = ? WHERE id = ?",
		string(AlertStatusQueued), nextAttemptAt.UTC(), errMsg, now, id,
	)
	if err != nil {
		slog.Error("SQLiteStore.FailAlert: update failed", "id", id, "error", err)
		return fmt.Errorf("failed to record alert failure: %w", err)
	}
	return nil
}

// RequeueStaleSendingAlerts returns alerts stuck in sending (for example
// after a crash mid-delivery) to the queue so the dispatcher can retry
// them. Returns the number of requeued alerts.
func (s *SQLiteStore) RequeueStaleSendingAlerts(staleBefore time.Time) (int, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		"UPDATE alert_outbox SET status = ?, locked_at = NULL, updated_at = ? WHERE status = ? AND locked_at IS NOT NULL AND locked_at < ?",
		string(AlertStatusQueued), now, string(AlertStatusSending), staleBefore.UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore.RequeueStaleSendingAlerts: update failed", "error", err)
		return 0, fmt.Errorf("failed to requeue stale alerts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleSendingAlerts: requeued stale alerts", "count", n)
	}
	return int(n), nil
}
