package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/ReplyDesk/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// exchangeColumns is the column list shared by every exchange query.
const exchangeColumns = "id, ts, channel, sender, recipient, inbound_text, reply_text, tags, needs_handoff, source, rule"

// scanExchange scans an Exchange from sql.Rows.
func scanExchange(rows *sql.Rows) (models.Exchange, error) {
	var ex models.Exchange
	var recipient, source, rule sql.NullString
	var tagsCSV string
	err := rows.Scan(
		&ex.ID, &ex.Timestamp, &ex.Channel, &ex.Sender, &recipient,
		&ex.InboundText, &ex.ReplyText, &tagsCSV, &ex.NeedsHandoff, &source, &rule,
	)
	if err != nil {
		return ex, fmt.Errorf("scan exchange failed: %w", err)
	}
	ex.Recipient = recipient.String
	ex.Source = source.String
	ex.Rule = rule.String
	ex.Tags = models.TagsFromCSV(tagsCSV)
	return ex, nil
}

// scanExchangeRow scans an Exchange from a single sql.Row.
func scanExchangeRow(row *sql.Row) (models.Exchange, error) {
	var ex models.Exchange
	var recipient, source, rule sql.NullString
	var tagsCSV string
	err := row.Scan(
		&ex.ID, &ex.Timestamp, &ex.Channel, &ex.Sender, &recipient,
		&ex.InboundText, &ex.ReplyText, &tagsCSV, &ex.NeedsHandoff, &source, &rule,
	)
	if err != nil {
		return ex, err
	}
	ex.Recipient = recipient.String
	ex.Source = source.String
	ex.Rule = rule.String
	ex.Tags = models.TagsFromCSV(tagsCSV)
	return ex, nil
}

// scanAlert scans an AlertMessage from sql.Rows.
func scanAlert(rows *sql.Rows) (AlertMessage, error) {
	var m AlertMessage
	var dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&m.ID, &m.Subject, &m.Body, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan alert failed: %w", err)
	}
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
