// Package store provides storage backends for ReplyDesk.
//
// The exchange log is append-only: entries are written once and never
// updated or deleted. SQLite is the default backend, PostgreSQL is
// selected automatically by DSN form, and an in-memory store backs
// tests and the relay's unit tests.
package store

import (
	"strings"
	"time"

	"github.com/BTreeMap/ReplyDesk/internal/models"
)

// DefaultSQLiteDSN is the fallback SQLite database path used when no
// DSN is configured.
const DefaultSQLiteDSN = "replydesk.db"

// Store is the append-only exchange log.
type Store interface {
	// AddExchange appends one exchange. Exchanges are immutable once written.
	AddExchange(ex models.Exchange) error

	// MostRecentBySender returns the latest exchange for a sender, or
	// (nil, nil) when the sender has never written.
	MostRecentBySender(sender string) (*models.Exchange, error)

	// RecentExchanges returns up to limit exchanges, newest first.
	RecentExchanges(limit int) ([]models.Exchange, error)

	// Close releases the underlying resources.
	Close() error
}

// DedupRepo drops webhook delivery retries by provider message ID.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false
	// if the provider message ID was already recorded (duplicate).
	RecordInbound(providerID, sender string) (bool, error)
}

// AlertStatus represents the delivery state of a queued owner alert.
type AlertStatus string

const (
	// AlertStatusQueued means the alert is waiting to be sent.
	AlertStatusQueued AlertStatus = "queued"
	// AlertStatusSending means a dispatcher has claimed the alert.
	AlertStatusSending AlertStatus = "sending"
	// AlertStatusSent means the alert was delivered.
	AlertStatusSent AlertStatus = "sent"
)

// AlertMessage is one queued owner notification.
type AlertMessage struct {
	ID            string
	Subject       string
	Body          string
	Status        AlertStatus
	Attempts      int
	NextAttemptAt *time.Time
	DedupeKey     string
	LockedAt      *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AlertOutboxRepo is the durable queue for owner alerts. Delivery is
// best-effort with retry; nothing in the reply path ever waits on it.
type AlertOutboxRepo interface {
	// EnqueueAlert inserts a new alert. If dedupeKey is non-empty and a
	// non-terminal alert with that key exists, returns the existing ID.
	EnqueueAlert(subject, body, dedupeKey string) (string, error)

	// ClaimDueAlerts marks up to limit queued alerts whose
	// next_attempt_at <= now (or is NULL) as sending and returns them.
	ClaimDueAlerts(now time.Time, limit int) ([]AlertMessage, error)

	// MarkAlertSent marks an alert as successfully delivered.
	MarkAlertSent(id string) error

	// FailAlert records a delivery failure and schedules a retry at nextAttemptAt.
	FailAlert(id string, errMsg string, nextAttemptAt time.Time) error

	// RequeueStaleSendingAlerts resets alerts stuck in sending since
	// before staleBefore back to queued (crash recovery).
	RequeueStaleSendingAlerts(staleBefore time.Time) (int, error)
}

// Opts holds configuration options for storage backends.
type Opts struct {
	DSN string // database connection string (file path for SQLite)
}

// Option defines a configuration option for storage backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports which database driver a DSN belongs to:
// "postgres" for URL or key=value PostgreSQL forms, "sqlite3" for
// everything else (treated as a file path).
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "user=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}
