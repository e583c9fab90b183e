package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/BTreeMap/ReplyDesk/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store, DedupRepo, and AlertOutboxRepo backed
// by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)
var _ DedupRepo = (*PostgresStore)(nil)
var _ AlertOutboxRepo = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore with the given options.
// If no DSN is provided via options, it falls back to the DATABASE_DSN
// environment variable.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	slog.Debug("PostgresStore.NewPostgresStore: creating store", "numOpts", len(opts))
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := cfg.DSN
	if dsn == "" {
		dsn = os.Getenv("DATABASE_DSN")
	}
	if dsn == "" {
		return nil, fmt.Errorf("no PostgreSQL DSN provided")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore.NewPostgresStore: failed to open database", "error", err)
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("PostgresStore.NewPostgresStore: failed to ping database", "error", err)
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("PostgresStore.NewPostgresStore: store ready")
	return s, nil
}

func (s *PostgresStore) migrate() error {
	if _, err := s.db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore.migrate: failed to apply migrations", "error", err)
		return fmt.Errorf("failed to apply PostgreSQL migrations: %w", err)
	}
	slog.Debug("PostgresStore.migrate: migrations applied")
	return nil
}

// AddExchange appends one exchange to the log.
func (s *PostgresStore) AddExchange(ex models.Exchange) error {
	slog.Debug("PostgresStore.AddExchange: adding exchange", "id", ex.ID, "sender", ex.Sender)
	if err := ex.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		"INSERT INTO exchanges (id, ts, channel, sender, recipient, inbound_text, reply_text, tags, needs_handoff, source, rule) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		ex.ID, ex.Timestamp, string(ex.Channel), ex.Sender, nilIfEmpty(ex.Recipient),
		ex.InboundText, ex.ReplyText, models.TagsToCSV(ex.Tags), ex.NeedsHandoff,
		nilIfEmpty(ex.Source), nilIfEmpty(ex.Rule),
	)
	if err != nil {
		slog.Error("PostgresStore.AddExchange: insert failed", "id", ex.ID, "error", err)
		return fmt.Errorf("failed to add exchange: %w", err)
	}
	return nil
}

// MostRecentBySender returns the latest exchange recorded for sender,
// or nil if the sender has no history.
func (s *PostgresStore) MostRecentBySender(sender string) (*models.Exchange, error) {
	slog.Debug("PostgresStore.MostRecentBySender: querying", "sender", sender)
	row := s.db.QueryRow(
		"SELECT "+exchangeColumns+" FROM exchanges WHERE sender = $1 ORDER BY seq DESC LIMIT 1",
		sender,
	)
	ex, err := scanExchangeRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.MostRecentBySender: query failed", "sender", sender, "error", err)
		return nil, fmt.Errorf("failed to query most recent exchange: %w", err)
	}
	return &ex, nil
}

// RecentExchanges returns up to limit exchanges, newest first.
func (s *PostgresStore) RecentExchanges(limit int) ([]models.Exchange, error) {
	if limit <= 0 || limit > models.MaxRecentExchangesLimit {
		limit = models.MaxRecentExchangesLimit
	}
	slog.Debug("PostgresStore.RecentExchanges: querying", "limit", limit)
	rows, err := s.db.Query(
		"SELECT "+exchangeColumns+" FROM exchanges ORDER BY seq DESC LIMIT $1",
		limit,
	)
	if err != nil {
		slog.Error("PostgresStore.RecentExchanges: query failed", "error", err)
		return nil, fmt.Errorf("failed to query recent exchanges: %w", err)
	}
	defer rows.Close()

	var result []models.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exchanges: %w", err)
	}
	return result, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("PostgresStore.Close: closing database")
	return s.db.Close()
}
