package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/BTreeMap/ReplyDesk/internal/models"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store, DedupRepo, and AlertOutboxRepo backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)
var _ DedupRepo = (*SQLiteStore)(nil)
var _ AlertOutboxRepo = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore with the given options.
// If no DSN is provided via options, it falls back to the DATABASE_DSN
// environment variable and finally to a local file.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	slog.Debug("SQLiteStore.NewSQLiteStore: creating store", "numOpts", len(opts))
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := cfg.DSN
	if dsn == "" {
		dsn = os.Getenv("DATABASE_DSN")
	}
	if dsn == "" {
		dsn = DefaultSQLiteDSN
	}

	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("SQLiteStore.NewSQLiteStore: failed to create directory", "dir", dir, "error", err)
			return nil, fmt.Errorf("failed to create directory for SQLite DB: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to open database", "error", err)
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("SQLiteStore.NewSQLiteStore: failed to ping database", "error", err)
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	// SQLite allows a single writer; serialize access through one connection
	// so concurrent webhook handlers queue instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("SQLiteStore.NewSQLiteStore: store ready", "dsn", dsn)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore.migrate: failed to apply migrations", "error", err)
		return fmt.Errorf("failed to apply SQLite migrations: %w", err)
	}
	slog.Debug("SQLiteStore.migrate: migrations applied")
	return nil
}

// AddExchange appends one exchange to the log.
func (s *SQLiteStore) AddExchange(ex models.Exchange) error {
	slog.Debug("SQLiteStore.AddExchange: adding exchange", "id", ex.ID, "sender", ex.Sender)
	if err := ex.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		"INSERT INTO exchanges (id, ts, channel, sender, recipient, inbound_text, reply_text, tags, needs_handoff, source, rule) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		ex.ID, ex.Timestamp, string(ex.Channel), ex.Sender, nilIfEmpty(ex.Recipient),
		ex.InboundText, ex.ReplyText, models.TagsToCSV(ex.Tags), ex.NeedsHandoff,
		nilIfEmpty(ex.Source), nilIfEmpty(ex.Rule),
	)
	if err != nil {
		slog.Error("SQLiteStore.AddExchange: insert failed", "id", ex.ID, "error", err)
		return fmt.Errorf("failed to add exchange: %w", err)
	}
	return nil
}

// MostRecentBySender returns the latest exchange recorded for sender,
// or nil if the sender has no history.
func (s *SQLiteStore) MostRecentBySender(sender string) (*models.Exchange, error) {
	slog.Debug("SQLiteStore.MostRecentBySender: querying", "sender", sender)
	row := s.db.QueryRow(
		"SELECT "+exchangeColumns+" FROM exchanges WHERE sender = ? ORDER BY seq DESC LIMIT 1",
		sender,
	)
	ex, err := scanExchangeRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.MostRecentBySender: query failed", "sender", sender, "error", err)
		return nil, fmt.Errorf("failed to query most recent exchange: %w", err)
	}
	return &ex, nil
}

// RecentExchanges returns up to limit exchanges, newest first.
func (s *SQLiteStore) RecentExchanges(limit int) ([]models.Exchange, error) {
	if limit <= 0 || limit > models.MaxRecentExchangesLimit {
		limit = models.MaxRecentExchangesLimit
	}
	slog.Debug("SQLiteStore.RecentExchanges: querying", "limit", limit)
	rows, err := s.db.Query(
		"SELECT "+exchangeColumns+" FROM exchanges ORDER BY seq DESC LIMIT ?",
		limit,
	)
	if err != nil {
		slog.Error("SQLiteStore.RecentExchanges: query failed", "error", err)
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
func (s *SQLiteStore) Close() error {
	slog.Debug("SQLiteStore.Close: closing database")
	return s.db.Close()
}
