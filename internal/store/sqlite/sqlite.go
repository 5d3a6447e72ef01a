// Package sqlite provides a single-node durable KeyStore and Ledger backed by SQLite.
//
// The database is opened with a single connection, so every statement runs
// on the one writer. Admission is one upsert whose conflict branch only fires
// while the monthly counter is under quota.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/epochapi/epochapi/internal/model"
	"github.com/epochapi/epochapi/internal/store"
)

// Config configures the SQLite store.
type Config struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// Clock stamps call times. Default: store.UTCNow
	Clock store.Clock
}

// Store implements store.KeyStore and store.Ledger.
type Store struct {
	db  *sql.DB
	now store.Clock
}

var (
	_ store.KeyStore = (*Store)(nil)
	_ store.Ledger   = (*Store)(nil)
)

// Open opens (creating if needed) the database at path with default settings.
func Open(ctx context.Context, path string) (*Store, error) {
	return OpenWithConfig(ctx, Config{Path: path})
}

// OpenWithConfig opens the database described by cfg and ensures the schema.
func OpenWithConfig(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = store.UTCNow
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + cfg.Path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, now: cfg.Clock}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		key_digest TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		email TEXT NOT NULL,
		plan TEXT NOT NULL,
		rate_limit INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS key_usage (
		key_digest TEXT PRIMARY KEY,
		calls_today INTEGER NOT NULL DEFAULT 0,
		calls_this_month INTEGER NOT NULL DEFAULT 0,
		last_call_at INTEGER NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or overwrites the account for key.
func (s *Store) Put(ctx context.Context, key string, account *model.Account) error {
	query := `
		INSERT INTO accounts (key_digest, id, email, plan, rate_limit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (key_digest) DO UPDATE SET
			id = excluded.id,
			email = excluded.email,
			plan = excluded.plan,
			rate_limit = excluded.rate_limit,
			created_at = excluded.created_at
	`

	_, err := s.db.ExecContext(ctx, query,
		key,
		account.ID,
		account.Email,
		account.Plan,
		account.RateLimit,
		account.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to put account: %w", err)
	}
	return nil
}

// Get returns the account for key, or nil when absent.
func (s *Store) Get(ctx context.Context, key string) (*model.Account, error) {
	query := `
		SELECT id, email, plan, rate_limit, created_at
		FROM accounts
		WHERE key_digest = ?
	`

	var (
		account   model.Account
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&account.ID,
		&account.Email,
		&account.Plan,
		&account.RateLimit,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	account.CreatedAt = time.Unix(0, createdAt).UTC()
	return &account, nil
}

// RecordCall increments both counters for key.
func (s *Store) RecordCall(ctx context.Context, key string) error {
	query := `
		INSERT INTO key_usage (key_digest, calls_today, calls_this_month, last_call_at)
		VALUES (?, 1, 1, ?)
		ON CONFLICT (key_digest) DO UPDATE SET
			calls_today = key_usage.calls_today + 1,
			calls_this_month = key_usage.calls_this_month + 1,
			last_call_at = excluded.last_call_at
	`

	if _, err := s.db.ExecContext(ctx, query, key, s.now().UnixNano()); err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}
	return nil
}

// Peek returns the counters for key; absent keys yield the zero snapshot.
func (s *Store) Peek(ctx context.Context, key string) (model.UsageSnapshot, error) {
	query := `
		SELECT calls_today, calls_this_month, last_call_at
		FROM key_usage
		WHERE key_digest = ?
	`

	snap, err := scanUsage(s.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return model.UsageSnapshot{}, nil
	}
	if err != nil {
		return model.UsageSnapshot{}, fmt.Errorf("failed to peek usage: %w", err)
	}
	return snap, nil
}

// IsUnderQuota reports whether key has made fewer than quota calls this month.
func (s *Store) IsUnderQuota(ctx context.Context, key string, quota int64) (bool, error) {
	snap, err := s.Peek(ctx, key)
	if err != nil {
		return false, err
	}
	return snap.CallsThisMonth < quota, nil
}

// Admit checks the quota and records the call in a single statement.
func (s *Store) Admit(ctx context.Context, key string, quota int64) (model.UsageSnapshot, bool, error) {
	if quota <= 0 {
		snap, err := s.Peek(ctx, key)
		return snap, false, err
	}

	query := `
		INSERT INTO key_usage (key_digest, calls_today, calls_this_month, last_call_at)
		VALUES (?, 1, 1, ?)
		ON CONFLICT (key_digest) DO UPDATE SET
			calls_today = key_usage.calls_today + 1,
			calls_this_month = key_usage.calls_this_month + 1,
			last_call_at = excluded.last_call_at
		WHERE key_usage.calls_this_month < ?
		RETURNING calls_today, calls_this_month, last_call_at
	`

	snap, err := scanUsage(s.db.QueryRowContext(ctx, query, key, s.now().UnixNano(), quota))
	if errors.Is(err, sql.ErrNoRows) {
		current, err := s.Peek(ctx, key)
		return current, false, err
	}
	if err != nil {
		return model.UsageSnapshot{}, false, fmt.Errorf("failed to admit call: %w", err)
	}
	return snap, true, nil
}

// Reset zeroes the counter for period on every record.
func (s *Store) Reset(ctx context.Context, period model.Period) (int64, error) {
	var query string
	switch period {
	case model.PeriodDay:
		query = `UPDATE key_usage SET calls_today = 0`
	case model.PeriodMonth:
		query = `UPDATE key_usage SET calls_this_month = 0`
	default:
		return 0, fmt.Errorf("%w: %q", store.ErrUnknownPeriod, period)
	}

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset rows: %w", err)
	}
	return n, nil
}

func scanUsage(row *sql.Row) (model.UsageSnapshot, error) {
	var (
		snap       model.UsageSnapshot
		lastCallAt int64
	)
	if err := row.Scan(&snap.CallsToday, &snap.CallsThisMonth, &lastCallAt); err != nil {
		return model.UsageSnapshot{}, err
	}
	snap.LastCallAt = time.Unix(0, lastCallAt).UTC()
	return snap, nil
}
