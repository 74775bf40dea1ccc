// Package postgres persists session history in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool used for session rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// SessionStore implements newspaper.SessionStore on a pgx pool.
type SessionStore struct {
	pool  pool
	table string
	now   func() time.Time
}

// NewSessionStore connects to Postgres using cfg.
func NewSessionStore(ctx context.Context, cfg Config) (*SessionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	store, err := NewSessionStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewSessionStoreWithPool wraps an existing pool, mainly for tests.
func NewSessionStoreWithPool(p pool, table string) (*SessionStore, error) {
	if table == "" {
		table = "download_sessions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SessionStore{pool: p, table: table, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Ping checks that the database is reachable.
func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *SessionStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the session table when missing.
func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		session_date DATE NOT NULL,
		sources TEXT[] NOT NULL,
		output_dir TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		total INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error_text TEXT NOT NULL DEFAULT ''
	)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure session table: %w", err)
	}
	return nil
}

// CreateSession inserts a new row.
func (s *SessionStore) CreateSession(ctx context.Context, rec newspaper.Record) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(id, session_date, sources, output_dir, status, submitted_at, total, succeeded, failed, error_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, s.table)
	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.Request.Date,
		rec.Request.Sources,
		rec.Request.OutputDir,
		string(rec.Status),
		rec.Submitted,
		rec.Counts.Total,
		rec.Counts.Succeeded,
		rec.Counts.Failed,
		rec.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSessionStatus records a transition. started_at and finished_at are
// only ever set once.
func (s *SessionStore) UpdateSessionStatus(
	ctx context.Context,
	id string,
	status newspaper.Status,
	counts newspaper.Counts,
	errText string,
) error {
	now := s.now()
	var started, finished *time.Time
	if status != newspaper.StatusIdle {
		started = &now
	}
	if status.Terminal() {
		finished = &now
	}
	query := fmt.Sprintf(`UPDATE %s SET
		status = $1, total = $2, succeeded = $3, failed = $4, error_text = $5,
		started_at = COALESCE(started_at, $6),
		finished_at = COALESCE(finished_at, $7)
		WHERE id = $8`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		string(status), counts.Total, counts.Succeeded, counts.Failed, errText,
		started, finished, id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s: %w", id, newspaper.ErrNotFound)
	}
	return nil
}

const selectColumns = `id, session_date, sources, output_dir, status, submitted_at,
	started_at, finished_at, total, succeeded, failed, error_text`

// GetSession loads one session.
func (s *SessionStore) GetSession(ctx context.Context, id string) (newspaper.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return newspaper.Record{}, fmt.Errorf("get %s: %w", id, newspaper.ErrNotFound)
	}
	if err != nil {
		return newspaper.Record{}, fmt.Errorf("get session: %w", err)
	}
	return rec, nil
}

// ListSessions returns up to limit sessions, newest first.
func (s *SessionStore) ListSessions(ctx context.Context, limit int) ([]newspaper.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY submitted_at DESC, id DESC LIMIT $1`, selectColumns, s.table)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []newspaper.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (newspaper.Record, error) {
	var (
		rec      newspaper.Record
		status   string
		started  pgtype.Timestamptz
		finished pgtype.Timestamptz
	)
	err := row.Scan(
		&rec.ID,
		&rec.Request.Date,
		&rec.Request.Sources,
		&rec.Request.OutputDir,
		&status,
		&rec.Submitted,
		&started,
		&finished,
		&rec.Counts.Total,
		&rec.Counts.Succeeded,
		&rec.Counts.Failed,
		&rec.ErrorText,
	)
	if err != nil {
		return newspaper.Record{}, err
	}
	rec.Status = newspaper.Status(status)
	if started.Valid {
		t := started.Time
		rec.Started = &t
	}
	if finished.Valid {
		t := finished.Time
		rec.Finished = &t
	}
	return rec, nil
}
