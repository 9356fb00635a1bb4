// Package postgres persists clone run snapshots in Postgres as JSONB.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable holds run snapshots when no table is configured.
const DefaultTable = "clone_runs"

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// RunStore implements cloner.Repository. Indexed columns mirror the fields
// used for listing; the full run is kept in the snapshot column.
type RunStore struct {
	pool  pool
	table string
}

// New connects a pool and returns a RunStore.
func New(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database answers.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the runs table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	status     TEXT NOT NULL,
	progress   INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	snapshot   JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_created_at_idx ON %[1]s (created_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the run snapshot.
func (s *RunStore) Upsert(ctx context.Context, run *cloner.CloneRun) error {
	if run == nil || run.ID == "" {
		return errors.New("run id is required")
	}
	snapshot, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, url, status, progress, created_at, updated_at, snapshot)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	progress = EXCLUDED.progress,
	updated_at = EXCLUDED.updated_at,
	snapshot = EXCLUDED.snapshot`, s.table)
	_, err = s.pool.Exec(ctx, query,
		run.ID,
		run.URL,
		string(run.Status),
		run.Progress,
		run.CreatedAt,
		run.UpdatedAt,
		snapshot,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// Get loads one run or returns cloner.ErrNotFound.
func (s *RunStore) Get(ctx context.Context, id string) (*cloner.CloneRun, error) {
	var raw []byte
	query := fmt.Sprintf(`SELECT snapshot FROM %s WHERE id = $1`, s.table)
	if err := s.pool.QueryRow(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cloner.ErrNotFound
		}
		return nil, fmt.Errorf("select run: %w", err)
	}
	return decode(raw)
}

// List returns every run, newest first.
func (s *RunStore) List(ctx context.Context) ([]*cloner.CloneRun, error) {
	query := fmt.Sprintf(`SELECT snapshot FROM %s ORDER BY created_at DESC`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*cloner.CloneRun
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// Delete removes a run or returns cloner.ErrNotFound.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cloner.ErrNotFound
	}
	return nil
}

func decode(raw []byte) (*cloner.CloneRun, error) {
	var run cloner.CloneRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("decode run snapshot: %w", err)
	}
	return &run, nil
}
