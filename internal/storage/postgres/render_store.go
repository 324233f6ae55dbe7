// Package postgres provides the Postgres-backed render ledger.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/naoTimesdev/naotimes-og/internal/archive"
)

const defaultTable = "renders"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for ledger rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RenderStore writes one row per render into Postgres.
type RenderStore struct {
	pool  execCloser
	table string
}

// NewRenderStore connects a pool using cfg.
func NewRenderStore(ctx context.Context, cfg Config) (*RenderStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RenderStore{pool: pool, table: table}, nil
}

// NewRenderStoreWithPool constructs a store from an existing pool.
func NewRenderStoreWithPool(pool execCloser, table string) (*RenderStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RenderStore{pool: pool, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RenderStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the ledger table when it is missing.
func (s *RenderStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           UUID PRIMARY KEY,
	kind         TEXT NOT NULL,
	query        TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	failed_stage TEXT,
	bytes        INTEGER NOT NULL,
	duration_ms  BIGINT NOT NULL,
	blob_uri     TEXT,
	sha256       TEXT,
	created_at   TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// InsertRender inserts a ledger row.
func (s *RenderStore) InsertRender(ctx context.Context, record archive.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("render store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	kind,
	query,
	outcome,
	failed_stage,
	bytes,
	duration_ms,
	blob_uri,
	sha256,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		record.ID,
		record.Kind,
		record.Query,
		record.Outcome,
		nullable(record.FailedStage),
		record.Bytes,
		record.Duration.Milliseconds(),
		nullable(record.BlobURI),
		nullable(record.SHA256),
		record.CreatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert render: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
