// Package postgres persists calendar sources in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
)

const defaultTable = "calendar_sources"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for source rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// SourceStore keeps one row per source, ordered by insertion position.
type SourceStore struct {
	pool  pool
	table string
}

// New creates a Postgres-backed SourceStore using the provided config.
func New(ctx context.Context, cfg Config) (*SourceStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SourceStore{pool: p, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*SourceStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SourceStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *SourceStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the sources table when it does not exist.
func (s *SourceStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	protocol     TEXT NOT NULL,
	location     TEXT NOT NULL,
	namespace    TEXT NOT NULL DEFAULT '',
	calendar_id  TEXT NOT NULL DEFAULT '',
	label        TEXT NOT NULL DEFAULT '',
	enabled      BOOLEAN NOT NULL DEFAULT TRUE,
	trusted      BOOLEAN NOT NULL DEFAULT FALSE,
	last_checked TIMESTAMPTZ,
	position     INTEGER NOT NULL,
	PRIMARY KEY (protocol, location)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// LoadSources reads every source in insertion order.
func (s *SourceStore) LoadSources(ctx context.Context) ([]calendar.ExternalSource, error) {
	query := fmt.Sprintf(`
SELECT protocol, location, namespace, calendar_id, label, enabled, trusted, last_checked
FROM %s
ORDER BY position`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []calendar.ExternalSource
	for rows.Next() {
		var (
			src         calendar.ExternalSource
			lastChecked *time.Time
		)
		if err := rows.Scan(
			&src.Protocol,
			&src.Location,
			&src.Namespace,
			&src.CalendarID,
			&src.Label,
			&src.Enabled,
			&src.Trusted,
			&lastChecked,
		); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if lastChecked != nil {
			ts := lastChecked.UTC()
			src.LastChecked = &ts
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// SaveSources replaces the table contents in one transaction.
func (s *SourceStore) SaveSources(ctx context.Context, sources []calendar.ExternalSource) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return fmt.Errorf("clear sources: %w", err)
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (
	protocol,
	location,
	namespace,
	calendar_id,
	label,
	enabled,
	trusted,
	last_checked,
	position
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.table)
	for i, src := range sources {
		if _, err = tx.Exec(ctx, insert,
			src.Protocol,
			src.Location,
			src.Namespace,
			src.CalendarID,
			src.Label,
			src.Enabled,
			src.Trusted,
			src.LastChecked,
			i,
		); err != nil {
			return fmt.Errorf("insert source %s: %w", src.ID(), err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit sources: %w", err)
	}
	return nil
}
