// Package postgres stores extracted items in a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
	"github.com/JakeFAU/searchcrawler/internal/sink"
)

// DefaultTable receives items when Config.Table is empty.
const DefaultTable = "crawl_items"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
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

// Sink inserts one row per extracted item:
//
//	run_id text, url text, extra jsonb, created_at timestamptz
type Sink struct {
	pool  execCloser
	table string
	query string
	clock crawler.Clock
}

// New connects a pool described by cfg.
func New(ctx context.Context, cfg Config, clock crawler.Clock) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sink.postgres.dsn is required")
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
	s, err := NewWithPool(pool, cfg.Table, clock)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool builds a Sink over an existing pool.
func NewWithPool(pool execCloser, table string, clock crawler.Clock) (*Sink, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Sink{
		pool:  pool,
		table: table,
		query: fmt.Sprintf(`INSERT INTO %s (run_id, url, extra, created_at) VALUES ($1, $2, $3, $4)`, table),
		clock: clock,
	}, nil
}

// Append inserts item. A nil Extra is stored as SQL NULL.
func (s *Sink) Append(ctx context.Context, item crawler.ExtractedItem) error {
	var extra []byte
	if item.Extra != nil {
		var err error
		extra, err = json.Marshal(item.Extra)
		if err != nil {
			return fmt.Errorf("marshal extra: %w", err)
		}
	}
	if _, err := s.pool.Exec(ctx, s.query, sink.RunID(ctx), item.URL, extra, s.clock.Now()); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Sink) Close(context.Context) error {
	s.pool.Close()
	return nil
}
