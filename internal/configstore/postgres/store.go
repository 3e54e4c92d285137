// Package postgres provides the Postgres-backed configstore.Provider.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/restockd/restockd/internal/configstore"
	"github.com/restockd/restockd/internal/monitor"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store reads monitoring configuration from Postgres.
type Store struct {
	pool pool
}

// New creates a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
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
	return &Store{pool: p}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// UserConfig implements configstore.Provider.
func (s *Store) UserConfig(ctx context.Context, userID string) (monitor.UserConfig, error) {
	const query = `
SELECT rate_limit,
	monitor_delay_seconds,
	max_products,
	min_cycle_delay_seconds,
	success_delay_multiplier,
	batch_size,
	initial_product_limit,
	enabled
FROM user_configs
WHERE user_id = $1`

	var (
		cfg             monitor.UserConfig
		delaySeconds    float64
		minDelaySeconds float64
	)
	row := s.pool.QueryRow(ctx, query, userID)
	err := row.Scan(
		&cfg.RateLimit,
		&delaySeconds,
		&cfg.MaxProducts,
		&minDelaySeconds,
		&cfg.SuccessDelayMultiplier,
		&cfg.BatchSize,
		&cfg.InitialProductLimit,
		&cfg.Enabled,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.UserConfig{}, configstore.ErrNotFound
	}
	if err != nil {
		return monitor.UserConfig{}, fmt.Errorf("query user config: %w", err)
	}
	cfg.UserID = userID
	cfg.MonitorDelay = time.Duration(delaySeconds * float64(time.Second))
	cfg.MinCycleDelay = time.Duration(minDelaySeconds * float64(time.Second))
	return cfg, nil
}

// StoreTargets implements configstore.Provider.
func (s *Store) StoreTargets(ctx context.Context, userID string) ([]monitor.StoreTarget, error) {
	const query = `SELECT url, enabled FROM store_targets WHERE user_id = $1 ORDER BY url`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query store targets: %w", err)
	}
	defer rows.Close()

	var targets []monitor.StoreTarget
	for rows.Next() {
		var t monitor.StoreTarget
		if err := rows.Scan(&t.URL, &t.Enabled); err != nil {
			return nil, fmt.Errorf("scan store target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate store targets: %w", err)
	}
	return targets, nil
}

// Keywords implements configstore.Provider.
func (s *Store) Keywords(ctx context.Context, userID string) ([]monitor.Keyword, error) {
	const query = `SELECT word, enabled FROM keywords WHERE user_id = $1 ORDER BY word`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer rows.Close()

	var keywords []monitor.Keyword
	for rows.Next() {
		var k monitor.Keyword
		if err := rows.Scan(&k.Word, &k.Enabled); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		keywords = append(keywords, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keywords: %w", err)
	}
	return keywords, nil
}

// Ping implements configstore.Provider.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close implements configstore.Provider.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
