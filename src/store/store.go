// Package store owns the pooled PostgreSQL sessions every other component
// executes through. Interactive page queries and long-running exports use
// separate pools so an export cannot starve page requests, and every
// acquisition is bounded by a configurable timeout.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config carries the connection settings for both pools.
type Config struct {
	ConnString       string
	PoolSize         int32
	ExportPoolSize   int32
	AcquireTimeout   time.Duration
	StatementTimeout time.Duration
}

// Row is one result record keyed by column name.
type Row map[string]any

// Manager holds the interactive and export connection pools. Construct it
// once at startup and close it at shutdown; it is safe for concurrent use.
type Manager struct {
	cfg         *Config
	slog        *slog.Logger
	interactive *pgxpool.Pool
	export      *pgxpool.Pool
}

// NewManager opens both pools and verifies connectivity with a ping.
func NewManager(ctx context.Context, cfg *Config) (*Manager, error) {
	m := &Manager{
		cfg:  cfg,
		slog: slog.Default().With("context", "Store"),
	}

	interactive, err := m.openPool(ctx, cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open interactive pool: %w", err)
	}

	export, err := m.openPool(ctx, cfg.ExportPoolSize)
	if err != nil {
		interactive.Close()
		return nil, fmt.Errorf("failed to open export pool: %w", err)
	}

	m.interactive = interactive
	m.export = export

	m.slog.Info("store connected",
		"poolSize", cfg.PoolSize,
		"exportPoolSize", cfg.ExportPoolSize,
		"statementTimeout", cfg.StatementTimeout,
	)
	return m, nil
}

func (m *Manager) openPool(ctx context.Context, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(m.cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolCfg.MaxConns = maxConns
	if m.cfg.StatementTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] =
			strconv.FormatInt(m.cfg.StatementTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &StoreUnavailableError{Err: err}
	}
	return pool, nil
}

// acquire takes a connection from pool, waiting at most AcquireTimeout.
// Exhaustion past the bound fails with PoolTimeoutError instead of blocking.
func (m *Manager) acquire(ctx context.Context, pool *pgxpool.Pool, name string) (*pgxpool.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()

	conn, err := pool.Acquire(actx)
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &PoolTimeoutError{Pool: name, Timeout: m.cfg.AcquireTimeout}
		}
		return nil, classifyQueryError(err)
	}
	return conn, nil
}

// QueryRows executes sql on the interactive pool and scans every result row
// into a Row map. The connection is released on every exit path.
func (m *Manager) QueryRows(ctx context.Context, sql string, args []any) ([]Row, error) {
	return m.queryRows(ctx, m.interactive, "interactive", sql, args)
}

// ExportRows is QueryRows on the export pool.
func (m *Manager) ExportRows(ctx context.Context, sql string, args []any) ([]Row, error) {
	return m.queryRows(ctx, m.export, "export", sql, args)
}

func (m *Manager) queryRows(ctx context.Context, pool *pgxpool.Pool, name, sql string, args []any) ([]Row, error) {
	conn, err := m.acquire(ctx, pool, name)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, classifyQueryError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]Row, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, classifyQueryError(err)
		}
		record := make(Row, len(fields))
		for i, f := range fields {
			record[f.Name] = normalizeValue(values[i])
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyQueryError(err)
	}
	return out, nil
}

// QueryInt64 executes a single-value query on the interactive pool.
func (m *Manager) QueryInt64(ctx context.Context, sql string, args []any) (int64, error) {
	conn, err := m.acquire(ctx, m.interactive, "interactive")
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	var v int64
	if err := conn.QueryRow(ctx, sql, args...).Scan(&v); err != nil {
		return 0, classifyQueryError(err)
	}
	return v, nil
}

// DistinctStrings executes an option list query and returns the values in
// result order.
func (m *Manager) DistinctStrings(ctx context.Context, sql string) ([]string, error) {
	conn, err := m.acquire(ctx, m.interactive, "interactive")
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return nil, classifyQueryError(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, classifyQueryError(err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyQueryError(err)
	}
	return out, nil
}

// Ping reports store reachability for health checks.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.interactive.Ping(ctx); err != nil {
		return &StoreUnavailableError{Err: err}
	}
	return nil
}

// Close tears down both pools.
func (m *Manager) Close() error {
	if m.interactive != nil {
		m.interactive.Close()
	}
	if m.export != nil {
		m.export.Close()
	}
	return nil
}
