package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fiscaldata/treasury-query/src/filter"
	"github.com/fiscaldata/treasury-query/src/query"
	"github.com/fiscaldata/treasury-query/src/schema"
)

// CountInfo is a row-count result. Exact is false when the value comes from
// the statistics catalog or a sampled fallback, so the UI can render
// "about N" instead of "N".
type CountInfo struct {
	Rows  int64 `json:"rows"`
	Exact bool  `json:"exact"`
}

// CounterConfig tunes when filtered counts stop scanning the whole table.
type CounterConfig struct {
	// LargeTableRows is the catalog estimate above which a filtered count
	// runs in bounded mode instead of unconditionally scanning.
	LargeTableRows int64
	// BoundedTimeout is the time budget of the exact count attempt on a
	// large table.
	BoundedTimeout time.Duration
	// SampleProbeRows is the key-range ceiling of the selectivity probe
	// used when the bounded attempt times out.
	SampleProbeRows int64
}

// Counter resolves row counts. Unfiltered counts are served from the
// pg_class.reltuples statistic in O(1); filtered counts are exact until the
// table is large, then bounded with a sampled fallback.
type Counter struct {
	mgr  *Manager
	cfg  CounterConfig
	slog *slog.Logger
}

func NewCounter(mgr *Manager, cfg CounterConfig) *Counter {
	return &Counter{
		mgr:  mgr,
		cfg:  cfg,
		slog: slog.Default().With("context", "Counter"),
	}
}

// reltuples is -1 when the table has never been analyzed.
const catalogEstimateSQL = "SELECT COALESCE((SELECT reltuples::bigint FROM pg_class WHERE oid = to_regclass($1)), -1)"

// EstimateCount returns the row count matching spec on desc's table.
func (c *Counter) EstimateCount(ctx context.Context, desc *schema.TableDescriptor, spec *filter.FilterSpec) (CountInfo, error) {
	est, err := c.mgr.QueryInt64(ctx, catalogEstimateSQL, []any{desc.Name})
	if err != nil {
		return CountInfo{}, err
	}

	if spec.Empty() {
		if est >= 0 {
			return CountInfo{Rows: est, Exact: false}, nil
		}
		// No statistics yet; count exactly but keep the approximate flag,
		// since unfiltered totals are always reported as estimates.
		rows, err := c.exactCount(ctx, desc, spec)
		if err != nil {
			return CountInfo{}, err
		}
		return CountInfo{Rows: rows, Exact: false}, nil
	}

	if est > c.cfg.LargeTableRows {
		return c.boundedCount(ctx, desc, spec, est)
	}

	rows, err := c.exactCount(ctx, desc, spec)
	if err != nil {
		return CountInfo{}, err
	}
	return CountInfo{Rows: rows, Exact: true}, nil
}

func (c *Counter) exactCount(ctx context.Context, desc *schema.TableDescriptor, spec *filter.FilterSpec) (int64, error) {
	sql, args, err := query.CompileCount(desc, spec)
	if err != nil {
		return 0, err
	}
	return c.mgr.QueryInt64(ctx, sql, args)
}

// boundedCount tries the exact count under a short deadline. On timeout it
// probes filter selectivity over the low key range and scales the catalog
// estimate by the observed match ratio.
func (c *Counter) boundedCount(ctx context.Context, desc *schema.TableDescriptor, spec *filter.FilterSpec, est int64) (CountInfo, error) {
	bctx, cancel := context.WithTimeout(ctx, c.cfg.BoundedTimeout)
	rows, err := c.exactCount(bctx, desc, spec)
	cancel()
	if err == nil {
		return CountInfo{Rows: rows, Exact: true}, nil
	}

	var qte *QueryTimeoutError
	if !errors.As(err, &qte) {
		return CountInfo{}, err
	}

	probe := c.cfg.SampleProbeRows
	if probe > est {
		probe = est
	}
	sql, args, err := query.CompileSampleCount(desc, spec, probe)
	if err != nil {
		return CountInfo{}, err
	}
	matched, err := c.mgr.QueryInt64(ctx, sql, args)
	if err != nil {
		return CountInfo{}, err
	}

	scaled := scaledEstimate(matched, est, probe)
	c.slog.Debug("filtered count fell back to sampled estimate",
		"table", desc.Name, "probe", probe, "matched", matched, "estimate", scaled)
	return CountInfo{Rows: scaled, Exact: false}, nil
}

// scaledEstimate extrapolates a probe over the full catalog estimate.
func scaledEstimate(matched, est, probe int64) int64 {
	if probe <= 0 {
		return matched
	}
	return int64(float64(matched) * float64(est) / float64(probe))
}
