// Package engine orchestrates one query or export request end to end:
// schema lookup, filter validation, SQL compilation, cached execution and
// count resolution. Every operation is a pure function of its inputs
// against the injected store and cache state.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fiscaldata/treasury-query/src/cache"
	"github.com/fiscaldata/treasury-query/src/filter"
	"github.com/fiscaldata/treasury-query/src/query"
	"github.com/fiscaldata/treasury-query/src/schema"
	"github.com/fiscaldata/treasury-query/src/store"
)

// Store is the slice of the connection manager the engine executes through.
type Store interface {
	QueryRows(ctx context.Context, sql string, args []any) ([]store.Row, error)
	DistinctStrings(ctx context.Context, sql string) ([]string, error)
}

// CountEstimator resolves total counts; *store.Counter satisfies it.
type CountEstimator interface {
	EstimateCount(ctx context.Context, desc *schema.TableDescriptor, spec *filter.FilterSpec) (store.CountInfo, error)
}

// Exporter streams a full filtered result set; *export.Exporter satisfies it.
type Exporter interface {
	Export(ctx context.Context, desc *schema.TableDescriptor, spec *filter.FilterSpec, sink io.Writer) (int64, error)
}

// Config carries the engine tunables.
type Config struct {
	PageSize    int
	MaxPageSize int
	CacheTTL    time.Duration
	OptionsTTL  time.Duration
}

// ResultPage is one window of a filtered result set plus its total-count
// metadata. It is immutable once returned; callers must not mutate rows.
type ResultPage struct {
	Columns   []string    `json:"columns"`
	Rows      []store.Row `json:"rows"`
	Page      int         `json:"page"`
	PageSize  int         `json:"pageSize"`
	TotalRows int64       `json:"totalRows"`
	Exact     bool        `json:"exact"`
}

// Engine is the query/export facade handed to the HTTP layer.
type Engine struct {
	cfg      Config
	slog     *slog.Logger
	store    Store
	counter  CountEstimator
	exporter Exporter

	pages   *cache.Cache[[]store.Row]
	counts  *cache.Cache[store.CountInfo]
	options *cache.Cache[[]string]
}

func New(cfg Config, st Store, counter CountEstimator, exporter Exporter) *Engine {
	return &Engine{
		cfg:      cfg,
		slog:     slog.Default().With("context", "Engine"),
		store:    st,
		counter:  counter,
		exporter: exporter,
		pages:    cache.New[[]store.Row](),
		counts:   cache.New[store.CountInfo](),
		options:  cache.New[[]string](),
	}
}

// Query validates rawFilters against table, compiles and executes the page
// query, and resolves the total count. Pages and counts are cached under
// the compiled statement for the configured TTL.
func (e *Engine) Query(ctx context.Context, table string, rawFilters map[string]string, page query.PageRequest) (*ResultPage, error) {
	desc, err := schema.Describe(table)
	if err != nil {
		return nil, err
	}
	spec, err := filter.Build(table, rawFilters)
	if err != nil {
		return nil, err
	}
	if err := validateSort(desc, &page); err != nil {
		return nil, err
	}
	if page.PageSize <= 0 {
		page.PageSize = e.cfg.PageSize
	}
	if e.cfg.MaxPageSize > 0 && page.PageSize > e.cfg.MaxPageSize {
		page.PageSize = e.cfg.MaxPageSize
	}

	stmt, err := query.Compile(desc, spec, page)
	if err != nil {
		// Compile failures past filter validation are defects; log the full
		// filter context for diagnosis.
		e.slog.Error("query compilation failed", "error", err, "table", table, "filters", spec.Fingerprint(), "page", page)
		return nil, err
	}

	pageKey := cache.Key("page", stmt.PageSQL, fmt.Sprintf("%v", stmt.Args))
	rows, err := e.pages.GetOrCompute(ctx, pageKey, e.cfg.CacheTTL, func(ctx context.Context) ([]store.Row, error) {
		return e.store.QueryRows(ctx, stmt.PageSQL, stmt.Args)
	})
	if err != nil {
		return nil, err
	}

	countKey := cache.Key("count", stmt.CountSQL, fmt.Sprintf("%v", stmt.Args))
	info, err := e.counts.GetOrCompute(ctx, countKey, e.cfg.CacheTTL, func(ctx context.Context) (store.CountInfo, error) {
		return e.counter.EstimateCount(ctx, desc, spec)
	})
	if err != nil {
		return nil, err
	}

	return &ResultPage{
		Columns:   desc.ColumnNames(),
		Rows:      rows,
		Page:      page.Page,
		PageSize:  page.PageSize,
		TotalRows: info.Rows,
		Exact:     info.Exact,
	}, nil
}

// validateSort checks client sort input against the table descriptor before
// it can reach the compiler. Sort errors are user errors and carry the
// offending column; the compiler's own checks cover internal invariants only.
// Direction is normalized to upper case so clients may send "asc"/"desc".
func validateSort(desc *schema.TableDescriptor, page *query.PageRequest) error {
	if page.SortColumn != "" && !desc.Sortable(page.SortColumn) {
		return &filter.InvalidFilterError{Column: page.SortColumn, Reason: fmt.Sprintf("column is not sortable in table %q", desc.Name)}
	}
	dir := query.SortDir(strings.ToUpper(string(page.SortDir)))
	switch dir {
	case "", query.SortAsc, query.SortDesc:
		page.SortDir = dir
	default:
		return &filter.InvalidFilterError{Column: page.SortColumn, Reason: fmt.Sprintf("invalid sort direction %q", page.SortDir)}
	}
	return nil
}

// Options returns the distinct value lists backing the UI filter dropdowns,
// one list per enum column of table.
func (e *Engine) Options(ctx context.Context, table string) (map[string][]string, error) {
	desc, err := schema.Describe(table)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string)
	for _, column := range desc.EnumColumns() {
		sql, err := query.CompileDistinct(desc, column)
		if err != nil {
			return nil, err
		}
		values, err := e.options.GetOrCompute(ctx, cache.Key("options", sql), e.cfg.OptionsTTL, func(ctx context.Context) ([]string, error) {
			return e.store.DistinctStrings(ctx, sql)
		})
		if err != nil {
			return nil, err
		}
		out[column] = values
	}
	return out, nil
}
