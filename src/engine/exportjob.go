package engine

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fiscaldata/treasury-query/src/filter"
	"github.com/fiscaldata/treasury-query/src/schema"
)

// ExportJob is a validated export request. It lives only for the duration
// of one streaming run and bypasses the result cache entirely.
type ExportJob struct {
	ID    string
	Table string

	desc     *schema.TableDescriptor
	spec     *filter.FilterSpec
	exporter Exporter
	slog     *slog.Logger
}

// PrepareExport validates table and rawFilters and returns a runnable job.
// Validation errors surface here, before the caller commits to streaming a
// response.
func (e *Engine) PrepareExport(table string, rawFilters map[string]string) (*ExportJob, error) {
	desc, err := schema.Describe(table)
	if err != nil {
		return nil, err
	}
	spec, err := filter.Build(table, rawFilters)
	if err != nil {
		return nil, err
	}

	return &ExportJob{
		ID:       uuid.NewString(),
		Table:    table,
		desc:     desc,
		spec:     spec,
		exporter: e.exporter,
		slog:     e.slog.With("export", table),
	}, nil
}

// Run streams the full filtered result set to sink and returns the number
// of records written. A mid-stream failure carries the partial count; the
// caller decides whether to retry.
func (j *ExportJob) Run(ctx context.Context, sink io.Writer) (int64, error) {
	start := time.Now()
	j.slog.Info("export started", "id", j.ID)

	written, err := j.exporter.Export(ctx, j.desc, j.spec, sink)
	if err != nil {
		j.slog.Error("export failed", "id", j.ID, "rowsWritten", written, "error", err)
		return written, err
	}

	j.slog.Info("export completed", "id", j.ID, "rows", written, "elapsed", time.Since(start))
	return written, nil
}
