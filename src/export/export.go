// Package export streams full filtered result sets to CSV in bounded-size
// batches. Batches walk the table by key instead of OFFSET, so a deep export
// never rescans skipped rows and peak memory stays at one batch.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/destel/rill"

	"github.com/fiscaldata/treasury-query/src/filter"
	"github.com/fiscaldata/treasury-query/src/query"
	"github.com/fiscaldata/treasury-query/src/schema"
	"github.com/fiscaldata/treasury-query/src/store"
)

// BatchReader fetches one export batch from the store. *store.Manager
// satisfies it with the dedicated export pool.
type BatchReader interface {
	ExportRows(ctx context.Context, sql string, args []any) ([]store.Row, error)
}

// ExportFailedError reports a mid-stream failure and carries the number of
// rows already written, so the caller can report partial progress. The
// exporter never retries; retry policy belongs to the caller.
type ExportFailedError struct {
	RowsWritten int64
	Err         error
}

func (e *ExportFailedError) Error() string {
	return fmt.Sprintf("export failed after %d rows: %v", e.RowsWritten, e.Err)
}

func (e *ExportFailedError) Unwrap() error {
	return e.Err
}

// Exporter writes filtered result sets to a sink, one CSV row per record.
type Exporter struct {
	reader    BatchReader
	batchSize int
	slog      *slog.Logger
}

func New(reader BatchReader, batchSize int) *Exporter {
	return &Exporter{
		reader:    reader,
		batchSize: batchSize,
		slog:      slog.Default().With("context", "Export"),
	}
}

// Export streams every row matching spec to sink and returns the number of
// records written. The header row always appears, even for zero matches.
// Fetching the next batch overlaps with writing the current one.
func (e *Exporter) Export(ctx context.Context, desc *schema.TableDescriptor, spec *filter.FilterSpec, sink io.Writer) (int64, error) {
	sql, baseArgs, err := query.CompileExport(desc, spec, e.batchSize)
	if err != nil {
		return 0, err
	}

	columns := desc.ColumnNames()
	w := csv.NewWriter(sink)
	if err := w.Write(columns); err != nil {
		return 0, &ExportFailedError{RowsWritten: 0, Err: err}
	}

	// The producer stops on cancellation so a failed sink does not keep
	// fetching batches from the store.
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches := make(chan rill.Try[[]store.Row])
	go func() {
		defer close(batches)
		var lastKey any = int64(0)
		for {
			args := append(append([]any{}, baseArgs...), lastKey)
			rows, err := e.reader.ExportRows(pctx, sql, args)
			if err != nil {
				select {
				case batches <- rill.Try[[]store.Row]{Error: err}:
				case <-pctx.Done():
				}
				return
			}
			if len(rows) > 0 {
				lastKey = rows[len(rows)-1][desc.KeyColumn]
				select {
				case batches <- rill.Try[[]store.Row]{Value: rows}:
				case <-pctx.Done():
					return
				}
			}
			if len(rows) < e.batchSize {
				return
			}
		}
	}()

	var written int64
	err = rill.ForEach(batches, 1, func(rows []store.Row) error {
		for _, row := range rows {
			record := make([]string, len(columns))
			for i, col := range columns {
				record[i] = formatField(row[col])
			}
			if err := w.Write(record); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return written, &ExportFailedError{RowsWritten: written, Err: err}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return written, &ExportFailedError{RowsWritten: written, Err: err}
	}
	return written, nil
}

// formatField renders one value as a CSV cell. NULL renders empty.
func formatField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format("2006-01-02")
	default:
		return fmt.Sprint(t)
	}
}
