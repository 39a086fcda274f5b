// Package testutil provides test utilities for treasury-query.
// This package contains shared test stubs and helpers to reduce
// code duplication across test files.
package testutil

import (
	"context"
	"sync"

	"github.com/fiscaldata/treasury-query/src/filter"
	"github.com/fiscaldata/treasury-query/src/schema"
	"github.com/fiscaldata/treasury-query/src/store"
)

// StubStore is an in-memory stand-in for the store manager. It serves page
// queries from canned rows and export batches by walking ExportData in key
// order, mimicking the keyset batch contract.
type StubStore struct {
	PageRows    []store.Row
	CountValue  int64
	Options     []string
	ExportData  []store.Row
	ExportBatch int

	QueryErr    error
	DistinctErr error
	// FailExportAfter, when >= 0, fails the export batch with that index.
	FailExportAfter int
	ExportErr       error

	// Call counters for verification in tests
	mu            sync.Mutex
	QueryCalls    int
	DistinctCalls int
	ExportCalls   int
}

// NewStubStore creates a stub with sensible defaults.
func NewStubStore() *StubStore {
	return &StubStore{ExportBatch: 2, FailExportAfter: -1}
}

func (s *StubStore) QueryRows(ctx context.Context, sql string, args []any) ([]store.Row, error) {
	s.mu.Lock()
	s.QueryCalls++
	s.mu.Unlock()
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	return s.PageRows, nil
}

func (s *StubStore) DistinctStrings(ctx context.Context, sql string) ([]string, error) {
	s.mu.Lock()
	s.DistinctCalls++
	s.mu.Unlock()
	if s.DistinctErr != nil {
		return nil, s.DistinctErr
	}
	return s.Options, nil
}

// ExportRows serves rows whose "id" exceeds the trailing keyset argument,
// at most ExportBatch per call.
func (s *StubStore) ExportRows(ctx context.Context, sql string, args []any) ([]store.Row, error) {
	s.mu.Lock()
	call := s.ExportCalls
	s.ExportCalls++
	s.mu.Unlock()

	if s.FailExportAfter >= 0 && call >= s.FailExportAfter {
		return nil, s.ExportErr
	}

	lastKey, _ := args[len(args)-1].(int64)
	batch := make([]store.Row, 0, s.ExportBatch)
	for _, row := range s.ExportData {
		id, _ := row["id"].(int64)
		if id > lastKey {
			batch = append(batch, row)
			if len(batch) == s.ExportBatch {
				break
			}
		}
	}
	return batch, nil
}

// StubCounter returns a fixed count result and records calls.
type StubCounter struct {
	Info store.CountInfo
	Err  error

	mu    sync.Mutex
	Calls int
}

func (s *StubCounter) EstimateCount(ctx context.Context, desc *schema.TableDescriptor, spec *filter.FilterSpec) (store.CountInfo, error) {
	s.mu.Lock()
	s.Calls++
	s.mu.Unlock()
	return s.Info, s.Err
}
