package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PoolTimeoutError reports that no connection could be acquired from the
// pool within the configured bound. The request failed without touching the
// store.
type PoolTimeoutError struct {
	Pool    string
	Timeout time.Duration
}

func (e *PoolTimeoutError) Error() string {
	return fmt.Sprintf("no %s connection available within %s", e.Pool, e.Timeout)
}

// QueryTimeoutError reports a statement that exceeded its time bound. The
// caller may retry; the engine never does.
type QueryTimeoutError struct {
	Err error
}

func (e *QueryTimeoutError) Error() string {
	return "query exceeded its time bound"
}

func (e *QueryTimeoutError) Unwrap() error {
	return e.Err
}

// StoreUnavailableError reports a connection or network level failure
// talking to the store.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// queryCanceledCode is the PostgreSQL error code raised when the server
// cancels a statement, including statement_timeout expiry.
const queryCanceledCode = "57014"

// classifyQueryError maps low level execution failures onto the error
// taxonomy. Context cancellation by the caller passes through untouched.
func classifyQueryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &QueryTimeoutError{Err: err}
	case errors.Is(err, context.Canceled):
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == queryCanceledCode {
		return &QueryTimeoutError{Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &StoreUnavailableError{Err: err}
	}

	return fmt.Errorf("query failed: %w", err)
}
