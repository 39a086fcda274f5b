package store

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "connection reset" }
func (fakeNetError) Timeout() bool   { return false }
func (fakeNetError) Temporary() bool { return true }

var _ net.Error = fakeNetError{}

func TestClassifyQueryErrorNil(t *testing.T) {
	require.NoError(t, classifyQueryError(nil))
}

func TestClassifyQueryErrorDeadline(t *testing.T) {
	err := classifyQueryError(context.DeadlineExceeded)
	var qte *QueryTimeoutError
	require.ErrorAs(t, err, &qte)
}

func TestClassifyQueryErrorCanceledPassesThrough(t *testing.T) {
	err := classifyQueryError(context.Canceled)
	require.ErrorIs(t, err, context.Canceled)
	var qte *QueryTimeoutError
	require.False(t, errors.As(err, &qte))
}

func TestClassifyQueryErrorStatementTimeout(t *testing.T) {
	pgErr := &pgconn.PgError{Code: queryCanceledCode, Message: "canceling statement due to statement timeout"}
	err := classifyQueryError(pgErr)
	var qte *QueryTimeoutError
	require.ErrorAs(t, err, &qte)
	require.ErrorIs(t, err, pgErr)
}

func TestClassifyQueryErrorNetwork(t *testing.T) {
	err := classifyQueryError(fakeNetError{})
	var sue *StoreUnavailableError
	require.ErrorAs(t, err, &sue)

	err = classifyQueryError(io.ErrUnexpectedEOF)
	require.ErrorAs(t, err, &sue)
}

func TestClassifyQueryErrorOtherWrapped(t *testing.T) {
	cause := errors.New("syntax error")
	err := classifyQueryError(cause)
	require.ErrorIs(t, err, cause)
	var qte *QueryTimeoutError
	require.False(t, errors.As(err, &qte))
}

func TestPoolTimeoutErrorMessage(t *testing.T) {
	e := &PoolTimeoutError{Pool: "interactive", Timeout: 10 * time.Second}
	require.Contains(t, e.Error(), "interactive")
	require.Contains(t, e.Error(), "10s")
}
