package server

import (
	"errors"

	"github.com/valyala/fasthttp"

	"github.com/fiscaldata/treasury-query/src/filter"
	"github.com/fiscaldata/treasury-query/src/query"
	"github.com/fiscaldata/treasury-query/src/schema"
	"github.com/fiscaldata/treasury-query/src/store"
)

type errorResponse struct {
	Error     string `json:"error"`
	Column    string `json:"column,omitempty"`
	Table     string `json:"table,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// classifyFailure maps the error taxonomy onto HTTP statuses. Validation
// errors name the offending field; transient store errors are marked
// retryable so the UI can offer a retry instead of a hard failure.
func classifyFailure(err error) (int, errorResponse) {
	var ute *schema.UnknownTableError
	if errors.As(err, &ute) {
		return fasthttp.StatusBadRequest, errorResponse{Error: err.Error(), Table: ute.Table}
	}

	var ife *filter.InvalidFilterError
	if errors.As(err, &ife) {
		return fasthttp.StatusBadRequest, errorResponse{Error: err.Error(), Column: ife.Column}
	}

	var pte *store.PoolTimeoutError
	if errors.As(err, &pte) {
		return fasthttp.StatusServiceUnavailable, errorResponse{Error: err.Error(), Retryable: true}
	}

	var qte *store.QueryTimeoutError
	if errors.As(err, &qte) {
		return fasthttp.StatusGatewayTimeout, errorResponse{Error: err.Error(), Retryable: true}
	}

	var sue *store.StoreUnavailableError
	if errors.As(err, &sue) {
		return fasthttp.StatusServiceUnavailable, errorResponse{Error: "store unavailable", Retryable: true}
	}

	var ce *query.CompileError
	if errors.As(err, &ce) {
		return fasthttp.StatusInternalServerError, errorResponse{Error: "internal query error"}
	}

	return fasthttp.StatusInternalServerError, errorResponse{Error: "internal error"}
}
