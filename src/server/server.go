// Package server exposes the query engine over HTTP: paged queries, filter
// option lists, CSV export streaming and a health probe.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"github.com/fiscaldata/treasury-query/src/engine"
	"github.com/fiscaldata/treasury-query/src/query"
	"github.com/fiscaldata/treasury-query/src/schema"
)

// Engine is the slice of the query engine the server depends on.
type Engine interface {
	Query(ctx context.Context, table string, rawFilters map[string]string, page query.PageRequest) (*engine.ResultPage, error)
	Options(ctx context.Context, table string) (map[string][]string, error)
	PrepareExport(table string, rawFilters map[string]string) (*engine.ExportJob, error)
}

// Pinger reports store reachability for the health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Address string
}

type Server struct {
	cfg      *Config
	engine   Engine
	pinger   Pinger
	slog     *slog.Logger
	listener net.Listener
}

func New(cfg *Config, eng Engine, pinger Pinger) *Server {
	return &Server{
		cfg:    cfg,
		engine: eng,
		pinger: pinger,
		slog:   slog.Default().With("context", "HTTP"),
	}
}

// Start binds the listener and serves requests in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.slog.Info("starting HTTP server", "addr", listener.Addr().String())
	go func() {
		if err := fasthttp.Serve(listener, s.handle); err != nil {
			s.slog.Error("HTTP server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address; empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Close() (err error) {
	if s.listener != nil {
		err = s.listener.Close()
	}
	return
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := string(ctx.Path())

	s.slog.Debug("received HTTP request", "method", method, "path", path)

	switch {
	case path == "/api/query" && method == fasthttp.MethodPost:
		s.handleQuery(ctx)
	case path == "/api/export" && method == fasthttp.MethodPost:
		s.handleExport(ctx)
	case path == "/api/tables" && method == fasthttp.MethodGet:
		s.handleTables(ctx)
	case path == "/api/options" && method == fasthttp.MethodGet:
		s.handleOptions(ctx)
	case path == "/healthz" && method == fasthttp.MethodGet:
		s.handleHealth(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

type queryRequest struct {
	Table      string            `json:"table"`
	Filters    map[string]string `json:"filters"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	SortColumn string            `json:"sortColumn"`
	SortDir    string            `json:"sortDir"`
}

func (s *Server) handleQuery(ctx *fasthttp.RequestCtx) {
	var req queryRequest
	if err := sonic.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	page, err := s.engine.Query(ctx, req.Table, req.Filters, query.PageRequest{
		Page:       req.Page,
		PageSize:   req.PageSize,
		SortColumn: req.SortColumn,
		SortDir:    query.SortDir(req.SortDir),
	})
	if err != nil {
		s.writeFailure(ctx, err)
		return
	}
	s.writeJSON(ctx, page)
}

type exportRequest struct {
	Table   string            `json:"table"`
	Filters map[string]string `json:"filters"`
}

func (s *Server) handleExport(ctx *fasthttp.RequestCtx) {
	var req exportRequest
	if err := sonic.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	job, err := s.engine.PrepareExport(req.Table, req.Filters)
	if err != nil {
		s.writeFailure(ctx, err)
		return
	}

	filename := fmt.Sprintf("%s-%s.csv", req.Table, time.Now().Format("20060102-150405"))
	ctx.Response.Header.SetContentType("text/csv; charset=utf-8")
	ctx.Response.Header.Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	// Headers are already on the wire once streaming starts; a mid-stream
	// failure can only truncate the body, so it is logged, not reported.
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		if _, err := job.Run(context.Background(), w); err != nil {
			return
		}
		_ = w.Flush()
	})
}

type tableInfo struct {
	Name    string            `json:"name"`
	Columns []tableColumnInfo `json:"columns"`
}

type tableColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Filterable bool   `json:"filterable"`
	Sortable   bool   `json:"sortable"`
	Match      string `json:"match,omitempty"`
}

func (s *Server) handleTables(ctx *fasthttp.RequestCtx) {
	tables := make([]tableInfo, 0)
	for _, name := range schema.Tables() {
		desc, err := schema.Describe(name)
		if err != nil {
			s.writeFailure(ctx, err)
			return
		}
		info := tableInfo{Name: desc.Name}
		for _, c := range desc.Columns {
			info.Columns = append(info.Columns, tableColumnInfo{
				Name:       c.Name,
				Type:       string(c.Type),
				Filterable: c.Filterable,
				Sortable:   c.Sortable,
				Match:      string(c.Match),
			})
		}
		tables = append(tables, info)
	}
	s.writeJSON(ctx, tables)
}

func (s *Server) handleOptions(ctx *fasthttp.RequestCtx) {
	table := string(ctx.QueryArgs().Peek("table"))
	opts, err := s.engine.Options(ctx, table)
	if err != nil {
		s.writeFailure(ctx, err)
		return
	}
	s.writeJSON(ctx, opts)
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	if err := s.pinger.Ping(ctx); err != nil {
		s.writeError(ctx, fasthttp.StatusServiceUnavailable, errorResponse{Error: "store unreachable", Retryable: true})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("ok")
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		s.slog.Error("failed to encode response", "error", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.Response.Header.SetContentType("application/json; charset=utf-8")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(body)
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, status int, resp errorResponse) {
	body, err := sonic.Marshal(resp)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.Response.Header.SetContentType("application/json; charset=utf-8")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}

func (s *Server) writeFailure(ctx *fasthttp.RequestCtx, err error) {
	status, resp := classifyFailure(err)
	if status == fasthttp.StatusInternalServerError {
		s.slog.Error("request failed", "path", string(ctx.Path()), "error", err)
	}
	s.writeError(ctx, status, resp)
}
