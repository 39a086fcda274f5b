package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/fiscaldata/treasury-query/src/config"
	"github.com/fiscaldata/treasury-query/src/engine"
	"github.com/fiscaldata/treasury-query/src/export"
	"github.com/fiscaldata/treasury-query/src/server"
	"github.com/fiscaldata/treasury-query/src/store"
)

func main() {
	w := os.Stdout

	// Set global logger with custom options
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
		}),
	))

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	mgr, err := store.NewManager(ctx, &store.Config{
		ConnString:       cfg.Store.ConnString,
		PoolSize:         cfg.Store.PoolSize,
		ExportPoolSize:   cfg.Store.ExportPoolSize,
		AcquireTimeout:   cfg.Store.AcquireTimeout,
		StatementTimeout: cfg.Store.StatementTimeout,
	})
	if err != nil {
		slog.Error("failed to connect to store", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	counter := store.NewCounter(mgr, store.CounterConfig{
		LargeTableRows:  cfg.Query.LargeTableRows,
		BoundedTimeout:  cfg.Query.BoundedCountTimeout,
		SampleProbeRows: cfg.Query.SampleProbeRows,
	})

	exporter := export.New(mgr, cfg.Export.BatchSize)

	eng := engine.New(engine.Config{
		PageSize:    cfg.Query.PageSize,
		MaxPageSize: cfg.Query.MaxPageSize,
		CacheTTL:    cfg.Cache.TTL,
		OptionsTTL:  cfg.Cache.OptionsTTL,
	}, mgr, counter, exporter)

	srv := server.New(&server.Config{Address: cfg.Server.Address}, eng, mgr)
	if err := srv.Start(); err != nil {
		slog.Error("failed to start HTTP server", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	slog.Info("treasury query service started", "address", cfg.Server.Address)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
}
