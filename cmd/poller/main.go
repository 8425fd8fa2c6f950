package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/api"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/config"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/db"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/logging"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/poller"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/realtime/gtfsrt"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/realtime/oasa"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/scheduler"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/store"
)

// backend is a store usable by both the poller and the read API
type backend interface {
	poller.Repository
	api.Repository
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewStructuredLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)
	logger.Info("config loaded",
		slog.String("store", cfg.Store),
		slog.String("source", cfg.Source),
		slog.Int("pairs", len(cfg.Stops)),
		slog.Duration("poll_interval", cfg.PollInterval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ═══════════════════════════════════════════════════════
	// Store: opened once, closed on every exit path
	// ═══════════════════════════════════════════════════════
	repo, err := openStore(ctx, cfg, logger)
	if err != nil {
		return logging.Fatal(logger, "failed to open store", err)
	}
	defer logging.SafeCloseWithLogging(repo, logger, "close_store")

	source := newSource(cfg, logger)
	p := poller.New(repo, source, cfg.Stops, cfg.RetentionDuration, logger)

	if cfg.RunOnce {
		_, err := p.RunOnce(ctx)
		return err
	}

	// ═══════════════════════════════════════════════════════
	// Read API (optional)
	// ═══════════════════════════════════════════════════════
	var srv *http.Server
	if cfg.HTTPAddr != "" {
		srv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewRouter(repo, cfg.CORSOrigins),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("read API listening", slog.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.LogError(logger, "read API stopped", err)
			}
		}()
	}

	// ═══════════════════════════════════════════════════════
	// Polling loop until SIGINT/SIGTERM
	// ═══════════════════════════════════════════════════════
	sched := scheduler.New(p, cfg.PollInterval, logger)
	if err := sched.Start(ctx); err != nil {
		return logging.Fatal(logger, "failed to start scheduler", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	sched.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.LogError(logger, "read API shutdown failed", err)
		}
	}

	logger.Info("goodbye")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.Store {
	case "postgres":
		pg, err := db.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case "memory":
		logger.Warn("using in-memory store; nothing is persisted")
		return store.NewMemoryStore(), nil
	default:
		sqlite, err := db.Connect(cfg.DatabasePath, logger)
		if err != nil {
			return nil, err
		}
		if err := sqlite.EnsureSchema(ctx); err != nil {
			sqlite.Close()
			return nil, err
		}
		return sqlite, nil
	}
}

func newSource(cfg *config.Config, logger *slog.Logger) poller.Source {
	if cfg.Source == "gtfsrt" {
		return gtfsrt.NewClient(cfg.GTFSTripUpdatesURL, cfg.FetchTimeout, cfg.PollInterval, logger)
	}
	return oasa.NewClient(cfg.OASAAPIURL, cfg.FetchTimeout, logger)
}
