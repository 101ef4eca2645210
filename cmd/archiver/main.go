package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mkoehler/epex-archive/internal/archive"
	"github.com/mkoehler/epex-archive/internal/config"
	"github.com/mkoehler/epex-archive/internal/extract"
	"github.com/mkoehler/epex-archive/internal/ledger"
	"github.com/mkoehler/epex-archive/internal/reconcile"
	"github.com/mkoehler/epex-archive/internal/registry"
	"github.com/mkoehler/epex-archive/internal/store"
	"github.com/mkoehler/epex-archive/internal/validate"
	"github.com/mkoehler/epex-archive/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/archiver.yaml", "path to config file")
	flag.Parse()

	// Optional .env for credentials referenced as ${VAR} in the config.
	godotenv.Load()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting archiver",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"storage_backend", cfg.Storage.Backend,
		"sidecar_url", cfg.Fetcher.SidecarURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals; the run stops at the next key boundary.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Open storage
	var st store.Store
	switch cfg.Storage.Backend {
	case "postgres":
		logger.Info("connecting to database",
			"host", cfg.Storage.Postgres.Host,
			"port", cfg.Storage.Postgres.Port,
			"database", cfg.Storage.Postgres.Name,
		)
		st, err = store.OpenPostgres(ctx, cfg.Storage.Postgres)
	default:
		logger.Info("opening database", "path", cfg.Storage.Path)
		st, err = store.OpenSQLite(ctx, cfg.Storage.Path)
	}
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Build the registry from the market dictionaries
	reg, err := registry.New(cfg.Markets)
	if err != nil {
		logger.Error("invalid market dictionaries", "error", err)
		os.Exit(1)
	}

	validator, err := validate.New(cfg.Validation, logger)
	if err != nil {
		logger.Error("failed to build validator", "error", err)
		os.Exit(1)
	}

	extractor := extract.NewSidecarClient(
		cfg.Fetcher.SidecarURL,
		extract.WithTimeout(cfg.Fetcher.Timeout),
		extract.WithRetries(cfg.Fetcher.MaxRetries),
		extract.WithLogger(logger),
	)

	engine := reconcile.NewEngine(
		reconcile.Config{
			AuctionLookbackDays:    cfg.Run.AuctionLookbackDays,
			ContinuousLookbackDays: cfg.Run.ContinuousLookbackDays,
			SameRunRetries:         cfg.Run.SameRunRetries,
			Pace:                   cfg.Backoff.Pace,
			Backoff: reconcile.Policy{
				Base: cfg.Backoff.Base,
				Max:  cfg.Backoff.Max,
			},
		},
		reg,
		ledger.New(st, logger),
		validator,
		archive.New(st, logger),
		extractor,
		logger,
	)

	summary, err := engine.Run(ctx)
	if summary != nil {
		summary.Log(logger)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("run interrupted; committed keys are preserved")
			os.Exit(0)
		}
		logger.Error("run aborted", "error", err)
		os.Exit(1)
	}

	logger.Info("archiver finished")
}
