package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"catalogsync/config"
	"catalogsync/internal/database"
	"catalogsync/internal/models"
	"catalogsync/internal/pipeline"
	"catalogsync/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "catalogsync",
		Short:         "Ingest rental catalog feeds and reconcile them into storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newIngestCmd(), newServeCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithField("level", level).Warn("Unknown LOG_LEVEL, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// app holds what every subcommand needs.
type app struct {
	config   *config.Config
	logger   *logrus.Logger
	store    database.StorageBackend
	pipeline *pipeline.Pipeline
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)

	lookups, err := config.LoadLookups(cfg.Ingest.LookupTablesPath)
	if err != nil {
		return nil, err
	}

	store, err := database.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}

	p := pipeline.New(cfg, store, lookups, logger)
	if cfg.Telegram.Enabled {
		p.SetNotifier(telegram.NewService(&models.TelegramConfig{
			IsEnabled: true,
			BotToken:  cfg.Telegram.BotToken,
			ChatID:    cfg.Telegram.ChatID,
		}, logger))
	}

	logger.WithFields(logrus.Fields{
		"backend": cfg.Storage.Backend,
		"workers": cfg.Ingest.Workers,
	}).Debug("Initialized")

	return &app{config: cfg, logger: logger, store: store, pipeline: p}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Error("Failed to close storage")
	}
}
