package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hallmarket/courier/internal/api"
	"github.com/hallmarket/courier/internal/kv"
	"github.com/hallmarket/courier/internal/queue"
	"github.com/hallmarket/courier/internal/transmitter"
)

var (
	devMode    bool
	listenFlag string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the courier delivery service",
	Long:  `Start the delivery queue and its HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().BoolVar(&devMode, "dev", false, "Run with in-memory storage and testing intervals")
	serverCmd.Flags().StringVar(&listenFlag, "listen", "", "Override the API listen address")
}

func runServer() error {
	if devMode {
		cfg.Storage.Type = "memory"
		cfg.Queue.TestingMode = true
		if cfg.Logging.Level == "info" {
			cfg.Logging.Level = "debug"
		}
	}
	if listenFlag != "" {
		cfg.Server.Listen = listenFlag
	}

	logger := setupLogging()
	slog.SetDefault(logger)

	store, err := kv.Factory(cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to %s store: %w", store.Type(), err)
	}
	defer store.Close()

	var tx transmitter.Transmitter = transmitter.NewLogSink(logger, cfg.Transmitter.FailureRate)
	if cfg.Transmitter.Breaker {
		tx = transmitter.NewBreaker(tx, transmitter.DefaultBreakerConfig(), logger)
	}

	q := queue.New(cfg.QueueOptions(), store, tx, logger)
	if err := q.Start(); err != nil {
		return fmt.Errorf("failed to start queue: %w", err)
	}

	apiServer := api.NewServer(q, cfg.Server.Listen, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	logger.Info("courier started",
		"listen", cfg.Server.Listen,
		"storage", store.Type(),
		"transmitter", tx.Name(),
		"dev_mode", devMode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("API server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown incomplete", "error", err)
	}
	if err := q.Stop(); err != nil {
		logger.Warn("queue shutdown incomplete", "error", err)
	}

	logger.Info("courier stopped")
	return nil
}

func setupLogging() *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
