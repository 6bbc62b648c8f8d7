package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outbox/internal/config"
	"outbox/internal/constants"
	"outbox/internal/database"
	"outbox/internal/network"
	"outbox/internal/queue"
	"outbox/internal/retry"
	"outbox/internal/service"
	"outbox/internal/tracing"
	"outbox/pkg/gateway"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes message identifiers)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("outboxd %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting outboxd")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled")
	} else {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	}

	tracingManager := tracing.NewManager(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// The database can be briefly unavailable right after boot (journal
	// recovery, slow disk); retry init with backoff before giving up.
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultDatabaseBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultDatabaseMaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	store := queue.NewStore(db, cfg.Retry, logger)
	store.Start(ctx)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("failed to restore queue: %w", err)
	}

	client := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.Token,
		time.Duration(cfg.Gateway.TimeoutSec)*time.Second)

	monitor := network.NewMonitor(client,
		time.Duration(cfg.Network.PollIntervalSec)*time.Second, cfg.Network.Metered, logger)

	processor := service.NewProcessor(store, client, client, monitor, service.Options{
		ProcessInterval:    time.Duration(cfg.Queue.ProcessIntervalSec) * time.Second,
		MaxConcurrentSends: cfg.Queue.MaxConcurrentSends,
		SendTimeout:        time.Duration(cfg.Queue.SendTimeoutSec) * time.Second,
		UploadTimeout:      time.Duration(cfg.Queue.UploadTimeoutSec) * time.Second,
	}, logger)

	monitor.Start(ctx)
	defer monitor.Stop()

	if cfg.Gateway.WebsocketEnabled {
		watcher := network.NewGatewayWatcher(client.WebsocketURL(), cfg.Gateway.Token, monitor, logger)
		go watcher.Run(ctx)
		logger.Info("Gateway websocket watcher started")
	}

	processor.Start(ctx)
	defer processor.Stop()

	server := NewServer(cfg, store, processor, monitor, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	// Drain in-memory state to disk before exit so nothing queued is lost.
	store.Flush()

	logger.Info("Server shutdown completed")
	return nil
}
