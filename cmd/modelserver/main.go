// Command modelserver accepts style preferences and outfit requests from the
// app and publishes each requested model video in the background.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/univ-capstone/modelvideo/internal/api"
	"github.com/univ-capstone/modelvideo/internal/app"
	"github.com/univ-capstone/modelvideo/internal/auth"
	"github.com/univ-capstone/modelvideo/internal/config"
	"github.com/univ-capstone/modelvideo/internal/logging"
	"github.com/univ-capstone/modelvideo/internal/upload"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	configPath := flag.String("config", "", "path to a YAML config file")
	dryRun := flag.Bool("dry-run", false, "use in-memory storage instead of Firebase")
	flag.Parse()

	cfg, err := config.New(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting model server", "version", api.Version, "data_dir", cfg.DataDir(), "port", cfg.Port())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logging.WithComponent(logger, "upload"), app.Options{Name: "modelserver", DryRun: *dryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	runner := upload.NewRunner(a.Service, a.Ledger, a.Producer, logging.WithComponent(logger, "runner"))
	go runner.Start(ctx)

	var authManager *auth.Manager
	if key := cfg.APISigningKey(); key != "" {
		authManager = auth.NewManager(key)
	} else {
		logger.Warn("no API signing key configured, requests are not authenticated")
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:        cfg.Port(),
		Service:     a.Service,
		Repository:  a.Ledger,
		Runner:      runner,
		Metrics:     a.Metrics,
		Auth:        authManager,
		CORSOrigins: cfg.CORSOrigins(),
		RateLimit:   cfg.RateLimit(),
		RateBurst:   cfg.RateBurst(),
		Logger:      logging.WithComponent(logger, "api"),
		StartTime:   startTime,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
