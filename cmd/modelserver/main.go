package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/modelserver/internal/config"
	"github.com/tjfontaine/modelserver/internal/telemetry"
	"github.com/tjfontaine/modelserver/pkg/modelserver"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default $MODELSERVER_CONFIG or ./config.yaml)")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := telemetry.NewLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("model server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, os.Stderr, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if terr := shutdownTracer(context.Background()); terr != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", terr.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := modelserver.New(
		modelserver.WithConfig(cfg),
		modelserver.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping model server")
	case serveErr = <-srv.Err():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer cancel()

	return errors.Join(serveErr, srv.Shutdown(shutdownCtx))
}
