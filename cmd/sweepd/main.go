// Package main runs the dust sweeper service: the quote API, the credits
// ledger with its expiry job, and deposit ingestion.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"dust-sweeper/internal/app"
	"dust-sweeper/internal/config"
	"dust-sweeper/internal/logger"
)

func main() {
	configFile := flag.String("config", "", "Path to config file (default: ./config.yaml when present)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.NewLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	application := fx.New(
		fx.Supply(cfg),
		fx.Supply(log),

		app.Providers,

		// Lifecycle hooks
		fx.Invoke(startHousekeeping),
		fx.Invoke(startDepositIngestion),
		fx.Invoke(startHTTPServer),

		fx.WithLogger(func() fxevent.Logger {
			return fxevent.NopLogger
		}),
	)

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down application...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Stop(stopCtx); err != nil {
		log.Error("Failed to stop application gracefully", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
}
