package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"dust-sweeper/internal/api"
	"dust-sweeper/internal/app"
	"dust-sweeper/internal/config"
	"dust-sweeper/internal/credits"
	"dust-sweeper/internal/evm"
	"dust-sweeper/internal/ingestion"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/messaging"
	"dust-sweeper/internal/quotestore"
)

const (
	quoteCleanupSchedule = "@every 1h"
	limiterCleanupPeriod = 5 * time.Minute
)

// startHousekeeping schedules credit expiry and quote cleanup.
func startHousekeeping(lc fx.Lifecycle, cfg *config.Config, ledger *credits.Ledger, qs *quotestore.Store, log *logger.Logger) error {
	job, err := credits.NewExpiryJob(ledger, cfg.Credits.ExpirySchedule, log)
	if err != nil {
		return err
	}

	quotes := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := quotes.AddFunc(quoteCleanupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := qs.Cleanup(ctx)
		if err != nil {
			log.Error("Quote cleanup failed", zap.Error(err))
			return
		}
		log.Debug("Expired quotes removed", zap.Int("count", n))
	}); err != nil {
		return fmt.Errorf("schedule quote cleanup: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			job.Start()
			quotes.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			<-quotes.Stop().Done()
			return job.Stop(ctx)
		},
	})
	return nil
}

// startDepositIngestion runs the deposit runner over the enabled sources.
func startDepositIngestion(lc fx.Lifecycle, cfg *config.Config, ledger *credits.Ledger, verifier *evm.DepositVerifier, stores *app.Stores, log *logger.Logger) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
		ws     *evm.WSClientImpl
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())

			var srcs []ingestion.DepositSource
			if cfg.NATS.Enabled {
				srcs = append(srcs, messaging.NewDepositConsumer(&cfg.NATS, log))
			}
			if verifier != nil && cfg.EVM.DepositWSURL != "" {
				var err error
				ws, err = evm.NewWSClient(runCtx, cfg.EVM.DepositWSURL, nil, log)
				if err != nil {
					cancel()
					return fmt.Errorf("connect deposit websocket: %w", err)
				}
				srcOpts := []ingestion.ChainSourceOption{ingestion.WithSourceLogger(log)}
				if cfg.EVM.BackfillMaxRange > 0 {
					reader := evm.NewHTTPClient(cfg.EVM.DepositRPCURL, evm.WithTimeout(cfg.EVM.RPCTimeout))
					srcOpts = append(srcOpts, ingestion.WithBackfill(reader, stores.Progress, cfg.EVM.BackfillMaxRange))
				}
				srcs = append(srcs, ingestion.NewChainDepositSource(ws, verifier, srcOpts...))
			}
			if len(srcs) == 0 {
				log.Info("Deposit ingestion disabled")
				cancel()
				return nil
			}

			opts := ingestion.DepositRunnerOptions{Sources: srcs, Ledger: ledger, Logger: log}
			if verifier != nil {
				opts.Verifier = verifier
			}
			runner := ingestion.NewDepositRunner(opts)

			done = make(chan struct{})
			go func() {
				defer close(done)
				if err := runner.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("Deposit ingestion stopped", zap.Error(err))
				}
			}()
			log.Info("Deposit ingestion started", zap.Int("sources", len(srcs)))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if ws != nil {
				if err := ws.Close(); err != nil {
					log.Warn("Deposit websocket close failed", zap.Error(err))
				}
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, cfg *config.Config, srv *api.Server, log *logger.Logger) {
	server := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	cleanupCtx, stopCleanup := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			srv.StartLimiterCleanup(cleanupCtx, limiterCleanupPeriod)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("HTTP server error", zap.Error(err))
				}
			}()
			log.Info("HTTP server started", zap.String("addr", cfg.App.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopCleanup()
			log.Info("Stopping HTTP server...")
			return server.Shutdown(ctx)
		},
	})
}
