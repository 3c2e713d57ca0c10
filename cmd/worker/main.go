package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"videoswap/internal/bootstrap"
	"videoswap/internal/http/handlers"
	httpapi "videoswap/internal/http/httpapi"
	"videoswap/internal/infra"
	"videoswap/internal/jobs"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Build(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer svc.Close()

	var locker jobs.Locker
	if svc.Redis != nil {
		locker = jobs.NewRedisLocker(svc.Redis, "")
	} else {
		logger.Warn().Msg("worker: REDIS_URL not set, sweeps are not coordinated across workers")
	}

	sweeper, err := jobs.NewSweeper(jobs.SweeperOptions{
		Manager:       svc.Manager,
		Client:        svc.Render,
		Locker:        locker,
		Logger:        &logger,
		BatchSize:     cfg.SweepBatchSize,
		Concurrency:   cfg.SweepConcurrency,
		LockTTL:       cfg.SweepLockTTL,
		SubmitPending: true,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure sweeper")
	}

	app := handlers.NewApp(svc.Manager, svc.Catalog, &logger)
	app.Ready = svc.Ready
	ops := infra.NewHTTPServer(cfg.OpsPort, cfg, httpapi.NewOpsRouter(app))
	go func() {
		logger.Info().Str("addr", ops.Addr()).Msg("worker: ops server listening")
		if err := ops.Start(); err != nil {
			logger.Error().Err(err).Msg("worker: ops server failed")
		}
	}()

	if err := run(ctx, sweeper, cfg.SweepInterval, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("worker: ops shutdown failed")
	}
	logger.Info().Msg("worker: stopped")
}

// run ticks the sweeper until ctx is done. Ticks never overlap.
func run(ctx context.Context, sweeper *jobs.Sweeper, interval time.Duration, logger infra.Logger) error {
	logger.Info().Dur("interval", interval).Msg("worker: started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweeper.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if report := sweeper.Tick(ctx); report.Skipped {
				logger.Debug().Msg("worker: tick skipped, lock held elsewhere")
			}
		}
	}
}
