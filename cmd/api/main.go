package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"videoswap/internal/bootstrap"
	"videoswap/internal/http/handlers"
	httpapi "videoswap/internal/http/httpapi"
	"videoswap/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireAPI(); err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("component", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Build(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer svc.Close()

	app := handlers.NewApp(svc.Manager, svc.Catalog, &logger)
	app.Ready = svc.Ready

	router := httpapi.NewRouter(app, logger, httpapi.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:      cfg.APIRateLimitPerMinute,
		RatePer:        time.Minute,
	})
	server := infra.NewHTTPServer(cfg.APIPort, cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.APIPort)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
