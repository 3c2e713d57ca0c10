// Package bootstrap wires the job store, rendering client and lifecycle
// manager shared by the api and worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"videoswap/internal/adapter/memstore"
	"videoswap/internal/adapter/repo"
	"videoswap/internal/catalog"
	"videoswap/internal/domain"
	"videoswap/internal/infra"
	"videoswap/internal/infra/credentials"
	"videoswap/internal/jobs"
	"videoswap/internal/providers/render"
	"videoswap/internal/storage"
)

// Services holds the long-lived collaborators of a process.
type Services struct {
	Repo        domain.JobRepository
	Pool        *pgxpool.Pool
	Credentials *credentials.Store
	Render      *render.Client
	Catalog     *catalog.Catalog
	Inputs      *storage.Fetcher
	Manager     *jobs.Manager
	Redis       *redis.Client
}

// Build connects to the configured store and constructs the manager.
// Call Close when done.
func Build(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Services, error) {
	s := &Services{}

	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		logger.Warn().Msg("bootstrap: using in-memory job store, state is lost on restart")
		s.Repo = memstore.New()
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.Pool = pool
		runner := infra.NewSQLRunner(pool, *logger)
		jobRepo := repo.NewJobRepository(runner)
		if err := jobRepo.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate render_jobs: %w", err)
		}
		s.Repo = jobRepo
		s.Credentials = credentials.NewStore(runner)
		if err := s.Credentials.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate integration_tokens: %w", err)
		}
	}

	apiKey, err := credentials.ResolveRenderAPIKey(ctx, cfg.RenderAPIKey, s.Credentials)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: failed to load render api key from store")
	}
	s.Render, err = render.NewClient(render.Options{
		APIKey:         apiKey,
		BaseURL:        cfg.RenderBaseURL,
		Logger:         logger,
		RequestTimeout: cfg.RenderTimeout,
		RateLimit:      cfg.RenderRatePerSecond,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("configure render client: %w", err)
	}
	if !s.Render.HasCredentials() {
		logger.Warn().Msg("bootstrap: render api key missing, provider calls will fail until one is stored")
	}

	if cfg.WorkflowCatalogPath != "" {
		s.Catalog, err = catalog.Load(cfg.WorkflowCatalogPath)
		if err != nil {
			s.Close()
			return nil, err
		}
		logger.Info().Int("workflows", s.Catalog.Len()).Str("path", cfg.WorkflowCatalogPath).Msg("bootstrap: workflow catalog loaded")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Inputs = storage.NewFetcher(fileStore, &http.Client{Timeout: cfg.RenderTimeout}, logger)

	opts := jobs.Options{
		Repo:   s.Repo,
		Client: s.Render,
		Inputs: s.Inputs,
		Logger: logger,
	}
	if s.Catalog != nil {
		opts.Workflows = s.Catalog
	}
	s.Manager, err = jobs.NewManager(opts)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Redis, err = infra.NewRedisClient(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Ready pings the database when one is configured.
func (s *Services) Ready(ctx context.Context) error {
	if s.Pool == nil {
		return nil
	}
	return s.Pool.Ping(ctx)
}

// Close releases pooled connections.
func (s *Services) Close() {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
