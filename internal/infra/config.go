package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config represents worker configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	DatabaseURL string
	StoreDriver string

	RenderAPIKey        string
	RenderBaseURL       string
	RenderTimeout       time.Duration
	RenderRatePerSecond float64

	SweepInterval    time.Duration
	SweepBatchSize   int
	SweepConcurrency int
	SweepLockTTL     time.Duration
	RedisURL         string

	WorkflowCatalogPath string
	StoragePath         string

	APIPort               string
	JWTSecret             string
	CORSAllowedOrigins    []string
	APIRateLimitPerMinute int

	OpsPort          string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:                getEnv("APP_ENV", "development"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		StoreDriver:           strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		RenderAPIKey:          strings.TrimSpace(os.Getenv("RENDER_API_KEY")),
		RenderBaseURL:         getEnv("RENDER_BASE_URL", "https://www.runninghub.ai"),
		RenderTimeout:         time.Second * time.Duration(getEnvInt("RENDER_TIMEOUT_SECONDS", 60)),
		RenderRatePerSecond:   getEnvFloat("RENDER_RATE_PER_SECOND", 5),
		SweepInterval:         time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 10)),
		SweepBatchSize:        getEnvInt("SWEEP_BATCH_SIZE", 100),
		SweepConcurrency:      getEnvInt("SWEEP_CONCURRENCY", 8),
		SweepLockTTL:          time.Second * time.Duration(getEnvInt("SWEEP_LOCK_TTL_SECONDS", 55)),
		RedisURL:              os.Getenv("REDIS_URL"),
		WorkflowCatalogPath:   os.Getenv("WORKFLOW_CATALOG_PATH"),
		StoragePath:           getEnv("STORAGE_PATH", "./storage"),
		APIPort:               getEnv("PORT", "8080"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		CORSAllowedOrigins:    splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		APIRateLimitPerMinute: getEnvInt("API_RATE_LIMIT_PER_MINUTE", 120),
		OpsPort:               getEnv("OPS_PORT", "8081"),
		HTTPReadTimeout:       time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:      time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:       time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 1
	}

	return cfg, nil
}

// RequireAPI checks the settings only the public API needs.
func (c *Config) RequireAPI() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
