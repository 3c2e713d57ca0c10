package infra

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DATABASE_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfigMemoryDriverDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "")
	t.Setenv("SWEEP_CONCURRENCY", "")
	t.Setenv("RENDER_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverMemory {
		t.Fatalf("StoreDriver = %q, want memory", cfg.StoreDriver)
	}
	if cfg.SweepInterval != 10*time.Second {
		t.Fatalf("SweepInterval = %s, want 10s", cfg.SweepInterval)
	}
	if cfg.SweepConcurrency != 8 {
		t.Fatalf("SweepConcurrency = %d, want 8", cfg.SweepConcurrency)
	}
	if cfg.RenderBaseURL != "https://www.runninghub.ai" {
		t.Fatalf("RenderBaseURL mismatch: %q", cfg.RenderBaseURL)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "POSTGRES")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "3")
	t.Setenv("SWEEP_CONCURRENCY", "0")
	t.Setenv("RENDER_RATE_PER_SECOND", "2.5")
	t.Setenv("RENDER_API_KEY", "  key-123 ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("StoreDriver = %q, want postgres", cfg.StoreDriver)
	}
	if cfg.SweepInterval != 3*time.Second {
		t.Fatalf("SweepInterval = %s, want 3s", cfg.SweepInterval)
	}
	if cfg.SweepConcurrency != 1 {
		t.Fatalf("SweepConcurrency = %d, want clamp to 1", cfg.SweepConcurrency)
	}
	if cfg.RenderRatePerSecond != 2.5 {
		t.Fatalf("RenderRatePerSecond = %v, want 2.5", cfg.RenderRatePerSecond)
	}
	if cfg.RenderAPIKey != "key-123" {
		t.Fatalf("RenderAPIKey = %q, want trimmed", cfg.RenderAPIKey)
	}
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestLoadConfigAPISettings(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://app.example.com, ,https://admin.example.com ")
	t.Setenv("JWT_SECRET", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://admin.example.com" {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.APIPort != "8080" || cfg.APIRateLimitPerMinute != 120 {
		t.Fatalf("API defaults = %q/%d", cfg.APIPort, cfg.APIRateLimitPerMinute)
	}
	if err := cfg.RequireAPI(); err == nil {
		t.Fatalf("expected RequireAPI to demand JWT_SECRET")
	}
	cfg.JWTSecret = "s3cret"
	if err := cfg.RequireAPI(); err != nil {
		t.Fatalf("RequireAPI: %v", err)
	}
}
