package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("GOOGLE_API_BASE_URL", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.GoogleAPIBaseURL != "https://www.googleapis.com" {
		t.Fatalf("expected default google api base url, got %s", cfg.GoogleAPIBaseURL)
	}
	if cfg.TokenRefreshSkew != 5*time.Minute {
		t.Fatalf("expected default token refresh skew, got %s", cfg.TokenRefreshSkew)
	}
	if cfg.DefaultGranularity != 30 {
		t.Fatalf("expected default granularity, got %d", cfg.DefaultGranularity)
	}
	if cfg.DefaultTimezone != "Europe/Berlin" {
		t.Fatalf("expected default timezone, got %s", cfg.DefaultTimezone)
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("expected no CORS origins by default, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("PROVIDER_TIMEOUT", "3s")
	t.Setenv("DEFAULT_GRANULARITY_MINUTES", "15")
	t.Setenv("AVAILABILITY_MAX_DAYS", "14")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.ProviderTimeout != 3*time.Second {
		t.Fatalf("expected provider timeout override, got %s", cfg.ProviderTimeout)
	}
	if cfg.DefaultGranularity != 15 {
		t.Fatalf("expected granularity override, got %d", cfg.DefaultGranularity)
	}
	if cfg.AvailabilityMaxDays != 14 {
		t.Fatalf("expected max days override, got %d", cfg.AvailabilityMaxDays)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://admin.example.com" {
		t.Fatalf("expected trimmed CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
}
