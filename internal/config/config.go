package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Google Calendar OAuth / API configuration
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleAPIBaseURL   string
	GoogleTokenURL     string

	// Deadline for external provider calls. Freebusy reads beyond it
	// degrade to internal-only availability.
	ProviderTimeout    time.Duration
	EventCreateTimeout time.Duration
	TokenRefreshSkew   time.Duration
	RefreshLockTTL     time.Duration

	DefaultTimezone     string
	DefaultGranularity  int
	AvailabilityMaxDays int

	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		GoogleClientID:     getEnv("GOOGLE_OAUTH_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_OAUTH_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_OAUTH_REDIRECT_URI", ""),
		GoogleAPIBaseURL:   getEnv("GOOGLE_API_BASE_URL", "https://www.googleapis.com"),
		GoogleTokenURL:     getEnv("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),

		ProviderTimeout:    getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
		EventCreateTimeout: getEnvAsDuration("EVENT_CREATE_TIMEOUT", 15*time.Second),
		TokenRefreshSkew:   getEnvAsDuration("TOKEN_REFRESH_SKEW", 5*time.Minute),
		RefreshLockTTL:     getEnvAsDuration("REFRESH_LOCK_TTL", 30*time.Second),

		DefaultTimezone:     getEnv("DEFAULT_TIMEZONE", "Europe/Berlin"),
		DefaultGranularity:  getEnvAsInt("DEFAULT_GRANULARITY_MINUTES", 30),
		AvailabilityMaxDays: getEnvAsInt("AVAILABILITY_MAX_DAYS", 31),

		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS"),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 30),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
