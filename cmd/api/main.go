package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/werkhub/booking-engine/internal/api/router"
	"github.com/werkhub/booking-engine/internal/availability"
	"github.com/werkhub/booking-engine/internal/bookings"
	appconfig "github.com/werkhub/booking-engine/internal/config"
	"github.com/werkhub/booking-engine/internal/connections"
	"github.com/werkhub/booking-engine/internal/gcal"
	"github.com/werkhub/booking-engine/internal/observability/metrics"
	"github.com/werkhub/booking-engine/internal/schedule"
	"github.com/werkhub/booking-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to reach database", "error", err)
		os.Exit(1)
	}

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to reach redis", "error", err)
		os.Exit(1)
	}

	engineMetrics := metrics.NewEngineMetrics(prometheus.DefaultRegisterer)

	calendarClient := gcal.NewClient(gcal.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		APIBaseURL:   cfg.GoogleAPIBaseURL,
		TokenURL:     cfg.GoogleTokenURL,
		Timeout:      cfg.ProviderTimeout,
	}, logger)

	connectionStore := connections.NewStore(pool, logger)
	tokenManager := connections.NewManager(connectionStore, calendarClient, rdb, connections.ManagerConfig{
		RefreshSkew: cfg.TokenRefreshSkew,
		LockTTL:     cfg.RefreshLockTTL,
	}, logger)
	tokenManager.SetObserver(engineMetrics)

	scheduleStore := schedule.NewStore(rdb)
	bookingRepo := bookings.NewRepository(pool)

	availabilityService := availability.NewService(
		bookingRepo, tokenManager, calendarClient, scheduleStore,
		logger, availability.ServiceConfig{
			DefaultTimezone:    cfg.DefaultTimezone,
			DefaultGranularity: cfg.DefaultGranularity,
			MaxDays:            cfg.AvailabilityMaxDays,
		})
	availabilityService.SetObserver(engineMetrics)

	bookingGuard := bookings.NewGuard(
		bookingRepo, availabilityService, tokenManager, calendarClient,
		logger, bookings.GuardConfig{EventCreateTimeout: cfg.EventCreateTimeout})
	bookingGuard.SetObserver(engineMetrics)

	successURL := ""
	if cfg.PublicBaseURL != "" {
		successURL = cfg.PublicBaseURL + "/calendar-connected"
	}
	connectionsHandler := connections.NewHandler(
		connectionStore, calendarClient, cfg.GoogleRedirectURI, successURL, logger)

	routerCfg := &router.Config{
		Logger:              logger,
		AvailabilityHandler: availability.NewHandler(availabilityService, logger),
		BookingsHandler:     bookings.NewHandler(bookingGuard, bookingRepo, logger),
		ScheduleHandler:     schedule.NewHandler(scheduleStore, logger, cfg.DefaultTimezone, cfg.DefaultGranularity),
		ConnectionsHandler:  connectionsHandler,
		MetricsHandler:      promhttp.Handler(),
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerSecond:  cfg.RateLimitPerSecond,
		RateLimitBurst:      cfg.RateLimitBurst,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Drain background calendar mirror work before exiting.
	bookingGuard.Wait()

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
