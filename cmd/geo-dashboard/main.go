package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/rahulxs/geo-dashboard/internal/api/http"
	"github.com/rahulxs/geo-dashboard/internal/cache"
	"github.com/rahulxs/geo-dashboard/internal/config"
	"github.com/rahulxs/geo-dashboard/internal/geo"
	"github.com/rahulxs/geo-dashboard/internal/geo/providers"
	"github.com/rahulxs/geo-dashboard/internal/ratelimit"
	"github.com/rahulxs/geo-dashboard/internal/scheduler"
	"github.com/rahulxs/geo-dashboard/internal/store"
	"github.com/rahulxs/geo-dashboard/internal/telemetry"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Per-provider rate limit buckets.
	limits := make(map[string]ratelimit.Config, len(cfg.ProviderLimits))
	for name, l := range cfg.ProviderLimits {
		limits[name] = ratelimit.Config{Rate: l.Rate, Burst: l.Burst}
	}
	buckets := ratelimit.NewRegistry(ratelimit.Config{
		Rate:  cfg.DefaultLimit.Rate,
		Burst: cfg.DefaultLimit.Burst,
	}, limits)

	metrics := telemetry.NewMetrics(nil)

	cacheStore := cache.New(cache.Config{
		TTL:                  cfg.CacheTTL,
		Grace:                cfg.CacheGrace,
		NegativeTTL:          cfg.CacheNegativeTTL,
		Capacity:             cfg.CacheCapacity,
		StaleWhileRevalidate: cfg.ServeStale,
		FetchTimeout:         cfg.HTTPTimeout,
	}, metrics.CacheHooks())

	backoff := providers.BackoffConfig{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialBackoff,
		MaxInterval:     cfg.MaxBackoff,
	}
	breaker := providers.BreakerConfig{
		ConsecutiveFailures: cfg.BreakerFailures,
		Cooldown:            cfg.BreakerCooldown,
	}
	opts := func(name, baseURL string) providers.Options {
		return providers.Options{
			BaseURL: baseURL,
			Backoff: backoff,
			Breaker: breaker,
			Limiter: buckets.Bucket(name),
		}
	}

	provs := geo.Providers{
		Geocoder: providers.NewTomTomGeocoder(httpClient, cfg.TomTomAPIKey, opts(geo.ProviderGeocoder, cfg.TomTomBaseURL)),
		Router:   providers.NewTomTomRouter(httpClient, cfg.TomTomAPIKey, opts(geo.ProviderRouter, cfg.TomTomBaseURL)),
		Traffic:  providers.NewTomTomTraffic(httpClient, cfg.TomTomAPIKey, opts(geo.ProviderTraffic, cfg.TomTomBaseURL)),
	}
	if cfg.OpenWeatherAPIKey != "" {
		provs.Weather = providers.NewOpenWeather(httpClient, cfg.OpenWeatherAPIKey, opts(geo.ProviderWeather, cfg.OpenWeatherBaseURL))
		provs.Air = providers.NewOpenWeatherAir(httpClient, cfg.OpenWeatherAPIKey, opts(geo.ProviderAir, cfg.OpenWeatherBaseURL))
	} else {
		slog.Warn("OPENWEATHER_API_KEY not set; weather and air providers disabled")
	}

	orch := geo.NewOrchestrator(cacheStore, provs, cfg.CoordPrecision, geo.WithObserver(metrics))

	// History store: Postgres when configured, in-memory otherwise.
	var (
		history  store.HistoryStore
		features store.FeatureFinder
	)
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		history, features = pg, pg
	} else {
		slog.Info("DATABASE_URL not set; using in-memory history store")
		mem := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)
		history, features = mem, mem
	}

	// Background jobs: cache sweep and tracked-place refresh.
	sched := scheduler.New(orch, cacheStore, cfg.TrackedPlaces, cfg.SweepInterval, cfg.RefreshInterval)
	if err := sched.Start(); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "geo-dashboard",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(metrics.Middleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "geo-dashboard",
			"cached":  cacheStore.Len(),
		})
	})

	// API routes.
	server := httpapi.NewServer(orch, history, features, cfg.RequestTimeout)
	server.RegisterRoutes(app)

	// Optional metrics listener.
	var metricsSrv *telemetry.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = telemetry.NewServer(cfg.MetricsAddr)
		metricsSrv.Start()
	}

	go func() {
		slog.Info("listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("fiber server stopped", "error", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("error during shutdown", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("error shutting down metrics server", "error", err)
		}
	}
}
