package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProviderLimit is the token-bucket setting for one upstream provider.
type ProviderLimit struct {
	Rate  float64 // tokens per second
	Burst int
}

type AppConfig struct {
	TomTomAPIKey      string
	OpenWeatherAPIKey string

	// Optional endpoint overrides, mainly for tests.
	TomTomBaseURL      string
	OpenWeatherBaseURL string

	// Upstream HTTP behavior.
	HTTPTimeout     time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration

	// Rate limits, per provider, with a shared default.
	DefaultLimit   ProviderLimit
	ProviderLimits map[string]ProviderLimit

	// Cache behavior.
	CacheTTL         time.Duration
	CacheGrace       time.Duration
	CacheNegativeTTL time.Duration // 0 disables negative caching
	CacheCapacity    int
	ServeStale       bool

	// Coordinate rounding for cache keys, in decimal places.
	CoordPrecision int

	// Per-request budget enforced by the HTTP layer.
	RequestTimeout time.Duration

	// DatabaseURL selects the Postgres history store; empty runs in-memory.
	DatabaseURL string

	// In-memory store retention.
	StoreMaxHistory int
	StoreMaxAge     time.Duration

	// Scheduler.
	SweepInterval   time.Duration
	RefreshInterval time.Duration
	TrackedPlaces   []string

	Port        string
	MetricsAddr string // empty disables the metrics listener
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.TomTomAPIKey = os.Getenv("TOMTOM_API_KEY")
	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.TomTomBaseURL = os.Getenv("TOMTOM_BASE_URL")
	cfg.OpenWeatherBaseURL = os.Getenv("OPENWEATHER_BASE_URL")

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	cfg.MaxRetries = getenvInt("HTTP_MAX_RETRIES", 2)
	if cfg.InitialBackoff, err = getenvDuration("HTTP_INITIAL_BACKOFF", "250ms"); err != nil {
		return nil, err
	}
	if cfg.MaxBackoff, err = getenvDuration("HTTP_MAX_BACKOFF", "3s"); err != nil {
		return nil, err
	}
	cfg.BreakerFailures = uint32(getenvInt("BREAKER_FAILURES", 5))
	if cfg.BreakerCooldown, err = getenvDuration("BREAKER_COOLDOWN", "30s"); err != nil {
		return nil, err
	}

	cfg.DefaultLimit = ProviderLimit{
		Rate:  getenvFloat("RATE_LIMIT_RPS", 10),
		Burst: getenvInt("RATE_LIMIT_BURST", 5),
	}
	cfg.ProviderLimits = make(map[string]ProviderLimit)
	for _, name := range []string{"geocoder", "router", "weather", "air", "traffic"} {
		prefix := "RATE_LIMIT_" + strings.ToUpper(name)
		rate := getenvFloat(prefix+"_RPS", cfg.DefaultLimit.Rate)
		burst := getenvInt(prefix+"_BURST", cfg.DefaultLimit.Burst)
		if rate != cfg.DefaultLimit.Rate || burst != cfg.DefaultLimit.Burst {
			cfg.ProviderLimits[name] = ProviderLimit{Rate: rate, Burst: burst}
		}
	}

	if cfg.CacheTTL, err = getenvDuration("CACHE_TTL", "5m"); err != nil {
		return nil, err
	}
	if cfg.CacheGrace, err = getenvDuration("CACHE_GRACE", "1m"); err != nil {
		return nil, err
	}
	if cfg.CacheNegativeTTL, err = getenvDuration("CACHE_NEGATIVE_TTL", "0s"); err != nil {
		return nil, err
	}
	cfg.CacheCapacity = getenvInt("CACHE_CAPACITY", 4096)
	cfg.ServeStale = getenvBool("CACHE_SERVE_STALE", true)

	cfg.CoordPrecision = getenvInt("COORD_PRECISION", 5)
	if cfg.CoordPrecision < 0 || cfg.CoordPrecision > 9 {
		return nil, fmt.Errorf("COORD_PRECISION out of range: %d", cfg.CoordPrecision)
	}

	if cfg.RequestTimeout, err = getenvDuration("REQUEST_TIMEOUT", "15s"); err != nil {
		return nil, err
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 500)
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "24h"); err != nil {
		return nil, err
	}

	if cfg.SweepInterval, err = getenvDuration("SWEEP_INTERVAL", "1m"); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = getenvDuration("REFRESH_INTERVAL", "15m"); err != nil {
		return nil, err
	}
	if places := os.Getenv("TRACKED_PLACES"); places != "" {
		for _, p := range strings.Split(places, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.TrackedPlaces = append(cfg.TrackedPlaces, p)
			}
		}
	}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	v := getenvDefault(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
