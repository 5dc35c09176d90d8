// Package telemetry exposes Prometheus metrics for the cache and providers.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rahulxs/geo-dashboard/internal/cache"
)

// Metrics holds all Prometheus metrics for the dashboard.
type Metrics struct {
	// Cache metrics
	CacheHits      *prometheus.CounterVec
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheRefreshes prometheus.Counter
	CacheEntries   prometheus.Gauge

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics on the given registry, or on the default
// registry when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geodash_cache_hits_total",
			Help: "Cache hits, labeled fresh or stale.",
		}, []string{"freshness"}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "geodash_cache_misses_total",
			Help: "Cache misses that triggered an upstream fetch.",
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "geodash_cache_evictions_total",
			Help: "Entries evicted by TTL sweep or capacity pressure.",
		}),
		CacheRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "geodash_cache_refreshes_total",
			Help: "Background stale-while-revalidate refreshes.",
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "geodash_cache_entries",
			Help: "Current number of cached entries.",
		}),
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geodash_provider_requests_total",
			Help: "Upstream provider fetches.",
		}, []string{"provider"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geodash_provider_errors_total",
			Help: "Upstream provider failures by kind.",
		}, []string{"provider", "kind"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geodash_provider_latency_seconds",
			Help:    "Upstream provider fetch latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geodash_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geodash_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// CacheHooks wires the metrics into cache.Store callbacks.
func (m *Metrics) CacheHooks() cache.Hooks {
	return cache.Hooks{
		OnHit: func(_ string, stale bool) {
			if stale {
				m.CacheHits.WithLabelValues("stale").Inc()
			} else {
				m.CacheHits.WithLabelValues("fresh").Inc()
			}
		},
		OnMiss: func(string) {
			m.CacheMisses.Inc()
		},
		OnEvict: func(string) {
			m.CacheEvictions.Inc()
		},
		OnRefresh: func(string) {
			m.CacheRefreshes.Inc()
		},
		OnSize: func(entries int) {
			m.CacheEntries.Set(float64(entries))
		},
	}
}

// Middleware records every HTTP request by matched route and status.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		route := c.Route().Path

		m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		return err
	}
}

// ObserveProvider records one provider fetch.
func (m *Metrics) ObserveProvider(provider string, start time.Time, failureKind string) {
	m.ProviderRequests.WithLabelValues(provider).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if failureKind != "" {
		m.ProviderErrors.WithLabelValues(provider, failureKind).Inc()
	}
}

// Server serves /metrics on its own listener.
type Server struct {
	srv *http.Server
}

// NewServer builds a metrics server for the given address.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start runs the listener in the background.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
