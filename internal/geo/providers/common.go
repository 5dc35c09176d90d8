// Package providers implements the upstream clients (TomTom geocoding,
// routing and traffic; OpenWeather weather and air quality). Every call goes
// through the same resilience path: rate-limit token, bounded-timeout HTTP
// request, retries with exponential backoff and jitter, and a per-provider
// circuit breaker.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rahulxs/geo-dashboard/internal/geo"
	"github.com/rahulxs/geo-dashboard/internal/ratelimit"
)

// BackoffConfig controls the retry schedule for transient failures.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// BreakerConfig controls the per-provider circuit breaker.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker to Open. Default: 5.
	ConsecutiveFailures uint32

	// Cooldown is how long the breaker stays Open before allowing a single
	// half-open probe. Default: 30 seconds.
	Cooldown time.Duration
}

// Options configures one provider client.
type Options struct {
	BaseURL string
	Backoff BackoffConfig
	Breaker BreakerConfig
	Limiter *ratelimit.Bucket
}

func (o *Options) applyDefaults(defaultBase string) {
	if o.BaseURL == "" {
		o.BaseURL = defaultBase
	}
	if o.Backoff.MaxRetries == 0 {
		o.Backoff.MaxRetries = 2
	} else if o.Backoff.MaxRetries < 0 {
		o.Backoff.MaxRetries = 0
	}
	if o.Backoff.InitialInterval <= 0 {
		o.Backoff.InitialInterval = 250 * time.Millisecond
	}
	if o.Backoff.MaxInterval <= 0 {
		o.Backoff.MaxInterval = 3 * time.Second
	}
}

// httpConfig bundles the shared HTTP client with resilience settings.
type httpConfig struct {
	client  *http.Client
	backoff BackoffConfig
	limiter *ratelimit.Bucket
}

var errNoHTTPClient = errors.New("providers: http client not configured")

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // single half-open probe
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("circuit state change", "provider", name, "from", from.String(), "to", to.String())
		},
	})
}

// doRequestWithResilience acquires a rate-limit token, executes the request
// through the circuit breaker, and retries transient failures (timeouts,
// resets, 5xx, 429) with exponential backoff and jitter. An open breaker
// fails fast with geo.ErrCircuitOpen without touching the network.
func doRequestWithResilience(
	ctx context.Context,
	cfg httpConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) (*http.Response, error) {
	if cfg.client == nil {
		return nil, errNoHTTPClient
	}

	var attempt int
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if cfg.limiter != nil {
			if err := cfg.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.client.Do(req)
			if execErr != nil {
				return nil, fmt.Errorf("%w: %v", geo.ErrUpstream, execErr)
			}

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				resp.Body.Close()
				return nil, fmt.Errorf("%w: status 429", geo.ErrUpstreamRateLimited)
			case resp.StatusCode >= 500:
				resp.Body.Close()
				return nil, fmt.Errorf("%w: status %d", geo.ErrUpstream, resp.StatusCode)
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				resp.Body.Close()
				return nil, fmt.Errorf("%w: unexpected status %d", geo.ErrUpstream, resp.StatusCode)
			}

			return resp, nil
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("%w: unexpected circuit breaker result", geo.ErrUpstream)
			}
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", geo.ErrCircuitOpen, err)
		}
		if !retryable(err) || attempt >= cfg.backoff.MaxRetries {
			return nil, err
		}

		timer := time.NewTimer(backoffDelay(cfg.backoff, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

// retryable reports whether a failure is worth a synchronous retry.
func retryable(err error) bool {
	return errors.Is(err, geo.ErrUpstream) || errors.Is(err, geo.ErrUpstreamRateLimited)
}

// backoffDelay doubles the initial interval per attempt, caps it at
// MaxInterval, and adds up to 50% jitter to avoid retry synchronization.
func backoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.InitialInterval) * math.Pow(2, float64(attempt)))
	if delay > cfg.MaxInterval {
		delay = cfg.MaxInterval
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay/2 + jitter + delay/4
}

// decodeJSON drains and closes the body after decoding into v.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding response: %v", geo.ErrUpstream, err)
	}
	return nil
}
