// Package ratelimit implements per-provider token buckets gating outbound
// upstream calls.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimitTimeout is returned when a caller's deadline elapses before a
// token becomes available.
var ErrRateLimitTimeout = errors.New("ratelimit: timed out waiting for token")

// Config configures one bucket.
type Config struct {
	// Rate is the refill rate in tokens per second. Default: 10.
	Rate float64

	// Burst is the bucket capacity. Default: 5.
	Burst int
}

// Bucket is a token bucket. Waiters sleep for the computed refill interval
// rather than spinning, so admission is FIFO-approximate within refill
// granularity.
type Bucket struct {
	rate  float64
	burst float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewBucket creates a bucket starting at full capacity.
func NewBucket(cfg Config) *Bucket {
	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Bucket{
		rate:   cfg.Rate,
		burst:  float64(cfg.Burst),
		tokens: float64(cfg.Burst),
		last:   time.Now(),
	}
}

// Allow consumes a token if one is available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done, in which case it
// returns ErrRateLimitTimeout wrapping the context error.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(ErrRateLimitTimeout, err)
		}

		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		needed := 1 - b.tokens
		wait := time.Duration(needed / b.rate * float64(time.Second))
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ErrRateLimitTimeout, ctx.Err())
		case <-timer.C:
		}
	}
}

// Tokens returns the current token count, after refill.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

func (b *Bucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.last)
	b.last = now

	b.tokens += elapsed.Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
}

// Registry holds one bucket per provider name.
type Registry struct {
	mu       sync.Mutex
	buckets  map[string]*Bucket
	defaults Config
	configs  map[string]Config
}

// NewRegistry creates a registry. Per-provider overrides win over defaults;
// unknown providers get a bucket with the default config on first use.
func NewRegistry(defaults Config, overrides map[string]Config) *Registry {
	return &Registry{
		buckets:  make(map[string]*Bucket),
		defaults: defaults,
		configs:  overrides,
	}
}

// Bucket returns the bucket for a provider, creating it on first use.
func (r *Registry) Bucket(provider string) *Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buckets[provider]; ok {
		return b
	}
	cfg := r.defaults
	if override, ok := r.configs[provider]; ok {
		cfg = override
	}
	b := NewBucket(cfg)
	r.buckets[provider] = b
	return b
}
