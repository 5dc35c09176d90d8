package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowConsumesBurst(t *testing.T) {
	b := NewBucket(Config{Rate: 0.1, Burst: 2})

	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "burst exhausted, refill far away")
}

func TestWaitReturnsImmediatelyWithTokens(t *testing.T) {
	b := NewBucket(Config{Rate: 1, Burst: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, b.Wait(ctx))
}

func TestWaitBlocksUntilRefill(t *testing.T) {
	b := NewBucket(Config{Rate: 100, Burst: 1})
	require.True(t, b.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, b.Wait(ctx))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitTimesOut(t *testing.T) {
	b := NewBucket(Config{Rate: 0.1, Burst: 1})
	require.True(t, b.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := b.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimitTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRegistryReturnsSameBucket(t *testing.T) {
	r := NewRegistry(Config{Rate: 5, Burst: 2}, map[string]Config{
		"geocoder": {Rate: 1, Burst: 1},
	})

	assert.Same(t, r.Bucket("geocoder"), r.Bucket("geocoder"))
	assert.NotSame(t, r.Bucket("geocoder"), r.Bucket("router"))

	// Override applies to the named provider only.
	g := r.Bucket("geocoder")
	require.True(t, g.Allow())
	assert.False(t, g.Allow())

	d := r.Bucket("router")
	assert.True(t, d.Allow())
	assert.True(t, d.Allow())
}
