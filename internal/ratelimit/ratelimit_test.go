package ratelimit_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/QUIC-Lab/quic-lab/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_noOp(t *testing.T) {
	l := ratelimit.New(0, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var n atomic.Int64
	for i := 0; i < 1000; i++ {
		require.NoError(t, l.Acquire(ctx))
		n.Add(1)
	}

	assert.EqualValues(t, 1000, n.Load())
}

func TestLimiter_burstThenSteadyRate(t *testing.T) {
	const rps = 20.0
	const burst = 5

	l := ratelimit.New(rps, burst)

	ctx := context.Background()
	start := time.Now()

	// The first `burst` acquisitions should be effectively free.
	for i := 0; i < burst; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// The next acquisitions are rate-limited; 10 more tokens at 20/s
	// should take at least ~450ms.
	start = time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}
