package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: the second call waits roughly 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://example.test/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://example.test/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDifferentHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.test/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.test/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.False(t, l.Enabled())
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.test"))
	}

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "https://example.test"))
}

func TestLimiterWaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://example.test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, l.Wait(ctx, "https://example.test"))
}
