package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_AllowsUpToWindowCeiling(t *testing.T) {
	l := New()
	ctx := context.Background()

	for i := 0; i < MaxRequestsPerWindow; i++ {
		require.NoError(t, l.Acquire(ctx, "example.com"))
	}
	assert.Equal(t, 0, l.RemainingRequests("example.com"))
}

func TestAcquire_BlocksUntilContextCancelled(t *testing.T) {
	l := New()
	ctx := context.Background()
	for i := 0; i < MaxRequestsPerWindow; i++ {
		require.NoError(t, l.Acquire(ctx, "example.com"))
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(cancelCtx, "example.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemainingRequests_IndependentPerDomain(t *testing.T) {
	l := New()
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, "a.com"))
	assert.Equal(t, MaxRequestsPerWindow-1, l.RemainingRequests("a.com"))
	assert.Equal(t, MaxRequestsPerWindow, l.RemainingRequests("b.com"))
}

func TestRecordRateLimitHit_FillsWindowAndIncrementsMetric(t *testing.T) {
	l := New()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_hits_total"})
	reg.MustRegister(counter)
	l.SetMetrics(counter)

	l.RecordRateLimitHit("example.com", 5*time.Second)
	assert.Equal(t, 0, l.RemainingRequests("example.com"))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, float64(1), families[0].Metric[0].GetCounter().GetValue())
}

func TestNextAvailableTime_ImmediateWhenUnderCeiling(t *testing.T) {
	l := New()
	now := time.Now()
	available := l.NextAvailableTime("fresh.com")
	assert.False(t, available.After(now.Add(time.Second)))
}

func TestAcquireForURL_ParsesHostname(t *testing.T) {
	l := New()
	require.NoError(t, l.AcquireForURL(context.Background(), "https://example.com/image.jpg"))
	assert.Equal(t, MaxRequestsPerWindow-1, l.RemainingRequests("example.com"))
}
