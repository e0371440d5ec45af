// Package ratelimiter implements the per-domain sliding-window limiter
// from spec.md §3 (RateBucket) and §4.B. Enforcement is a precise
// timestamp deque — the only construction that can guarantee the
// testable property "no more than 15 acquire(domain) calls return
// within any 60-second window" (spec.md §8) — backed in parallel by a
// golang.org/x/time/rate.Limiter per domain so other subsystems can
// cheaply register non-blocking contributions to the same window (the
// "coordination hook" spec.md §4.B describes), the way
// utils/rate_limiter.HostRateLimiter keys a rate.Limiter per host.
package ratelimiter

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	// MaxRequestsPerWindow is the per-domain ceiling (spec.md §3/§4.B).
	MaxRequestsPerWindow = 15
	// Window is the sliding window duration.
	Window = 60 * time.Second
)

type domainBucket struct {
	mu         sync.Mutex
	timestamps []time.Time
	limiter    *rate.Limiter
}

// Limiter is a per-domain sliding-window rate limiter shared across
// all RSS tasks in the process.
type Limiter struct {
	mu         sync.RWMutex
	buckets    map[string]*domainBucket
	hitCounter prometheus.Counter
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*domainBucket)}
}

// SetMetrics wires a counter that Inc()s every time RecordRateLimitHit
// fires, so hosts can surface 429 pressure per domain-bucket set.
func (l *Limiter) SetMetrics(hitCounter prometheus.Counter) {
	l.hitCounter = hitCounter
}

func (l *Limiter) bucketFor(domain string) *domainBucket {
	l.mu.RLock()
	b, ok := l.buckets[domain]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[domain]; ok {
		return b
	}
	b = &domainBucket{
		limiter: rate.NewLimiter(rate.Every(Window/MaxRequestsPerWindow), MaxRequestsPerWindow),
	}
	l.buckets[domain] = b
	return b
}

// Acquire blocks until a request to domain is permitted under the
// 15-per-60s sliding window, or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	b := l.bucketFor(domain)

	for {
		b.mu.Lock()
		now := time.Now()
		b.timestamps = pruneOlderThan(b.timestamps, now.Add(-Window))

		if len(b.timestamps) < MaxRequestsPerWindow {
			b.timestamps = append(b.timestamps, now)
			b.mu.Unlock()
			b.limiter.Allow() // keep the shared token bucket roughly in sync
			return nil
		}

		wait := b.timestamps[0].Add(Window).Sub(now)
		b.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// AcquireForURL is a convenience wrapper that extracts the host from a
// URL string before acquiring.
func (l *Limiter) AcquireForURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	return l.Acquire(ctx, u.Hostname())
}

// RegisterExternalRequest lets another subsystem (an overlay widget
// that also hits the same domain, say) contribute a request to the
// window without blocking, so its traffic counts against the shared
// ceiling. Mirrors spec.md §4.B's "coordination hook".
func (l *Limiter) RegisterExternalRequest(domain string) {
	b := l.bucketFor(domain)
	b.mu.Lock()
	now := time.Now()
	b.timestamps = pruneOlderThan(b.timestamps, now.Add(-Window))
	b.timestamps = append(b.timestamps, now)
	b.mu.Unlock()
	b.limiter.Allow()
}

// RecordRateLimitHit is called when a domain responds with HTTP 429.
// It fills the window so subsequent Acquire calls pause for
// retryAfter (or 120s, spec.md §4.C's default), without touching the
// shared x/time/rate limiter's longer-term budget.
func (l *Limiter) RecordRateLimitHit(domain string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = 120 * time.Second
	}
	b := l.bucketFor(domain)
	b.mu.Lock()
	defer b.mu.Unlock()

	future := time.Now().Add(retryAfter - Window)
	b.timestamps = make([]time.Time, MaxRequestsPerWindow)
	for i := range b.timestamps {
		b.timestamps[i] = future
	}
	if l.hitCounter != nil {
		l.hitCounter.Inc()
	}
}

// RemainingRequests returns how many acquisitions are currently
// available for domain without blocking.
func (l *Limiter) RemainingRequests(domain string) int {
	b := l.bucketFor(domain)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timestamps = pruneOlderThan(b.timestamps, time.Now().Add(-Window))
	remaining := MaxRequestsPerWindow - len(b.timestamps)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// NextAvailableTime returns when the next Acquire for domain would
// succeed immediately.
func (l *Limiter) NextAvailableTime(domain string) time.Time {
	b := l.bucketFor(domain)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.timestamps = pruneOlderThan(b.timestamps, now.Add(-Window))
	if len(b.timestamps) < MaxRequestsPerWindow {
		return now
	}
	return b.timestamps[0].Add(Window)
}

func pruneOlderThan(timestamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(timestamps) && timestamps[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return timestamps
	}
	return append([]time.Time(nil), timestamps[i:]...)
}
