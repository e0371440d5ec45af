// Package feedhealth tracks per-feed failure counts with exponential
// backoff and JSON persistence, the Go port of
// original_source/sources/rss/health.py's FeedHealthTracker.
package feedhealth

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/basjohn/srpss-core/domain"
	"github.com/basjohn/srpss-core/utils/logger"
)

const (
	// MaxFailures is the consecutive-failure threshold past which
	// should_skip can return true.
	MaxFailures = 3
	// BackoffBase is the base backoff duration: skip_until = now +
	// BackoffBase * 2^(failures-1).
	BackoffBase = 60 * time.Second
	// ResetHours is how long since the last failure before a feed's
	// health entry is forgotten entirely.
	ResetHours = 24
)

// Tracker is a JSON-file-backed feed health tracker, safe for
// concurrent use.
type Tracker struct {
	mu   sync.Mutex
	file string
	now  func() time.Time // overridable in tests
	data map[string]domain.FeedHealthEntry
}

// New creates a Tracker persisting to file, loading any existing state.
// Per original_source/sources/rss/health.py's _load(), any failure to
// read or parse the file — missing, corrupt, wrong shape — is treated
// identically: start from an empty map, never fail construction.
func New(file string) *Tracker {
	t := &Tracker{file: file, now: time.Now, data: make(map[string]domain.FeedHealthEntry)}
	t.load()
	return t
}

func (t *Tracker) load() {
	raw, err := os.ReadFile(t.file)
	if err != nil {
		return
	}
	var data map[string]domain.FeedHealthEntry
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.SafeWarn("feedhealth: corrupt health file, starting empty", "file", t.file, "error", err)
		return
	}
	if data != nil {
		t.data = data
	}
}

func (t *Tracker) save() {
	raw, err := json.Marshal(t.data)
	if err != nil {
		logger.SafeWarn("feedhealth: failed to marshal health data", "error", err)
		return
	}
	if err := os.WriteFile(t.file, raw, 0o644); err != nil {
		logger.SafeWarn("feedhealth: failed to persist health file", "file", t.file, "error", err)
	}
}

// ShouldSkip reports whether feedURL is currently in its backoff
// window. An entry older than ResetHours since its last failure is
// forgotten as a side effect, exactly as the source does in should_skip.
func (t *Tracker) ShouldSkip(feedURL string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.data[feedURL]
	if !ok {
		return false
	}

	now := t.now()
	nowUnix := float64(now.Unix())

	if nowUnix-h.LastFailure > ResetHours*3600 {
		delete(t.data, feedURL)
		t.save()
		return false
	}

	if h.Failures >= MaxFailures && nowUnix < h.SkipUntil {
		return true
	}
	return false
}

// RecordSuccess forgets feedURL's health entry entirely — not merely
// resetting its counter — so that record_success ∘ record_failure = ∅
// holds exactly (spec.md §8).
func (t *Tracker) RecordSuccess(feedURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.data[feedURL]; ok {
		delete(t.data, feedURL)
		t.save()
	}
}

// RecordFailure increments feedURL's consecutive failure count and
// computes the next skip_until via exponential backoff
// (BackoffBase * 2^(failures-1)).
func (t *Tracker) RecordFailure(feedURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.data[feedURL]
	h.Failures++
	now := t.now()
	h.LastFailure = float64(now.Unix())

	backoff := BackoffBase * time.Duration(1<<uint(h.Failures-1))
	h.SkipUntil = float64(now.Add(backoff).Unix())

	t.data[feedURL] = h
	logger.SafeInfo("feedhealth: recorded failure", "feed", feedURL, "failures", h.Failures, "backoff", backoff)
	t.save()
}

// GetStatus returns a read-only snapshot of health state for the
// given feed URLs; unknown URLs report as healthy with zero failures.
func (t *Tracker) GetStatus(feedURLs []string) map[string]domain.FeedHealthStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := float64(t.now().Unix())
	out := make(map[string]domain.FeedHealthStatus, len(feedURLs))
	for _, u := range feedURLs {
		h, ok := t.data[u]
		if !ok {
			out[u] = domain.FeedHealthStatus{Healthy: true}
			continue
		}
		out[u] = domain.FeedHealthStatus{
			Healthy:   h.Failures < MaxFailures,
			Failures:  h.Failures,
			SkipUntil: h.SkipUntil,
			Skipped:   now < h.SkipUntil,
		}
	}
	return out
}
