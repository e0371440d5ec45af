// Package downloader is the Go port of original_source/sources/rss/downloader.py:
// the only component that actually performs network I/O for the RSS
// Coordinator. Every call observes the shutdown predicate before
// touching the network, acquires the per-domain rate limiter, and
// reports transient failures to the Feed Health tracker, per spec.md
// §4.C.
package downloader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/basjohn/srpss-core/config"
	"github.com/basjohn/srpss-core/domain"
	"github.com/basjohn/srpss-core/internal/feedhealth"
	"github.com/basjohn/srpss-core/internal/feedparser"
	"github.com/basjohn/srpss-core/internal/ratelimiter"
	"github.com/basjohn/srpss-core/utils"
	"github.com/basjohn/srpss-core/utils/errors"
	"github.com/basjohn/srpss-core/utils/logger"
)

const (
	// retryBackoff is the pause before the single retry on a transient
	// network error, per spec.md §4.C.
	retryBackoff = 2 * time.Second
	// rateLimitPause is the default pause applied to a domain after an
	// HTTP 429, when the response carries no Retry-After header.
	rateLimitPause = 120 * time.Second
	// maxImageBytes ceilings a single image download; feeds have served
	// multi-hundred-MB "images" by accident or by malice.
	maxImageBytes = 25 * 1024 * 1024
	// maxFeedBytes ceilings an RSS/JSON response body.
	maxFeedBytes = 10 * 1024 * 1024

	userAgent = "srpss-core/1.0 (+screensaver image source)"
)

// ShutdownPredicate reports whether the engine is shutting down. Async
// work checks this between units of work rather than being cancelled
// out from under it (spec.md §4.C/§4.J).
type ShutdownPredicate func() bool

// Downloader fetches RSS/JSON feed documents and image bytes on behalf
// of the RSS Coordinator, enforcing rate limits, robots.txt, SSRF
// protection, and feed-health bookkeeping along the way.
type Downloader struct {
	client       *http.Client
	limiter      *ratelimiter.Limiter
	health       *feedhealth.Tracker
	robots       *robotsCache
	shuttingDown ShutdownPredicate
	validateURL  func(*url.URL) error

	imageGroup singleflight.Group
}

// New builds a Downloader. limiter and health are shared with the RSS
// Coordinator; shuttingDown is typically domain.EngineState.ShuttingDownPredicate
// bound to the engine's current state.
func New(cfg *config.HTTPConfig, limiter *ratelimiter.Limiter, health *feedhealth.Tracker, shuttingDown ShutdownPredicate) *Downloader {
	client := utils.SecureHTTPClientWithConfig(cfg)
	return NewWithDeps(client, newRobotsCache(client), limiter, health, shuttingDown, utils.ValidateURL)
}

// NewWithDeps builds a Downloader from explicit dependencies, the way
// NewRobotsTxtGatewayWithDeps does — primarily so tests can substitute
// an httptest.Server-backed client and a validateURL that permits
// loopback addresses the production SSRF check would reject.
func NewWithDeps(client *http.Client, robots *robotsCache, limiter *ratelimiter.Limiter, health *feedhealth.Tracker, shuttingDown ShutdownPredicate, validateURL func(*url.URL) error) *Downloader {
	if shuttingDown == nil {
		shuttingDown = func() bool { return false }
	}
	if validateURL == nil {
		validateURL = func(*url.URL) error { return nil }
	}
	return &Downloader{
		client:       client,
		limiter:      limiter,
		health:       health,
		robots:       robots,
		shuttingDown: shuttingDown,
		validateURL:  validateURL,
	}
}

// FetchRSS fetches requestURL and parses it as RSS/Atom, reporting
// results under originalURL's identity in the Feed Health tracker.
func (d *Downloader) FetchRSS(ctx context.Context, requestURL, originalURL string, max int) ([]domain.ParsedEntry, error) {
	raw, err := d.fetchBytes(ctx, requestURL, originalURL, maxFeedBytes)
	if err != nil {
		return nil, err
	}
	return feedparser.ParseRSS(raw, originalURL, max), nil
}

// FetchJSON fetches requestURL and parses it as a Flickr/Reddit JSON
// feed, reporting results under originalURL's identity.
func (d *Downloader) FetchJSON(ctx context.Context, requestURL, originalURL string, max int) ([]domain.ParsedEntry, error) {
	raw, err := d.fetchBytes(ctx, requestURL, originalURL, maxFeedBytes)
	if err != nil {
		return nil, err
	}
	return feedparser.ParseJSON(raw, originalURL, max), nil
}

// fetchBytes performs the shutdown check, rate-limit acquire, robots.txt
// gate, and single-retry GET shared by FetchRSS/FetchJSON. health, when
// non-nil, is updated on terminal failure; the originalURL identity is
// used for that bookkeeping even when requestURL has been rewritten
// (spec.md §4.A's reddit .rss -> .json rewrite).
func (d *Downloader) fetchBytes(ctx context.Context, requestURL, originalURL string, limit int64) ([]byte, error) {
	if d.shuttingDown() {
		return nil, errors.ErrShuttingDown
	}

	u, err := url.Parse(requestURL)
	if err != nil {
		return nil, errors.NewInvalidInputError("downloader", "Downloader", "fetchBytes", map[string]interface{}{"url": requestURL})
	}
	if err := d.validateURL(u); err != nil {
		return nil, err
	}

	if err := d.limiter.Acquire(ctx, u.Hostname()); err != nil {
		return nil, err
	}

	if allowed, err := d.robots.allowed(ctx, u, userAgent); err == nil && !allowed {
		d.recordFailure(originalURL)
		return nil, fmt.Errorf("disallowed by robots.txt: %s", requestURL)
	}

	body, retryAfter, err := d.get(ctx, u, limit)
	if err != nil {
		if retryAfter > 0 {
			d.limiter.RecordRateLimitHit(u.Hostname(), retryAfter)
		}
		d.recordFailure(originalURL)
		return nil, err
	}

	d.recordSuccess(originalURL)
	return body, nil
}

// get issues a single GET with one retry on transient network errors
// (spec.md §4.C), returning the response body, or a non-zero retryAfter
// when the response was HTTP 429.
func (d *Downloader) get(ctx context.Context, u *url.URL, limit int64) (body []byte, retryAfter time.Duration, err error) {
	body, retryAfter, err = d.doGet(ctx, u, limit)
	if err == nil || retryAfter > 0 {
		return body, retryAfter, err
	}
	if _, transient := err.(*url.Error); !transient {
		// Non-2xx statuses and oversize bodies are final; only transport
		// errors from client.Do are retried.
		return body, retryAfter, err
	}

	timer := time.NewTimer(retryBackoff)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, 0, ctx.Err()
	case <-timer.C:
	}
	if d.shuttingDown() {
		return nil, 0, errors.ErrShuttingDown
	}
	return d.doGet(ctx, u, limit)
}

func (d *Downloader) doGet(ctx context.Context, u *url.URL, limit int64) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("rate limited: %s", u.Host)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, u.Host)
	}

	reader := io.LimitReader(resp.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, 0, err
	}
	if int64(len(data)) > limit {
		return nil, 0, fmt.Errorf("response from %s exceeded %d bytes", u.Host, limit)
	}
	return data, 0, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return rateLimitPause
	}
	if seconds, err := time.ParseDuration(header + "s"); err == nil && seconds > 0 {
		return seconds
	}
	return rateLimitPause
}

func (d *Downloader) recordFailure(feedURL string) {
	if d.health != nil {
		d.health.RecordFailure(feedURL)
	}
}

func (d *Downloader) recordSuccess(feedURL string) {
	if d.health != nil {
		d.health.RecordSuccess(feedURL)
	}
}

// hashedImageName returns a content-addressed filename: md5(url) plus
// the URL path's extension lower-cased, taken only when the dot-suffix
// is at most six characters long (default .jpg). diskcache.CachePath
// keeps the extension's case and length as given, so the two names can
// differ for the same URL.
func hashedImageName(imageURL string) string {
	sum := md5.Sum([]byte(imageURL))
	hash := hex.EncodeToString(sum[:])

	ext := ".jpg"
	if u, err := url.Parse(imageURL); err == nil {
		if dot := strings.LastIndex(u.Path, "."); dot != -1 && len(u.Path)-dot <= 6 {
			ext = strings.ToLower(u.Path[dot:])
		}
	}
	return hash + ext
}

func safeWarn(ctx context.Context, msg string, args ...any) {
	logger.SafeWarnContext(ctx, msg, args...)
}
