// Package rsscoordinator is the orchestrator described in spec.md §4.F:
// it owns the per-pass budget computation and feed-priority ordering,
// drives the Downloader and Feed Health tracker feed-by-feed, and
// inserts newly downloaded images into the Disk Cache. Grounded on
// original_source/sources/rss/coordinator.py (the load_feeds/
// load_async/refresh_single_feed split) and its sibling constants.py
// for the budget and priority constants.
package rsscoordinator

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basjohn/srpss-core/domain"
	"github.com/basjohn/srpss-core/internal/diskcache"
	"github.com/basjohn/srpss-core/internal/events"
	"github.com/basjohn/srpss-core/internal/feedhealth"
	"github.com/basjohn/srpss-core/internal/feedparser"
	"github.com/basjohn/srpss-core/utils/logger"
	"github.com/basjohn/srpss-core/utils/security"
)

// urlValidator gates feed URLs from configuration before any of them
// are dialed (spec.md §4.F). It is deliberately a single shared,
// stateless instance: URLSecurityValidator carries no per-request state.
var urlValidator = security.NewURLSecurityValidator()

// State is the coordinator's own small state machine, independent of
// the engine's (spec.md §4.F vs §4.J).
type State int

const (
	Idle State = iota
	Loading
	Loaded
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Loading:
		return "Loading"
	case Loaded:
		return "Loaded"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

const (
	// TargetTotalImages is the cache+new-downloads ceiling a pass aims
	// for (original_source/sources/rss/constants.py TARGET_TOTAL_IMAGES).
	TargetTotalImages = 50
	// MinPerFeed/MaxPerFeed clamp the per-feed download allowance.
	MinPerFeed = 1
	MaxPerFeed = 3
	// MinCacheBeforeCleanup gates the post-pass disk_cache.cleanup() call.
	MinCacheBeforeCleanup = 20
	// MaxRedditFeedsPerPass caps Reddit feeds regardless of priority order.
	MaxRedditFeedsPerPass = 2
)

// sourcePriority mirrors constants.py's SOURCE_PRIORITY: higher score
// is processed earlier. Domains not listed score 50.
var sourcePriority = map[string]int{
	"bing.com":      95,
	"flickr.com":    90,
	"wikimedia.org": 85,
	"nasa.gov":      75,
	"reddit.com":    10,
}

const defaultPriority = 50

func priorityFor(feedURL string) int {
	lower := strings.ToLower(feedURL)
	for host, score := range sourcePriority {
		if strings.Contains(lower, host) {
			return score
		}
	}
	return defaultPriority
}

func isReddit(feedURL string) bool {
	return strings.Contains(strings.ToLower(feedURL), "reddit.com")
}

// downloaderAPI is the slice of Downloader this package depends on,
// narrowed for substitutability in tests.
type downloaderAPI interface {
	FetchRSS(ctx context.Context, requestURL, originalURL string, max int) ([]domain.ParsedEntry, error)
	FetchJSON(ctx context.Context, requestURL, originalURL string, max int) ([]domain.ParsedEntry, error)
	DownloadImage(ctx context.Context, imageURL, cacheDir string) (string, error)
}

// Coordinator drives a single pass of feed loading: priority ordering,
// per-feed budget, dedupe against the Disk Cache, and image download.
type Coordinator struct {
	cache      *diskcache.Cache
	downloader downloaderAPI
	health     *feedhealth.Tracker
	bus        *events.Bus
	feeds      []string

	mu    sync.Mutex
	state State

	stopRequested atomic.Bool
}

// New builds a Coordinator over the given feed URL list. bus may be
// nil; no events are published in that case.
func New(cache *diskcache.Cache, dl downloaderAPI, health *feedhealth.Tracker, bus *events.Bus, feeds []string) *Coordinator {
	return &Coordinator{cache: cache, downloader: dl, health: health, bus: bus, feeds: feeds}
}

// State returns the coordinator's current Idle/Loading/Loaded/Error state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// RequestStop signals that subsequent passes should not be started;
// in-flight Downloader calls observe this through their own shutdown
// predicate rather than being cancelled here (spec.md §4.C/§4.J —
// Reinitializing must not abort in-flight RSS work).
func (c *Coordinator) RequestStop() {
	c.stopRequested.Store(true)
}

// Resume clears a prior RequestStop, for Reinitializing → Running.
func (c *Coordinator) Resume() {
	c.stopRequested.Store(false)
}

func (c *Coordinator) stopping() bool {
	return c.stopRequested.Load()
}

// LoadFeeds runs one prioritized pass over all configured feeds,
// honoring the per-feed budget, and returns the newly added ImageRefs.
func (c *Coordinator) LoadFeeds(ctx context.Context) ([]domain.ImageRef, error) {
	if c.stopping() {
		return nil, nil
	}
	c.setState(Loading)

	ordered := c.orderedFeeds()
	newNeeded := TargetTotalImages - c.cache.Count()
	if newNeeded < 0 {
		newNeeded = 0
	}
	perFeed := clamp(divCeil(newNeeded, maxInt(1, len(ordered))), MinPerFeed, MaxPerFeed)

	var added []domain.ImageRef
	budget := newNeeded
	redditUsed := 0

	for _, feedURL := range ordered {
		if budget <= 0 || c.stopping() {
			break
		}
		if isReddit(feedURL) {
			if redditUsed >= MaxRedditFeedsPerPass {
				continue
			}
			redditUsed++
		}

		took := c.passOneFeed(ctx, feedURL, minInt(perFeed, budget), &added)
		budget -= took
	}

	if len(added) > 0 && c.cache.Count() >= MinCacheBeforeCleanup {
		if err := c.cache.Cleanup(MinCacheBeforeCleanup); err != nil {
			logger.SafeWarn("rsscoordinator: post-pass cleanup failed", "error", err)
		}
	}

	c.setState(Loaded)
	c.publishRSSUpdated(added)
	return added, nil
}

// RefreshSingleFeed is the unit the background refresh timer drives:
// it ignores priority ordering entirely and operates on exactly one
// feed, still subject to feed_health.should_skip and the per-feed cap.
func (c *Coordinator) RefreshSingleFeed(ctx context.Context, feedURL string) ([]domain.ImageRef, error) {
	if c.stopping() {
		return nil, nil
	}
	var added []domain.ImageRef
	c.passOneFeed(ctx, feedURL, MaxPerFeed, &added)
	if len(added) > 0 {
		c.publishRSSUpdated(added)
	}
	return added, nil
}

// LoadAsync runs LoadFeeds on a background goroutine and invokes
// onImages exactly once with the full batch of newly added items
// (which may be empty). Errors from LoadFeeds are logged, not
// returned, since onImages has no error channel of its own — callers
// observing failure should watch Feed Health instead.
func (c *Coordinator) LoadAsync(ctx context.Context, onImages func([]domain.ImageRef)) {
	go func() {
		added, err := c.LoadFeeds(ctx)
		if err != nil {
			logger.SafeWarn("rsscoordinator: load pass failed", "error", err)
			c.setState(Error)
		}
		onImages(added)
	}()
}

// passOneFeed fetches and processes a single feed, appending any newly
// downloaded images to added, and returns how many it consumed from
// the caller's budget.
func (c *Coordinator) passOneFeed(ctx context.Context, feedURL string, allowance int, added *[]domain.ImageRef) int {
	if allowance <= 0 {
		return 0
	}
	if c.health != nil && c.health.ShouldSkip(feedURL) {
		return 0
	}
	if err := urlValidator.ValidateRSSURL(feedURL); err != nil {
		logger.SafeWarn("rsscoordinator: feed URL rejected by security validation", "feed", feedURL, "error", err)
		c.recordOutcome(feedURL, false)
		return 0
	}

	requestURL, mode, originalURL := feedparser.ResolveFeedMode(feedURL)

	var entries []domain.ParsedEntry
	var err error
	if mode == feedparser.ModeJSON {
		entries, err = c.downloader.FetchJSON(ctx, requestURL, originalURL, allowance*4)
	} else {
		entries, err = c.downloader.FetchRSS(ctx, requestURL, originalURL, allowance*4)
	}
	if err != nil {
		c.recordOutcome(feedURL, false)
		return 0
	}
	if len(entries) == 0 {
		c.recordOutcome(feedURL, true)
		return 0
	}

	existing := c.cache.ExistingPaths()
	taken := 0
	anySuccess := false

	for _, entry := range entries {
		if taken >= allowance || c.stopping() {
			break
		}
		if entry.ImageURL == "" {
			continue
		}
		candidatePath := c.cache.CachePath(entry.ImageURL)
		if _, dup := existing[candidatePath]; dup {
			continue
		}
		if c.cache.IsCached(entry.ImageURL) {
			continue
		}

		path, dlErr := c.downloader.DownloadImage(ctx, entry.ImageURL, c.cache.Dir())
		if dlErr != nil {
			continue
		}

		ref := domain.ImageRef{
			SourceKind:  domain.SourceRSS,
			SourceID:    originalURL,
			ImageID:     entry.ImageURL,
			LocalPath:   path,
			URL:         entry.ImageURL,
			Title:       entry.Title,
			Description: entry.Description,
			Author:      entry.Author,
			CreatedAt:   entry.CreatedAt,
			FetchedAt:   time.Now(),
			Tags:        entry.Tags,
		}
		c.cache.Add(ref)
		c.cache.MarkCached(entry.ImageURL)
		*added = append(*added, ref)
		taken++
		anySuccess = true
	}

	c.recordOutcome(feedURL, anySuccess || len(entries) > 0)
	return taken
}

// recordOutcome applies spec.md §4.F point 4's asymmetric rule:
// success is recorded for any feed, but failure is only recorded for
// Reddit, so that general web flakiness on non-Reddit feeds doesn't
// trip their backoff.
func (c *Coordinator) recordOutcome(feedURL string, success bool) {
	if c.health == nil {
		return
	}
	if success {
		c.health.RecordSuccess(feedURL)
		return
	}
	if isReddit(feedURL) {
		c.health.RecordFailure(feedURL)
	}
}

func (c *Coordinator) publish(eventType string, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(c, eventType, payload, "rsscoordinator")
}

// publishRSSUpdated emits rss.updated with the {added, removed_stale,
// total_rss} shape spec.md §6/§8 scenario 1 requires. The Coordinator
// never evicts stale entries itself (that is the Engine's Queue-level
// concern, spec.md §4.J), so removed_stale is always 0 here; total_rss
// is the Disk Cache's count, the best total the Coordinator can see
// without reaching into the Engine's rotation queue.
func (c *Coordinator) publishRSSUpdated(added []domain.ImageRef) {
	c.publish(events.TypeRSSUpdated, map[string]int{
		"added":         len(added),
		"removed_stale": 0,
		"total_rss":     c.cache.Count(),
	})
}

// orderedFeeds sorts c.feeds by descending priority, shuffling within
// each priority tier to break ties randomly (spec.md §4.F).
func (c *Coordinator) orderedFeeds() []string {
	out := make([]string, len(c.feeds))
	copy(out, c.feeds)

	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	sort.SliceStable(out, func(i, j int) bool {
		return priorityFor(out[i]) > priorityFor(out[j])
	})
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func divCeil(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
