// Package engine drives the screensaver's main loop (spec.md §4.J, §5):
// the rotation timer, the background refresh timer, and the
// Uninitialized → ... → ShuttingDown state machine, matching the Python
// source's engine/core.py ScreensaverEngine. Refresh results are merged
// via hostport.ThreadPool.RunOnUI; the timer callbacks themselves run
// wherever ScheduleRecurring invokes them, and shared state is guarded
// by the engine's mutex and the components' own locks rather than by a
// single thread.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/basjohn/srpss-core/config"
	"github.com/basjohn/srpss-core/domain"
	"github.com/basjohn/srpss-core/internal/diskcache"
	"github.com/basjohn/srpss-core/internal/downloader"
	"github.com/basjohn/srpss-core/internal/events"
	"github.com/basjohn/srpss-core/internal/feedhealth"
	"github.com/basjohn/srpss-core/internal/imagecache"
	"github.com/basjohn/srpss-core/internal/metrics"
	"github.com/basjohn/srpss-core/internal/prefetcher"
	"github.com/basjohn/srpss-core/internal/ratelimiter"
	"github.com/basjohn/srpss-core/internal/rotationqueue"
	"github.com/basjohn/srpss-core/internal/rsscoordinator"
	"github.com/basjohn/srpss-core/port/hostport"
	"github.com/basjohn/srpss-core/utils/logger"
)

// Engine owns the Coordinator, Queue, Image Cache, and Prefetcher for
// its entire lifetime (spec.md §3 Ownership).
type Engine struct {
	cfg     *config.Config
	display hostport.Display
	threads hostport.ThreadPool
	bus     *events.Bus

	mu    sync.Mutex
	state domain.EngineState

	diskCache  *diskcache.Cache
	health     *feedhealth.Tracker
	limiter    *ratelimiter.Limiter
	downloader *downloader.Downloader
	coord      *rsscoordinator.Coordinator
	queue      *rotationqueue.Queue
	imgCache   *imagecache.Cache
	prefetch   *prefetcher.Prefetcher

	cancelRotation func()
	cancelRefresh  func()

	displaySizes []prefetcher.DisplaySize
	metrics      *metrics.Metrics
}

// EnableMetrics registers a Prometheus collector set against reg and
// has the Engine keep it updated on every tick. Safe to call before or
// after Initialize.
func (e *Engine) EnableMetrics(reg prometheus.Registerer) {
	e.mu.Lock()
	e.metrics = metrics.New(reg)
	limiter := e.limiter
	e.mu.Unlock()
	if limiter != nil {
		limiter.SetMetrics(e.metrics.RateLimiterWaits)
	}
}

// observeMetrics refreshes the registered gauges from current state.
// No-op until EnableMetrics has run.
func (e *Engine) observeMetrics() {
	e.mu.Lock()
	m := e.metrics
	e.mu.Unlock()
	if m == nil {
		return
	}

	stats := e.queue.Stats()
	m.QueueLocalPoolSize.Set(float64(stats.LocalPoolSize))
	m.QueueRemotePoolSize.Set(float64(stats.RemotePoolSize))
	m.QueueHistoryLength.Set(float64(stats.HistoryLength))
	m.DiskCacheEntries.Set(float64(e.diskCache.Count()))
	m.ImageCacheEntries.Set(float64(e.imgCache.Size()))

	skipped := 0
	for _, feedURL := range e.cfg.Sources.RSSFeeds {
		if e.health.ShouldSkip(feedURL) {
			skipped++
		}
	}
	m.FeedHealthySkipped.Set(float64(skipped))
}

// New constructs an Engine in Uninitialized state. Nothing is wired
// until Initialize runs.
func New(cfg *config.Config, display hostport.Display, threads hostport.ThreadPool) *Engine {
	return &Engine{
		cfg:     cfg,
		display: display,
		threads: threads,
		bus:     events.New(true, false),
		state:   domain.Uninitialized,
	}
}

// State returns the engine's current state.
func (e *Engine) State() domain.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s domain.EngineState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	logger.SafeInfo("engine: state transition", "state", s.String())
}

func (e *Engine) shuttingDown() bool {
	return e.State().ShuttingDownPredicate()
}

// Bus exposes the engine's event bus so hosts/tests can subscribe to
// rss.updated / image.ready / etc.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Initialize wires the Disk Cache, Downloader, Feed Health, Coordinator,
// Queue, Image Cache, and Prefetcher from configuration. On failure the
// engine reverts to Uninitialized, per spec.md §4.J.
func (e *Engine) Initialize() error {
	e.setState(domain.Initializing)

	cache, err := diskcache.New(e.cfg.Sources.RSSCacheDirectory, 0)
	if err != nil {
		e.setState(domain.Uninitialized)
		return fmt.Errorf("engine: initialize disk cache: %w", err)
	}
	if _, err := cache.LoadFromDisk(); err != nil {
		logger.SafeWarn("engine: load cached images from disk failed", "error", err)
	}

	e.diskCache = cache
	// Feed health JSON lives alongside the cache directory's parent
	// (spec.md §6: "<tmp>/feed_health.json").
	e.health = feedhealth.New(filepath.Join(filepath.Dir(e.cfg.Sources.RSSCacheDirectory), "feed_health.json"))
	e.limiter = ratelimiter.New()
	if e.metrics != nil {
		e.limiter.SetMetrics(e.metrics.RateLimiterWaits)
	}
	e.downloader = downloader.New(&e.cfg.HTTP, e.limiter, e.health, e.shuttingDown)
	e.coord = rsscoordinator.New(e.diskCache, e.downloader, e.health, e.bus, e.cfg.Sources.RSSFeeds)

	e.queue = rotationqueue.New(e.cfg.Queue.HistorySize, e.cfg.Queue.LocalRatio, e.cfg.Queue.Shuffle)
	e.queue.Add(cachedImagesAsRefs(cache.Images()))

	e.imgCache = imagecache.New(e.cfg.Cache.MaxItems, int64(e.cfg.Cache.MaxMemoryMB)*1024*1024)
	e.prefetch = prefetcher.New(e.imgCache, e.cfg.Cache.MaxConcurrent)

	e.setState(domain.Stopped)
	return nil
}

func cachedImagesAsRefs(refs []domain.ImageRef) []domain.ImageRef {
	out := make([]domain.ImageRef, len(refs))
	copy(out, refs)
	return out
}

// Start transitions Stopped → Starting → Running, loads the first RSS
// batch, and starts both recurring timers.
func (e *Engine) Start() error {
	if e.State() != domain.Stopped {
		return fmt.Errorf("engine: start requires Stopped, got %s", e.State())
	}
	e.setState(domain.Starting)

	e.coord.Resume()
	e.coord.LoadAsync(context.Background(), func(added []domain.ImageRef) {
		e.threads.RunOnUI(func() {
			e.queue.Add(added)
			e.bus.Publish(e, events.TypeRSSUpdated, map[string]int{
				"added":         len(added),
				"removed_stale": 0,
				"total_rss":     e.queue.Stats().RemotePoolSize,
			}, "engine")
		})
	})

	e.cancelRotation = e.threads.ScheduleRecurring(e.rotationInterval(), e.onRotationTick)
	e.cancelRefresh = e.threads.ScheduleRecurring(e.refreshInterval(), e.onRefreshTick)

	e.setState(domain.Running)
	return nil
}

// Stop transitions Running → Stopping → Stopped. exitApp is accepted
// for interface parity with the host's stop(exit_app) signature but
// the core itself never terminates the process.
func (e *Engine) Stop(exitApp bool) error {
	if e.State() != domain.Running {
		return fmt.Errorf("engine: stop requires Running, got %s", e.State())
	}
	e.setState(domain.Stopping)
	e.coord.RequestStop()
	e.stopTimers()
	e.setState(domain.Stopped)
	return nil
}

// Shutdown transitions any state to the terminal ShuttingDown state.
func (e *Engine) Shutdown() {
	e.coord.RequestStop()
	e.stopTimers()
	e.setState(domain.ShuttingDown)
}

func (e *Engine) stopTimers() {
	if e.cancelRotation != nil {
		e.cancelRotation()
		e.cancelRotation = nil
	}
	if e.cancelRefresh != nil {
		e.cancelRefresh()
		e.cancelRefresh = nil
	}
}

// SourcesChanged runs Running → Reinitializing → Running: it rebuilds
// the Queue from current Disk Cache contents and configured folders
// without aborting any in-flight RSS work, since shuttingDown() stays
// false throughout Reinitializing (spec.md §4.J).
func (e *Engine) SourcesChanged(newFolderImages []domain.ImageRef) error {
	if e.State() != domain.Running {
		return fmt.Errorf("engine: sources_changed requires Running, got %s", e.State())
	}
	e.setState(domain.Reinitializing)

	e.prefetch.ClearInflight()
	all := append(cachedImagesAsRefs(e.diskCache.Images()), newFolderImages...)
	e.queue.Replace(all)

	e.setState(domain.Running)
	return nil
}

// DebugSnapshot is a point-in-time view of engine state for the
// cmd/screensaverd debug surface; it is not part of the host-facing
// capability contract.
type DebugSnapshot struct {
	State          string               `json:"state"`
	Queue          rotationqueue.Stats  `json:"queue"`
	DiskCacheCount int                  `json:"disk_cache_count"`
	ImageCacheSize int                  `json:"image_cache_size"`
}

// Snapshot reports current engine/queue/cache state for diagnostics.
// Safe to call at any point after Initialize.
func (e *Engine) Snapshot() DebugSnapshot {
	snap := DebugSnapshot{State: e.State().String()}
	if e.queue != nil {
		snap.Queue = e.queue.Stats()
	}
	if e.diskCache != nil {
		snap.DiskCacheCount = e.diskCache.Count()
	}
	if e.imgCache != nil {
		snap.ImageCacheSize = e.imgCache.Size()
	}
	return snap
}

// SetDisplaySizes configures the target resolutions the Prefetcher
// pre-scales the immediate-next image for.
func (e *Engine) SetDisplaySizes(sizes []prefetcher.DisplaySize) {
	e.mu.Lock()
	e.displaySizes = sizes
	e.mu.Unlock()
}

func (e *Engine) rotationInterval() time.Duration {
	seconds := e.cfg.Timing.IntervalSeconds
	if seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

// refreshInterval is the background refresh timer's period: the
// configured minutes, ±1 minute jitter (spec.md §4.J).
func (e *Engine) refreshInterval() time.Duration {
	minutes := e.cfg.Sources.RSSRefreshMinutes
	if minutes <= 0 {
		minutes = 10
	}
	base := time.Duration(minutes) * time.Minute
	jitter := time.Duration(rand.Intn(121)-60) * time.Second
	return base + jitter
}

// rssBackgroundCap is the dynamic Rss-count cap the background
// refresh and stale-eviction logic both honor, per spec.md §4.J: an
// explicit config override wins; otherwise it scales with the
// rotation interval.
func (e *Engine) rssBackgroundCap() int {
	if e.cfg.Sources.RSSBackgroundCap > 0 {
		return e.cfg.Sources.RSSBackgroundCap
	}
	interval := e.cfg.Timing.IntervalSeconds
	switch {
	case interval >= 90:
		return 10
	case interval >= 30:
		return 15
	default:
		return 20
	}
}

// staleMinutes is the stale-eviction cutoff window, dependent on the
// rotation interval the way rssBackgroundCap is (spec.md §4.J). An
// explicit config override (including <= 0 to disable eviction) wins.
func (e *Engine) staleMinutes() int {
	if e.cfg.Sources.RSSStaleMinutes != 0 {
		return e.cfg.Sources.RSSStaleMinutes
	}
	interval := e.cfg.Timing.IntervalSeconds
	switch {
	case interval >= 90:
		return 60
	case interval >= 30:
		return 45
	default:
		return 30
	}
}
