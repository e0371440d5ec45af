package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/basjohn/srpss-core/domain"
	"github.com/basjohn/srpss-core/internal/events"
	"github.com/basjohn/srpss-core/internal/imagecache"
	"github.com/basjohn/srpss-core/internal/rotationqueue"
	"github.com/basjohn/srpss-core/port/hostport"
)

// onRotationTick is the rotation timer callback (spec.md §4.J), invoked
// by hostport.ThreadPool.ScheduleRecurring on whatever goroutine the
// pool uses for recurring jobs (hostsim: the ticker goroutine). Queue
// and cache access relies on those components' own locks, not on a
// single engine thread.
func (e *Engine) onRotationTick() {
	if e.shuttingDown() {
		return
	}

	ref, ok := e.queue.Next()
	if !ok {
		return
	}

	decoded, ok := e.resolveDecoded(ref)
	if !ok {
		e.display.ShowError("no decoded image available for " + ref.Key())
		e.bus.Publish(e, events.TypeImageFailed, ref, "engine")
		return
	}

	mode := hostport.DisplayMode(e.cfg.Display.Mode)
	if err := e.display.Show(ref, decoded.Image, mode); err != nil {
		e.display.ShowError(err.Error())
		return
	}
	e.bus.Publish(e, events.TypeImageReady, ref, "engine")

	e.schedulePrefetch()
	e.observeMetrics()
}

// resolveDecoded prefers a pre-scaled variant matching the engine's
// configured display sizes, falls back to the full-size decode, and
// finally decodes on demand if neither is cached yet.
func (e *Engine) resolveDecoded(ref domain.ImageRef) (imagecache.Decoded, bool) {
	key := ref.Key()
	if key == "" {
		return imagecache.Decoded{}, false
	}

	e.mu.Lock()
	sizes := e.displaySizes
	e.mu.Unlock()

	for _, size := range sizes {
		if d, ok := e.imgCache.Get(imagecache.ScaledKey(key, size.Width, size.Height)); ok {
			return d, true
		}
	}
	if d, ok := e.imgCache.Get(key); ok {
		return d, true
	}

	decoded, err := imagecache.DecodeFile(key)
	if err != nil {
		return imagecache.Decoded{}, false
	}
	e.imgCache.Put(key, decoded)
	return decoded, true
}

// schedulePrefetch hands the Queue's next N items to the Prefetcher,
// off the engine thread, via the compute pool.
func (e *Engine) schedulePrefetch() {
	ahead := e.cfg.Cache.PrefetchAhead
	if ahead <= 0 {
		ahead = 5
	}
	upcoming := e.queue.Peek(ahead)
	if len(upcoming) == 0 {
		return
	}

	e.mu.Lock()
	sizes := e.displaySizes
	e.mu.Unlock()

	e.threads.SubmitCompute(func() (any, error) {
		e.prefetch.Prefetch(context.Background(), upcoming, sizes)
		return nil, nil
	}, func(any, error) {})
}

// onRefreshTick is the background refresh timer callback (spec.md
// §4.J): skip if the queue's Rss count already meets the dynamic cap,
// otherwise refresh one random configured feed on the I/O pool and
// merge its results under lock on completion.
func (e *Engine) onRefreshTick() {
	if e.shuttingDown() {
		return
	}

	capLimit := e.rssBackgroundCap()
	if e.queue.Stats().RemotePoolSize >= capLimit {
		return
	}

	feeds := e.cfg.Sources.RSSFeeds
	if len(feeds) == 0 {
		return
	}
	feedURL := feeds[rand.Intn(len(feeds))]

	e.threads.SubmitIO(func() (any, error) {
		return e.coord.RefreshSingleFeed(context.Background(), feedURL)
	}, func(result any, err error) {
		if err != nil {
			return
		}
		added, _ := result.([]domain.ImageRef)
		e.threads.RunOnUI(func() {
			e.mergeRefreshResult(added)
		})
	})
}

// mergeRefreshResult runs via RunOnUI: it merges newly fetched items
// into the Queue (deduping by Key()), evicts up to len(added) stale,
// non-history Rss items, and publishes rss.updated. It does not cap the
// Rss pool at rssBackgroundCap(); that cap is only checked by
// onRefreshTick before it starts a refresh.
func (e *Engine) mergeRefreshResult(added []domain.ImageRef) {
	if len(added) == 0 {
		return
	}
	e.queue.Add(added)

	removed := e.evictStale(len(added))
	e.bus.Publish(e, events.TypeRSSUpdated, map[string]int{
		"added":         len(added),
		"removed_stale": removed,
		"total_rss":     e.queue.Stats().RemotePoolSize,
	}, "engine")
	e.observeMetrics()
}

// evictStale removes at most maxRemove Rss items whose fetched_at
// precedes the configured cutoff and whose local_path is not in
// recent history (spec.md §4.J). staleMinutes() <= 0 disables eviction.
func (e *Engine) evictStale(maxRemove int) int {
	minutes := e.staleMinutes()
	if minutes <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute)

	removed := 0
	for _, ref := range e.diskCache.Images() {
		if removed >= maxRemove {
			break
		}
		if !ref.IsRemote() {
			continue
		}
		if ref.FetchedAt.IsZero() || !ref.FetchedAt.Before(cutoff) {
			continue
		}
		if e.queue.InHistory(ref.Key(), rotationqueue.HistoryWindowRSS) {
			continue
		}
		e.queue.Remove(ref.Key())
		removed++
	}
	return removed
}
