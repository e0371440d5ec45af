// Package prefetcher keeps the Image Cache warm for the Queue's
// upcoming items, the Go port of original_source/engine/prefetcher.py.
// Decoding runs on a bounded worker pool via golang.org/x/sync/errgroup
// with its concurrency bounded by SetLimit, with an inflight set preventing
// duplicate submissions for the same path (spec.md §4.I).
package prefetcher

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/basjohn/srpss-core/domain"
	"github.com/basjohn/srpss-core/internal/imagecache"
	"github.com/basjohn/srpss-core/utils/logger"
)

// DefaultMaxConcurrent is the default outstanding-decode-task ceiling.
const DefaultMaxConcurrent = 2

// DisplaySize is one target resolution the immediate-next image should
// be pre-scaled for.
type DisplaySize struct {
	Width  int
	Height int
}

// Prefetcher decodes the Queue's upcoming items into the Image Cache
// ahead of display, bounded to maxConcurrent outstanding tasks.
type Prefetcher struct {
	cache         *imagecache.Cache
	maxConcurrent int

	mu       sync.Mutex
	inflight map[string]struct{}
	gen      uint64 // bumped by ClearInflight; stale completions are dropped
}

// New builds a Prefetcher populating cache. maxConcurrent <= 0 falls
// back to DefaultMaxConcurrent.
func New(cache *imagecache.Cache, maxConcurrent int) *Prefetcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Prefetcher{cache: cache, maxConcurrent: maxConcurrent, inflight: make(map[string]struct{})}
}

// Prefetch ensures each of upcoming (the Queue's next N items) is
// present in the Image Cache, decoding at most p.maxConcurrent
// concurrently. The immediate-next item (upcoming[0]) additionally
// gets pre-scaled variants for each of displaySizes, best-effort.
func (p *Prefetcher) Prefetch(ctx context.Context, upcoming []domain.ImageRef, displaySizes []DisplaySize) {
	if len(upcoming) == 0 {
		return
	}
	generation := p.currentGeneration()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)

	for i, ref := range upcoming {
		ref := ref
		isImmediateNext := i == 0
		if !p.claim(ref.Key()) {
			continue
		}
		g.Go(func() error {
			defer p.release(ref.Key())
			p.decodeOne(gctx, ref, generation)
			if isImmediateNext {
				p.prescaleOne(ref, displaySizes, generation)
			}
			return nil
		})
	}
	_ = g.Wait() // task errors are logged individually; nothing to propagate
}

// ClearInflight invalidates all currently-tracked in-flight paths on
// source reconfiguration. Tasks already running are allowed to finish,
// but their results are discarded (spec.md §4.I) since the generation
// counter they captured no longer matches.
func (p *Prefetcher) ClearInflight() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight = make(map[string]struct{})
	p.gen++
}

func (p *Prefetcher) currentGeneration() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

func (p *Prefetcher) claim(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[key]; ok {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *Prefetcher) release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, key)
}

func (p *Prefetcher) stale(generation uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return generation != p.gen
}

// decodeOne checks the cache, loads+decodes ref's path, and posts it
// into the Image Cache, unless the path is already present or the
// result has gone stale via ClearInflight.
func (p *Prefetcher) decodeOne(_ context.Context, ref domain.ImageRef, generation uint64) {
	key := ref.Key()
	if key == "" {
		return
	}
	if _, ok := p.cache.Get(key); ok {
		return
	}

	decoded, err := imagecache.DecodeFile(key)
	if err != nil {
		logger.SafeWarn("prefetcher: decode failed", "path", key, "error", err)
		return
	}
	if p.stale(generation) {
		return
	}
	p.cache.Put(key, decoded)
}

// prescaleOne computes pre-scaled variants of ref's decoded image for
// each requested display size, silently skipping failures (spec.md
// §4.I: "best-effort; failures are silent").
func (p *Prefetcher) prescaleOne(ref domain.ImageRef, displaySizes []DisplaySize, generation uint64) {
	key := ref.Key()
	if key == "" || len(displaySizes) == 0 {
		return
	}

	base, ok := p.cache.Get(key)
	if !ok {
		return
	}

	for _, size := range displaySizes {
		if size.Width <= 0 || size.Height <= 0 {
			continue
		}
		scaledKey := imagecache.ScaledKey(key, size.Width, size.Height)
		if _, ok := p.cache.Get(scaledKey); ok {
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.SafeWarn("prefetcher: pre-scale panicked", "path", key, "recover", r)
				}
			}()
			scaled := imagecache.Scale(base.Image, size.Width, size.Height)
			if p.stale(generation) {
				return
			}
			p.cache.Put(scaledKey, scaled)
		}()
	}
}
