// Package imagecache implements the Image (Decoded) Cache from
// spec.md §3 (DecodedCache) and §4.H: an LRU map bounded by both entry
// count and byte size, holding already-decoded image pixels so the
// display path never re-decodes the same file twice in a row. Ported
// from original_source/engine/image_cache.py's DecodedImageCache,
// using image.Image + golang.org/x/image's decoders in place of
// Pillow.
package imagecache

import (
	"container/list"
	"image"
	"strconv"
	"sync"

	"github.com/basjohn/srpss-core/utils/logger"
)

const (
	// DefaultMaxEntries bounds the cache by item count.
	DefaultMaxEntries = 24
	// DefaultMaxBytes bounds the cache by estimated pixel memory (1 GiB).
	DefaultMaxBytes int64 = 1 << 30
)

// Decoded is a decoded image plus its estimated in-memory footprint.
// Close, when non-nil, is invoked on eviction so callers backed by a
// resource other than Go-GC'd memory (e.g. a native texture handle)
// release it deterministically (spec.md §4.H).
type Decoded struct {
	Image image.Image
	Bytes int64
	Close func()
}

type entry struct {
	key     string
	decoded Decoded
}

// Cache is an LRU cache of Decoded images, bounded by both entry count
// and total byte size.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64

	ll         *list.List
	items      map[string]*list.Element
	totalBytes int64
}

// New builds a Cache. maxEntries/maxBytes <= 0 fall back to the
// package defaults.
func New(maxEntries int, maxBytes int64) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Cache{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

// ScaledKey builds the pre-scaled variant key spec.md §4.H names:
// "{path}|scaled:{W}x{H}".
func ScaledKey(path string, width, height int) string {
	return path + "|scaled:" + strconv.Itoa(width) + "x" + strconv.Itoa(height)
}

// Get returns the Decoded image for key, promoting it to
// most-recently-used, or false if absent.
func (c *Cache) Get(key string) (Decoded, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Decoded{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).decoded, true
}

// Put inserts or replaces key's Decoded image, then evicts
// least-recently-used entries until both the entry-count and byte
// bounds hold. A prior value at the same key is released via its own
// Close before being replaced.
func (c *Cache) Put(key string, decoded Decoded) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		old := el.Value.(*entry).decoded
		c.totalBytes -= old.Bytes
		releaseLocked(old)
		el.Value.(*entry).decoded = decoded
		c.totalBytes += decoded.Bytes
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&entry{key: key, decoded: decoded})
		c.items[key] = el
		c.totalBytes += decoded.Bytes
	}

	c.evictLocked()
}

// Size returns the number of entries currently cached.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Clear releases every cached entry and empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.ll.Front(); el != nil; el = el.Next() {
		releaseLocked(el.Value.(*entry).decoded)
	}
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.totalBytes = 0
}

func (c *Cache) evictLocked() {
	for c.ll.Len() > c.maxEntries || (c.totalBytes > c.maxBytes && c.ll.Len() > 0) {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		e := oldest.Value.(*entry)
		c.ll.Remove(oldest)
		delete(c.items, e.key)
		c.totalBytes -= e.decoded.Bytes
		releaseLocked(e.decoded)
	}
}

func releaseLocked(d Decoded) {
	if d.Close == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.SafeWarn("imagecache: panic releasing evicted image", "recover", r)
			}
		}()
		d.Close()
	}()
}

