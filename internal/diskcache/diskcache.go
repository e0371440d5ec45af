// Package diskcache implements the content-addressed on-disk image
// cache from spec.md §4.D, the Go port of
// original_source/sources/rss/cache.py's RSSCache. Filenames are
// md5(url)+extension; the in-memory index is a copy-on-write list
// swapped atomically on every mutation so concurrent readers (the
// engine thread taking stats snapshots) never observe a torn write,
// matching Design Notes §9's "copy-on-write list for disk cache"
// guidance.
package diskcache

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basjohn/srpss-core/domain"
	"github.com/basjohn/srpss-core/utils/logger"
)

const (
	// MaxCachedToLoad bounds how many newest files load_from_disk scans.
	MaxCachedToLoad = 35
	// DefaultMaxCacheBytes is the default eviction ceiling (500 MB).
	DefaultMaxCacheBytes int64 = 500 * 1024 * 1024
	// evictionSafetyFactor is the fraction of the configured ceiling a
	// cleanup pass targets, so the next insert doesn't immediately
	// re-trigger eviction (original_source/sources/rss/cache.py's
	// cleanup() 0.8 factor).
	evictionSafetyFactor = 0.8
	tmpPrefix            = ".tmp."
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true,
}

// Cache manages the on-disk RSS image cache directory and its
// in-memory metadata index.
type Cache struct {
	dir          string
	maxBytes     int64
	imagesMu     sync.Mutex // serializes writers; readers use the atomic pointer below
	images       atomic.Pointer[[]domain.ImageRef]
	cachedHashes sync.Map // url hash -> struct{}
}

// New creates a Cache rooted at dir (created if absent) with the given
// byte ceiling. A maxBytes <= 0 falls back to DefaultMaxCacheBytes.
func New(dir string, maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxCacheBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskcache: create cache dir: %w", err)
	}
	c := &Cache{dir: dir, maxBytes: maxBytes}
	empty := []domain.ImageRef{}
	c.images.Store(&empty)
	return c, nil
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string { return c.dir }

// Images returns the current snapshot of cached image metadata. Safe
// to call from any goroutine; the returned slice is never mutated
// in place.
func (c *Cache) Images() []domain.ImageRef {
	return *c.images.Load()
}

// Count returns the number of entries in the in-memory index.
func (c *Cache) Count() int {
	return len(*c.images.Load())
}

// ExistingPaths returns the set of local_path strings currently known,
// for dedupe against newly parsed entries.
func (c *Cache) ExistingPaths() map[string]struct{} {
	images := *c.images.Load()
	out := make(map[string]struct{}, len(images))
	for _, img := range images {
		if img.LocalPath != "" {
			out[img.LocalPath] = struct{}{}
		}
	}
	return out
}

// Add appends ref to the in-memory index via copy-on-write: a new
// backing slice is built and the shared pointer swapped atomically,
// so readers always see a complete, consistent list.
func (c *Cache) Add(ref domain.ImageRef) {
	c.imagesMu.Lock()
	defer c.imagesMu.Unlock()

	current := *c.images.Load()
	next := make([]domain.ImageRef, len(current), len(current)+1)
	copy(next, current)
	next = append(next, ref)
	c.images.Store(&next)
}

// CachePath returns the expected cache file path for a URL without
// downloading it: md5(url) plus the extension taken from the URL's
// own path, or ".jpg" when the URL has none.
func (c *Cache) CachePath(imageURL string) string {
	return filepath.Join(c.dir, hashedFilename(imageURL))
}

func hashedFilename(imageURL string) string {
	sum := md5.Sum([]byte(imageURL))
	hash := hex.EncodeToString(sum[:])

	ext := ".jpg"
	if u, err := url.Parse(imageURL); err == nil {
		if e := filepath.Ext(u.Path); e != "" {
			ext = e
		}
	}
	return hash + ext
}

// IsCached reports whether imageURL's hash has been marked cached in
// this process's lifetime.
func (c *Cache) IsCached(imageURL string) bool {
	sum := md5.Sum([]byte(imageURL))
	_, ok := c.cachedHashes.Load(hex.EncodeToString(sum[:]))
	return ok
}

// MarkCached records imageURL's hash as cached without touching the
// filesystem (used after the Downloader has already written the file).
func (c *Cache) MarkCached(imageURL string) {
	sum := md5.Sum([]byte(imageURL))
	c.cachedHashes.Store(hex.EncodeToString(sum[:]), struct{}{})
}

// LoadFromDisk scans up to MaxCachedToLoad newest image files by
// mtime, validates each via header bytes, deletes invalid ones, and
// replaces the in-memory index with the valid set when that set is
// non-empty; a scan that finds no valid file leaves the existing index
// unchanged. Idempotent: calling
// it twice in a row with an unchanged directory yields the same index.
func (c *Cache) LoadFromDisk() ([]domain.ImageRef, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("diskcache: read cache dir: %w", err)
	}

	type fileInfo struct {
		path  string
		name  string
		mtime time.Time
		size  int64
	}
	var candidates []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, tmpPrefix) {
			continue
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, fileInfo{
			path: filepath.Join(c.dir, name), name: name,
			mtime: info.ModTime(), size: info.Size(),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].mtime.Equal(candidates[j].mtime) {
			return candidates[i].name < candidates[j].name
		}
		return candidates[i].mtime.After(candidates[j].mtime)
	})
	if len(candidates) > MaxCachedToLoad {
		candidates = candidates[:MaxCachedToLoad]
	}

	var valid []domain.ImageRef
	removed := 0
	for _, f := range candidates {
		if f.size < minValidFileSize || !validateHeader(f.path) {
			if err := os.Remove(f.path); err == nil {
				removed++
			}
			continue
		}

		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(f.name)), ".")
		hash := strings.TrimSuffix(f.name, filepath.Ext(f.name))
		c.cachedHashes.Store(hash, struct{}{})

		valid = append(valid, domain.ImageRef{
			SourceKind: domain.SourceRSS,
			SourceID:   "cached",
			ImageID:    f.name,
			LocalPath:  f.path,
			Title:      strings.TrimSuffix(f.name, filepath.Ext(f.name)),
			FetchedAt:  f.mtime,
			SizeBytes:  f.size,
			Format:     strings.ToUpper(ext),
		})
	}

	if len(valid) > 0 {
		c.images.Store(&valid)
	}
	if removed > 0 {
		logger.SafeInfo("diskcache: removed corrupt cached files", "count", removed)
	}
	logger.SafeInfo("diskcache: loaded cached images from disk", "count", len(valid))
	return valid, nil
}

// Cleanup evicts the oldest files by mtime (ties broken lexicographically
// by filename) until both the byte ceiling and the file-count ceiling
// hold at an 0.8 safety margin, always leaving at least minKeep files
// and never touching in-progress temp files.
func (c *Cache) Cleanup(minKeep int) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("diskcache: read cache dir: %w", err)
	}

	type fileInfo struct {
		path  string
		name  string
		mtime time.Time
		size  int64
	}
	var files []fileInfo
	var totalSize int64
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			path: filepath.Join(c.dir, e.Name()), name: e.Name(),
			mtime: info.ModTime(), size: info.Size(),
		})
		totalSize += info.Size()
	}

	maxFiles := minKeep * 2
	if MaxCachedToLoad > maxFiles {
		maxFiles = MaxCachedToLoad
	}
	if totalSize <= c.maxBytes && len(files) <= maxFiles {
		return nil
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].mtime.Equal(files[j].mtime) {
			return files[i].name < files[j].name
		}
		return files[i].mtime.Before(files[j].mtime)
	})

	maxRemovable := len(files) - minKeep
	if maxRemovable < 0 {
		maxRemovable = 0
	}

	targetBytes := float64(c.maxBytes) * evictionSafetyFactor
	targetFiles := int(float64(maxFiles) * evictionSafetyFactor)

	removedCount, removedSize := 0, int64(0)
	remainingCount := len(files)
	for i, f := range files {
		if i >= maxRemovable {
			break
		}
		if float64(totalSize-removedSize) <= targetBytes && remainingCount-removedCount <= targetFiles {
			break
		}
		if err := os.Remove(f.path); err != nil {
			logger.SafeWarn("diskcache: failed to evict file", "path", f.path, "error", err)
			continue
		}
		removedCount++
		removedSize += f.size
	}

	if removedCount > 0 {
		logger.SafeInfo("diskcache: evicted files", "count", removedCount, "bytes", removedSize, "kept", len(files)-removedCount)
	}
	return nil
}

// ClearAll irreversibly removes every file in the cache directory and
// resets both the in-memory index and the cached-hash set. Idempotent
// on an already-empty cache.
func (c *Cache) ClearAll() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("diskcache: read cache dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err == nil {
			removed++
		}
	}

	c.imagesMu.Lock()
	empty := []domain.ImageRef{}
	c.images.Store(&empty)
	c.imagesMu.Unlock()
	c.cachedHashes.Range(func(k, _ any) bool { c.cachedHashes.Delete(k); return true })

	return removed, nil
}

const minValidFileSize = 100

var (
	jpegMagic = []byte{0xFF, 0xD8}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	riffMagic = []byte("RIFF")
	gif87     = []byte("GIF87a")
	gif89     = []byte("GIF89a")
)

// validateHeader reports whether path's first bytes match one of the
// supported image magic-byte patterns (spec.md §8 Testable Property 1).
func validateHeader(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, 16)
	n, err := f.Read(header)
	if err != nil && n == 0 {
		return false
	}
	header = header[:n]

	return bytes.HasPrefix(header, jpegMagic) ||
		bytes.HasPrefix(header, pngMagic) ||
		bytes.HasPrefix(header, riffMagic) ||
		bytes.HasPrefix(header, gif87) ||
		bytes.HasPrefix(header, gif89)
}

// ValidateHeader exposes the magic-byte check for the Downloader to
// call immediately after writing a file.
func ValidateHeader(path string) bool {
	return validateHeader(path)
}
