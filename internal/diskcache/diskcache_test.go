package diskcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basjohn/srpss-core/domain"
)

func writeFile(t *testing.T, dir, name string, content []byte, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

var jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 200)...)

func TestCache_CachePath_IsContentAddressed(t *testing.T) {
	c, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	p1 := c.CachePath("https://example.com/a.jpg")
	p2 := c.CachePath("https://example.com/a.jpg")
	p3 := c.CachePath("https://example.com/b.jpg")

	assert.Equal(t, p1, p2)
	assert.NotEqual(t, p1, p3)
	assert.Equal(t, ".jpg", filepath.Ext(p1))
}

func TestCache_LoadFromDisk_ValidatesHeaderAndRemovesCorrupt(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeFile(t, dir, "aaa.jpg", jpegBytes, now)
	corruptPath := writeFile(t, dir, "bbb.jpg", []byte("not an image"), now.Add(time.Second))

	c, err := New(dir, 0)
	require.NoError(t, err)

	valid, err := c.LoadFromDisk()
	require.NoError(t, err)
	require.Len(t, valid, 1)
	assert.Equal(t, domain.SourceRSS, valid[0].SourceKind)
	assert.Equal(t, "cached", valid[0].SourceID)

	_, statErr := os.Stat(corruptPath)
	assert.True(t, os.IsNotExist(statErr), "corrupt file should have been removed")
}

func TestCache_LoadFromDisk_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "aaa.jpg", jpegBytes, time.Now())

	c, err := New(dir, 0)
	require.NoError(t, err)

	first, err := c.LoadFromDisk()
	require.NoError(t, err)
	second, err := c.LoadFromDisk()
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second))
}

func TestCache_LoadFromDisk_CapsAtMaxCachedToLoad(t *testing.T) {
	dir := t.TempDir()
	base := time.Now()
	for i := 0; i < MaxCachedToLoad+5; i++ {
		writeFile(t, dir, filepath_Sprintf(i), jpegBytes, base.Add(time.Duration(i)*time.Second))
	}

	c, err := New(dir, 0)
	require.NoError(t, err)

	valid, err := c.LoadFromDisk()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(valid), MaxCachedToLoad)
}

func filepath_Sprintf(i int) string {
	return "img" + string(rune('a'+i%26)) + string(rune('0'+i/26)) + ".jpg"
}

func TestCache_Add_IsCopyOnWrite(t *testing.T) {
	c, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	before := c.Images()
	c.Add(domain.ImageRef{SourceKind: domain.SourceRSS, SourceID: "x", ImageID: "1", URL: "https://example.com/a.jpg"})

	assert.Empty(t, before, "snapshot taken before Add must not observe the new entry")
	assert.Len(t, c.Images(), 1)
}

func TestCache_Cleanup_RespectsMinKeepAndSafetyMargin(t *testing.T) {
	dir := t.TempDir()
	base := time.Now()
	for i := 0; i < 30; i++ {
		writeFile(t, dir, filepath_Sprintf(i), jpegBytes, base.Add(time.Duration(i)*time.Second))
	}

	c, err := New(dir, int64(len(jpegBytes)*10))
	require.NoError(t, err)

	require.NoError(t, c.Cleanup(5))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 5)
	assert.Less(t, len(entries), 30)
}

func TestCache_Cleanup_NeverRemovesTmpFiles(t *testing.T) {
	dir := t.TempDir()
	base := time.Now()
	writeFile(t, dir, ".tmp.partial.jpg", jpegBytes, base)
	for i := 0; i < 25; i++ {
		writeFile(t, dir, filepath_Sprintf(i), jpegBytes, base.Add(time.Duration(i)*time.Second))
	}

	c, err := New(dir, int64(len(jpegBytes)*5))
	require.NoError(t, err)
	require.NoError(t, c.Cleanup(2))

	_, err = os.Stat(filepath.Join(dir, ".tmp.partial.jpg"))
	assert.NoError(t, err, "tmp file must survive cleanup")
}

func TestCache_ClearAll_IdempotentOnEmptyCache(t *testing.T) {
	c, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	removed, err := c.ClearAll()
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = c.ClearAll()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCache_IsCachedMarkCached(t *testing.T) {
	c, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	assert.False(t, c.IsCached("https://example.com/a.jpg"))
	c.MarkCached("https://example.com/a.jpg")
	assert.True(t, c.IsCached("https://example.com/a.jpg"))
}
