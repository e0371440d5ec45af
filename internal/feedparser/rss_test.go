package feedparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
<channel>
  <title>Test Feed</title>
  <item>
    <title>Entry With Media</title>
    <description>A nice photo</description>
    <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
    <media:content url="https://example.com/a.jpg" medium="image" />
  </item>
  <item>
    <title>Entry With Embedded Img</title>
    <description>&lt;p&gt;see &lt;img src="https://example.com/b.jpg"/&gt;&lt;/p&gt;</description>
  </item>
  <item>
    <title>Entry With No Image</title>
    <description>nothing here</description>
  </item>
</channel>
</rss>`

func TestParseRSS_ExtractsImagesInPriorityOrder(t *testing.T) {
	entries := ParseRSS([]byte(sampleRSS), "https://example.com/feed.rss", 10)
	require.Len(t, entries, 2)
	assert.Equal(t, "https://example.com/a.jpg", entries[0].ImageURL)
	assert.Equal(t, "https://example.com/b.jpg", entries[1].ImageURL)
}

func TestParseRSS_TruncatesDescriptionAt500(t *testing.T) {
	longDesc := strings.Repeat("x", 600)
	rss := `<?xml version="1.0"?><rss version="2.0"><channel><title>F</title>
	<item><title>T</title><description>` + longDesc + `</description>
	<enclosure url="https://example.com/a.jpg" type="image/jpeg"/></item>
	</channel></rss>`

	entries := ParseRSS([]byte(rss), "https://example.com/feed.rss", 10)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Description, maxDescriptionLen)
}

func TestParseRSS_MalformedFeedReturnsEmpty(t *testing.T) {
	entries := ParseRSS([]byte("not xml at all"), "https://example.com/feed.rss", 10)
	assert.Empty(t, entries)
}

func TestParseRSS_RespectsMaxEntries(t *testing.T) {
	entries := ParseRSS([]byte(sampleRSS), "https://example.com/feed.rss", 1)
	assert.Len(t, entries, 1)
}
