// Package feedparser turns raw feed responses into domain.ParsedEntry
// lists, independent of I/O. It is the Go port of
// original_source/sources/rss/parser.py: feed-mode detection via
// ResolveFeedMode, RSS/Atom parsing via ParseRSS (backed by
// github.com/mmcdole/gofeed instead of Python's feedparser), and JSON
// parsing via ParseJSON (Flickr/Reddit shape dispatch).
package feedparser

import (
	"net/url"
	"strings"
)

// Mode identifies how a configured feed URL must be fetched and parsed.
type Mode string

const (
	ModeRSS  Mode = "rss"
	ModeJSON Mode = "json"
)

// ResolveFeedMode applies spec.md §4.A's ordered rules to decide how a
// configured feed URL should be requested and parsed:
//  1. query contains format=json -> Json
//  2. path ends in .json -> Json
//  3. host contains reddit.com and path ends .rss -> Json, rewriting
//     the path suffix to .json
//  4. otherwise -> Rss
//
// It returns the URL to actually request, the resolved mode, and the
// original URL unchanged (kept distinct so callers can still key
// feed-health/priority lookups on the configured URL even when the
// request URL differs, mirroring RSSParser.resolve_feed_mode).
func ResolveFeedMode(feedURL string) (requestURL string, mode Mode, originalURL string) {
	originalURL = feedURL

	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL, ModeRSS, originalURL
	}

	lowerQuery := strings.ToLower(u.RawQuery)
	lowerPath := strings.ToLower(u.Path)
	lowerHost := strings.ToLower(u.Host)

	if strings.Contains(lowerQuery, "format=json") {
		return feedURL, ModeJSON, originalURL
	}
	if strings.HasSuffix(lowerPath, ".json") {
		return feedURL, ModeJSON, originalURL
	}
	if strings.Contains(lowerHost, "reddit.com") && strings.HasSuffix(lowerPath, ".rss") {
		rewritten := *u
		rewritten.Path = u.Path[:len(u.Path)-len(".rss")] + ".json"
		return rewritten.String(), ModeJSON, originalURL
	}

	return feedURL, ModeRSS, originalURL
}
