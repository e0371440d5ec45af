package domain

import "time"

// ParsedEntry is the Feed Parser's output, before the Downloader has
// fetched the image bytes. Not persisted — consumed immediately by the
// RSS Coordinator. Mirrors sources/rss/parser.py's ParsedEntry.
type ParsedEntry struct {
	ImageURL    string
	Title       string
	Description string
	Author      string
	CreatedAt   time.Time // zero value means unknown
	SourceURL   string
	Tags        []string // from feed entry categories, when present
}
