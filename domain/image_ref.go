// Package domain holds the data types that flow between this module's
// components: ImageRef, ParsedEntry, FeedHealthEntry, and EngineState,
// matching the shapes the original Python
// source's sources/base_provider.py (ImageMetadata), sources/rss/parser.py
// (ParsedEntry), and engine/image_queue.py carried, generalized to Go.
package domain

import "time"

// SourceKind identifies which pool an ImageRef belongs to.
type SourceKind string

const (
	SourceFolder SourceKind = "folder"
	SourceRSS    SourceKind = "rss"
)

// ImageRef is the universal descriptor flowing through the system, from
// ingestion through the rotation queue to display dispatch.
type ImageRef struct {
	SourceKind SourceKind
	SourceID   string // stable origin identifier: folder path or feed URL
	ImageID    string // unique within SourceID

	LocalPath string // present once cached; required for Folder items at ingest
	URL       string // present for Rss items before (and generally after) download

	Title       string
	Description string
	Author      string

	CreatedAt time.Time // zero value means unknown
	FetchedAt time.Time // required once an Rss item has passed through the downloader

	SizeBytes int64
	Format    string

	// Additive fields recovered from the source's richer ImageMetadata
	// (sources/base_provider.py), populated opportunistically.
	Width  int
	Height int
	Tags   []string
}

// Valid reports whether the ImageRef satisfies the invariants from
// spec.md §3: at least one of LocalPath/URL present, SourceID and
// ImageID non-empty.
func (r ImageRef) Valid() bool {
	if r.SourceID == "" || r.ImageID == "" {
		return false
	}
	return r.LocalPath != "" || r.URL != ""
}

// Key returns the identity used for dedupe/history comparisons: the
// local path when cached, otherwise the remote URL. Mirrors
// ImageQueue._get_image_key in the original source.
func (r ImageRef) Key() string {
	if r.LocalPath != "" {
		return r.LocalPath
	}
	return r.URL
}

// IsRemote reports whether this ref originated from an RSS/JSON feed.
func (r ImageRef) IsRemote() bool {
	return r.SourceKind == SourceRSS
}
