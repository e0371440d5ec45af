package feedparser

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/basjohn/srpss-core/domain"
	"github.com/basjohn/srpss-core/utils/logger"
)

// redditHighResWidth is the minimum source width (px) required for a
// Reddit entry when preview metadata is present, per
// original_source/sources/rss/parser.py's "light high-res filter".
const redditHighResWidth = 2560

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// ParseJSON dispatches a JSON feed response to the Reddit or Flickr
// shape handler based on its top-level structure, per spec.md §4.A.
// Unrecognized shapes and malformed JSON both return an empty list
// without error, matching the Python source's "logged and returns
// empty" failure mode.
func ParseJSON(data []byte, originalURL string, max int) []domain.ParsedEntry {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.SafeWarn("feedparser: malformed JSON feed", "feed", originalURL, "error", err)
		return nil
	}

	if kind, _ := doc["kind"].(string); kind == "Listing" {
		return parseRedditEntries(doc, originalURL, max)
	}
	if _, ok := doc["items"]; ok {
		return parseFlickrEntries(doc, originalURL, max)
	}
	logger.SafeWarn("feedparser: unrecognized JSON feed shape", "feed", originalURL)
	return nil
}

func parseFlickrEntries(doc map[string]any, feedURL string, max int) []domain.ParsedEntry {
	rawItems, _ := doc["items"].([]any)

	var entries []domain.ParsedEntry
	for _, raw := range rawItems {
		if len(entries) >= max {
			break
		}
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		media, _ := item["media"].(map[string]any)
		imageURL, _ := media["m"].(string)
		if imageURL == "" {
			continue
		}
		imageURL = upgradeFlickrSize(imageURL)

		title, _ := item["title"].(string)
		if title == "" {
			title = "Untitled"
		}
		description, _ := item["description"].(string)
		author, _ := item["author"].(string)

		var created time.Time
		if published, ok := item["published"].(string); ok && published != "" {
			if t, err := time.Parse(time.RFC1123Z, published); err == nil {
				created = t
			} else if t, err := time.Parse(time.RFC1123, published); err == nil {
				created = t
			}
		}

		entries = append(entries, domain.ParsedEntry{
			ImageURL:    imageURL,
			Title:       title,
			Description: truncate(description, maxDescriptionLen),
			Author:      author,
			CreatedAt:   created,
			SourceURL:   feedURL,
		})
	}
	return entries
}

// upgradeFlickrSize swaps Flickr's "_m" (medium) size suffix for "_b"
// (large), mirroring RSSParser._parse_flickr_entries.
func upgradeFlickrSize(imageURL string) string {
	switch {
	case strings.Contains(imageURL, "_m.jpg"):
		return strings.Replace(imageURL, "_m.jpg", "_b.jpg", 1)
	case strings.Contains(imageURL, "_m.png"):
		return strings.Replace(imageURL, "_m.png", "_b.png", 1)
	default:
		return imageURL
	}
}

func parseRedditEntries(doc map[string]any, feedURL string, max int) []domain.ParsedEntry {
	listingData, _ := doc["data"].(map[string]any)
	children, _ := listingData["children"].([]any)

	var entries []domain.ParsedEntry
	for _, raw := range children {
		if len(entries) >= max {
			break
		}
		child, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		post, ok := child["data"].(map[string]any)
		if !ok {
			continue
		}

		imageURL, _ := post["url_overridden_by_dest"].(string)
		if imageURL == "" {
			imageURL, _ = post["url"].(string)
		}
		if imageURL == "" || !hasImageExtension(imageURL) {
			continue
		}
		if !passesRedditHighResFilter(post) {
			continue
		}

		title, _ := post["title"].(string)
		if title == "" {
			title = "Untitled"
		}
		description, _ := post["selftext"].(string)
		author, _ := post["author"].(string)

		var created time.Time
		if ts, ok := post["created_utc"].(float64); ok {
			created = time.Unix(int64(ts), 0).UTC()
		}

		entries = append(entries, domain.ParsedEntry{
			ImageURL:    imageURL,
			Title:       title,
			Description: truncate(description, maxDescriptionLen),
			Author:      author,
			CreatedAt:   created,
			SourceURL:   feedURL,
		})
	}
	return entries
}

func hasImageExtension(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	lower := strings.ToLower(u.Path)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// passesRedditHighResFilter requires width >= 2560 only when Reddit's
// own preview metadata states a source width; absent metadata never
// excludes the entry (spec.md's "optional filter, not a hard
// requirement").
func passesRedditHighResFilter(post map[string]any) bool {
	preview, ok := post["preview"].(map[string]any)
	if !ok {
		return true
	}
	images, ok := preview["images"].([]any)
	if !ok || len(images) == 0 {
		return true
	}
	img, ok := images[0].(map[string]any)
	if !ok {
		return true
	}
	source, ok := img["source"].(map[string]any)
	if !ok {
		return true
	}
	width, ok := source["width"].(float64)
	if !ok {
		return true
	}
	return int(width) >= redditHighResWidth
}
