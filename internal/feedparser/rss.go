package feedparser

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/basjohn/srpss-core/domain"
)

const maxDescriptionLen = 500

var sanitizer = bluemonday.StrictPolicy()

// ParseRSS converts a parsed RSS/Atom feed document into ParsedEntry
// values, skipping entries with no extractable image and truncating
// descriptions at 500 characters, per spec.md §4.A. Unlike the Python
// source (which receives an already-parsed feedparser.FeedParserDict),
// this takes the raw feed bytes and runs gofeed's parser itself, since
// gofeed's Parse and feedparser.parse occupy the same role.
func ParseRSS(raw []byte, feedURL string, max int) []domain.ParsedEntry {
	fp := gofeed.NewParser()
	feed, err := fp.ParseString(string(raw))
	if err != nil || feed == nil {
		return nil
	}

	var entries []domain.ParsedEntry
	for _, item := range feed.Items {
		if len(entries) >= max {
			break
		}
		imageURL := extractImageFromEntry(item)
		if imageURL == "" {
			continue
		}

		title := item.Title
		if title == "" {
			title = "Untitled"
		}

		author := feed.Title
		if item.Author != nil && item.Author.Name != "" {
			author = item.Author.Name
		}

		entries = append(entries, domain.ParsedEntry{
			ImageURL:    imageURL,
			Title:       sanitizer.Sanitize(title),
			Description: truncate(sanitizer.Sanitize(item.Description), maxDescriptionLen),
			Author:      author,
			CreatedAt:   parseEntryDate(item),
			SourceURL:   feedURL,
			Tags:        item.Categories,
		})
	}
	return entries
}

// extractImageFromEntry implements spec.md §4.A's ordered fallback:
// media:content, enclosures, embedded <img> in content/summary,
// media:thumbnail.
func extractImageFromEntry(item *gofeed.Item) string {
	if media, ok := item.Extensions["media"]["content"]; ok {
		for _, m := range media {
			medium := m.Attrs["medium"]
			mtype := m.Attrs["type"]
			if medium == "image" || strings.Contains(mtype, "image") {
				if u := m.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}

	for _, enc := range item.Enclosures {
		if strings.Contains(enc.Type, "image") && enc.URL != "" {
			return enc.URL
		}
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}
	if content != "" {
		if u := firstImgSrc(content); u != "" {
			return u
		}
	}

	if thumb, ok := item.Extensions["media"]["thumbnail"]; ok && len(thumb) > 0 {
		if u := thumb[0].Attrs["url"]; u != "" {
			return u
		}
	}

	return ""
}

// firstImgSrc returns the src of the first <img> tag found in an HTML
// fragment, via a real DOM query (goquery) rather than the source's
// regex, since entry HTML is attacker-controlled and may not be
// well-formed enough for a naive pattern to find the true first image.
func firstImgSrc(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img").First().Attr("src")
	return src
}

func parseEntryDate(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
