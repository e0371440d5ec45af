package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// robotsCache fetches and caches robots.txt per host, the polite-crawl
// gate spec.md §4.C names as a natural complement to the rate limiter,
// grounded on alt-backend/app/gateway/robots_txt_gateway.
type robotsCache struct {
	client *http.Client

	mu      sync.Mutex
	entries map[string]*robotsEntry
}

type robotsEntry struct {
	data     *robotstxt.RobotsData
	fetchedAt time.Time
}

const robotsCacheTTL = 1 * time.Hour

func newRobotsCache(client *http.Client) *robotsCache {
	return &robotsCache{client: client, entries: make(map[string]*robotsEntry)}
}

// allowed reports whether userAgent may fetch u.Path, per the cached
// robots.txt for u's host. A fetch failure or missing robots.txt is
// treated as allowed, matching the standard convention: robots.txt
// absence means no restriction.
func (c *robotsCache) allowed(ctx context.Context, u *url.URL, userAgent string) (bool, error) {
	entry := c.lookup(u.Host)
	if entry == nil {
		fetched, err := c.fetch(ctx, u)
		if err != nil {
			return true, nil
		}
		entry = fetched
		c.store(u.Host, entry)
	}
	return entry.data.TestAgent(u.Path, userAgent), nil
}

func (c *robotsCache) lookup(host string) *robotsEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[host]
	if !ok || time.Since(e.fetchedAt) > robotsCacheTTL {
		return nil
	}
	return e
}

func (c *robotsCache) store(host string, entry *robotsEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[host] = entry
}

func (c *robotsCache) fetch(ctx context.Context, target *url.URL) (*robotsEntry, error) {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", target.Scheme, target.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, err
	}
	return &robotsEntry{data: data, fetchedAt: time.Now()}, nil
}
