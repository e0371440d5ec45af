package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/basjohn/srpss-core/internal/diskcache"
	"github.com/basjohn/srpss-core/utils/errors"
)

// DownloadImage streams imageURL into cacheDir as an atomically-renamed,
// content-addressed file, validating both the response content-type and
// the written file's magic bytes (spec.md §4.C/§4.D). Concurrent calls
// for the same URL are collapsed into a single in-flight fetch via
// singleflight, since multiple feed entries commonly reference the same
// image.
func (d *Downloader) DownloadImage(ctx context.Context, imageURL, cacheDir string) (string, error) {
	v, err, _ := d.imageGroup.Do(imageURL, func() (interface{}, error) {
		return d.downloadImageOnce(ctx, imageURL, cacheDir)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (d *Downloader) downloadImageOnce(ctx context.Context, imageURL, cacheDir string) (string, error) {
	if d.shuttingDown() {
		return "", errors.ErrShuttingDown
	}

	u, err := url.Parse(imageURL)
	if err != nil {
		return "", fmt.Errorf("invalid image URL %q: %w", imageURL, err)
	}
	if err := d.validateURL(u); err != nil {
		return "", err
	}

	finalPath := filepath.Join(cacheDir, hashedImageName(imageURL))
	if _, err := os.Stat(finalPath); err == nil {
		return finalPath, nil
	}

	if err := d.limiter.Acquire(ctx, u.Hostname()); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		d.limiter.RecordRateLimitHit(u.Hostname(), parseRetryAfter(resp.Header.Get("Retry-After")))
		return "", fmt.Errorf("rate limited: %s", u.Host)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d downloading %s", resp.StatusCode, imageURL)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("non-image content-type %q from %s", contentType, imageURL)
	}

	tmpPath := finalPath + ".tmp." + randomSuffix()
	if err := writeCapped(tmpPath, resp.Body, maxImageBytes); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	if !diskcache.ValidateHeader(tmpPath) {
		os.Remove(tmpPath)
		safeWarn(ctx, "rejected downloaded image: header validation failed", "url", imageURL)
		return "", fmt.Errorf("downloaded file failed header validation: %s", imageURL)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return finalPath, nil
}
