package utils

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/basjohn/srpss-core/config"
	"github.com/basjohn/srpss-core/utils/security"
)

// ssrf is the shared validator backing both request-level ValidateURL
// and the connection-time Control hook CreateSecureHTTPClient installs
// on every Downloader client. One validator, one policy, instead of a
// second hand-rolled port/allowlist check living alongside it.
var ssrf = security.NewSSRFValidator()

// SecureHTTPClient creates an HTTP client with SSRF protection using
// the package default HTTPConfig.
func SecureHTTPClient() *http.Client {
	return SecureHTTPClientWithConfig(&config.HTTPConfig{
		ClientTimeout:       30 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
	})
}

// SecureHTTPClientWithConfig creates an HTTP client whose Control hook
// validates the actually-dialed IP (not just the hostname, closing the
// DNS-rebinding gap a bare DialContext check would leave open) and
// whose CheckRedirect re-runs full URL validation on every redirect
// target. The Downloader (internal/downloader) is built on this, never
// a bare http.Client{}. cfg's dial timeout governs connection setup;
// the TLS handshake and idle-connection timeouts are tuned afterward to
// match the rest of cfg, since CreateSecureHTTPClient only takes one.
func SecureHTTPClientWithConfig(cfg *config.HTTPConfig) *http.Client {
	client := ssrf.CreateSecureHTTPClient(cfg.DialTimeout)
	client.Timeout = cfg.ClientTimeout

	if transport, ok := client.Transport.(*http.Transport); ok {
		transport.TLSHandshakeTimeout = cfg.TLSHandshakeTimeout
		transport.IdleConnTimeout = cfg.IdleConnTimeout
		transport.MaxIdleConns = 200
		transport.MaxIdleConnsPerHost = 50
	}

	return client
}

// ValidateURL validates a URL for SSRF protection before it is handed
// to the Downloader: scheme, host, path, port, and Unicode-homograph
// checks followed by a DNS-rebinding-aware resolution (security.
// SSRFValidator.ValidateURL). The same validator's Control hook
// re-checks the IP actually dialed, so a URL that resolves differently
// between this check and connection time is still caught.
func ValidateURL(u *url.URL) error {
	if u == nil {
		return errors.New("URL must not be nil")
	}
	return ssrf.ValidateURL(context.Background(), u)
}
