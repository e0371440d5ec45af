package security

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

// URLSecurityValidator validates RSS feed URLs read from configuration
// before the Coordinator (internal/rsscoordinator) ever dials them:
// scheme, length, path-traversal, metadata-endpoint, and private-network
// checks. It is deliberately lighter than SSRFValidator — no DNS
// rebinding or Unicode-homograph handling — since it only gates the
// short, operator-supplied feed list, not arbitrary response-embedded
// image URLs (those go through SSRFValidator via utils.ValidateURL).
type URLSecurityValidator struct {
	// Future: Add configurable allow/block lists
}

// NewURLSecurityValidator creates a new URLSecurityValidator instance
func NewURLSecurityValidator() *URLSecurityValidator {
	return &URLSecurityValidator{}
}

// ValidateRSSURL performs comprehensive security validation on RSS URLs
func (v *URLSecurityValidator) ValidateRSSURL(rawURL string) error {
	// Check for empty URL
	if rawURL == "" {
		return errors.New("URL cannot be empty")
	}

	// Check URL length to prevent extremely long URLs
	if len(rawURL) > 2048 {
		return errors.New("URL exceeds maximum length")
	}

	// Check for dangerous patterns
	if strings.Contains(rawURL, "..") {
		return errors.New("URL contains dangerous pattern")
	}

	// Parse URL
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}

	// Validate scheme first (before checking host)
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("only HTTP and HTTPS schemes allowed")
	}

	// Check if URL has scheme and host (basic malformed URL detection)
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return errors.New("invalid URL format")
	}

	// Check for metadata server access
	if strings.Contains(parsedURL.Host, "metadata") {
		return errors.New("metadata server access denied")
	}

	// Validate host for private networks
	if v.isPrivateNetwork(parsedURL.Host) {
		return errors.New("private network access denied")
	}

	return nil
}

// isPrivateNetwork checks whether the literal host string is localhost or
// a private/loopback IP; no DNS lookup is made
func (v *URLSecurityValidator) isPrivateNetwork(hostname string) bool {
	// Check for localhost variants
	if hostname == "localhost" || hostname == "127.0.0.1" {
		return true
	}

	// Try to parse as IP address
	ip := net.ParseIP(hostname)
	if ip != nil {
		// Check private IP ranges
		return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
	}

	// For domain names, we cannot easily check without DNS resolution
	// but we can check for common private domain patterns
	if strings.HasSuffix(hostname, ".local") ||
		strings.HasSuffix(hostname, ".localhost") {
		return true
	}

	return false
}
