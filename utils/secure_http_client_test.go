package utils

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basjohn/srpss-core/config"
	"github.com/basjohn/srpss-core/utils/security"
)

// TestSecureHTTPClient_AllowsLoopbackViaTestingMode exercises
// the same Control-hook/redirect-validation path SecureHTTPClientWithConfig
// wires every Downloader client through, but against a local httptest
// server — which binds to loopback, exactly what production traffic must
// never reach. SSRFValidator.SetTestingMode is the validator's own escape
// hatch for this; using the unauthenticated production client against a
// loopback listener would (correctly) always fail closed.
func TestSecureHTTPClient_AllowsLoopbackViaTestingMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("feed content"))
	}))
	defer server.Close()

	validator := security.NewSSRFValidator()
	validator.SetTestingMode(true)
	client := validator.CreateSecureHTTPClient(5 * time.Second)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "feed content", string(body))
}

func TestSecureHTTPClientWithConfig_BlocksPrivateHost(t *testing.T) {
	client := SecureHTTPClientWithConfig(&config.HTTPConfig{
		ClientTimeout:       2 * time.Second,
		DialTimeout:         1 * time.Second,
		TLSHandshakeTimeout: 1 * time.Second,
		IdleConnTimeout:     5 * time.Second,
	})

	_, err := client.Get("http://169.254.169.254/latest/meta-data/")
	require.Error(t, err)
}

func TestSecureHTTPClientWithConfig_BlocksSensitivePort(t *testing.T) {
	client := SecureHTTPClientWithConfig(&config.HTTPConfig{
		ClientTimeout:       2 * time.Second,
		DialTimeout:         1 * time.Second,
		TLSHandshakeTimeout: 1 * time.Second,
		IdleConnTimeout:     5 * time.Second,
	})

	_, err := client.Get("http://example.com:6379/")
	require.Error(t, err)
}

func TestValidateURL(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid https", "https://example.com/feed.rss", false},
		{"valid http", "http://example.com/feed.rss", false},
		{"ftp scheme rejected", "ftp://example.com/feed.rss", true},
		{"private ip rejected", "http://127.0.0.1/feed.rss", true},
		{"metadata endpoint rejected", "http://169.254.169.254/", true},
		{"blocked port rejected", "http://example.com:3306/", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := url.Parse(tc.raw)
			require.NoError(t, err)

			err = ValidateURL(u)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
