// Package config loads the core's runtime configuration from environment
// variables, the way the rest of this codebase's services do it: struct
// tags declare the env var name and default, loadFromEnvironment walks the
// struct via reflection, and validateConfig rejects out-of-range values
// before the engine starts.
//
// Most of these keys mirror the Settings capability the host (GUI shell)
// can also push at runtime via SettingsPort; the values loaded here are
// only the process-level defaults used when the host hasn't overridden
// them yet, or when the core runs outside the GUI shell (tests, the debug
// server in cmd/screensaverd).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Timing   TimingConfig   `json:"timing"`
	Sources  SourcesConfig  `json:"sources"`
	Queue    QueueConfig    `json:"queue"`
	Cache    CacheConfig    `json:"cache"`
	Display  DisplayConfig  `json:"display"`
	Debug    DebugConfig    `json:"debug"`
	Logging  LoggingConfig  `json:"logging"`
	HTTP     HTTPConfig     `json:"http"`
	Internal InternalConfig `json:"internal"`
}

type TimingConfig struct {
	IntervalSeconds int `json:"interval_seconds" env:"TIMING_INTERVAL_SECONDS" default:"60"`
}

type SourcesConfig struct {
	Folders            []string `json:"folders" env:"SOURCES_FOLDERS"`
	RSSFeeds           []string `json:"rss_feeds" env:"SOURCES_RSS_FEEDS"`
	RSSBackgroundCap   int      `json:"rss_background_cap" env:"SOURCES_RSS_BACKGROUND_CAP" default:"0"`
	RSSStaleMinutes    int      `json:"rss_stale_minutes" env:"SOURCES_RSS_STALE_MINUTES" default:"0"`
	RSSRefreshMinutes  int      `json:"rss_refresh_minutes" env:"SOURCES_RSS_REFRESH_MINUTES" default:"10"`
	RSSCacheDirectory  string   `json:"rss_cache_directory" env:"SOURCES_RSS_CACHE_DIRECTORY" default:""`
	RSSSaveToDisk      bool     `json:"rss_save_to_disk" env:"SOURCES_RSS_SAVE_TO_DISK" default:"false"`
	RSSSaveDirectory   string   `json:"rss_save_directory" env:"SOURCES_RSS_SAVE_DIRECTORY" default:""`
}

type QueueConfig struct {
	Shuffle     bool `json:"shuffle" env:"QUEUE_SHUFFLE" default:"true"`
	HistorySize int  `json:"history_size" env:"QUEUE_HISTORY_SIZE" default:"50"`
	LocalRatio  int  `json:"local_ratio" env:"QUEUE_LOCAL_RATIO" default:"60"`
}

type CacheConfig struct {
	MaxItems      int `json:"max_items" env:"CACHE_MAX_ITEMS" default:"24"`
	MaxMemoryMB   int `json:"max_memory_mb" env:"CACHE_MAX_MEMORY_MB" default:"1024"`
	MaxConcurrent int `json:"max_concurrent" env:"CACHE_MAX_CONCURRENT" default:"2"`
	PrefetchAhead int `json:"prefetch_ahead" env:"CACHE_PREFETCH_AHEAD" default:"5"`
}

type DisplayConfig struct {
	SameImageAllMonitors bool   `json:"same_image_all_monitors" env:"DISPLAY_SAME_IMAGE_ALL_MONITORS" default:"false"`
	Mode                 string `json:"mode" env:"DISPLAY_MODE" default:"fill"`
}

type DebugConfig struct {
	EventsTrace bool `json:"events_trace" env:"DEBUG_EVENTS_TRACE" default:"false"`
}

type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"json"`
}

type HTTPConfig struct {
	ClientTimeout       time.Duration `json:"client_timeout" env:"HTTP_CLIENT_TIMEOUT" default:"30s"`
	DialTimeout         time.Duration `json:"dial_timeout" env:"HTTP_DIAL_TIMEOUT" default:"10s"`
	TLSHandshakeTimeout time.Duration `json:"tls_handshake_timeout" env:"HTTP_TLS_HANDSHAKE_TIMEOUT" default:"10s"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout" env:"HTTP_IDLE_CONN_TIMEOUT" default:"90s"`
}

// InternalConfig configures the ambient debug/status surface (cmd/screensaverd).
type InternalConfig struct {
	StatusAddr string `json:"status_addr" env:"INTERNAL_STATUS_ADDR" default:":9123"`
}

// NewConfig loads configuration from environment variables with fallback
// to defaults, then validates it.
func NewConfig() (*Config, error) {
	cfg := &Config{}

	if err := loadFromEnvironment(cfg); err != nil {
		return nil, err
	}

	if cfg.Sources.RSSCacheDirectory == "" {
		cfg.Sources.RSSCacheDirectory = defaultCacheDirectory()
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load is an alias for NewConfig for backward compatibility with callers
// that expect the teacher's naming.
func Load() (*Config, error) {
	return NewConfig()
}

func defaultCacheDirectory() string {
	dir := os.TempDir()
	return strings.TrimRight(dir, string(os.PathSeparator)) + string(os.PathSeparator) + "screensaver_rss_cache"
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{interval=%ds feeds=%d folders=%d local_ratio=%d%% cache_dir=%s}",
		c.Timing.IntervalSeconds,
		len(c.Sources.RSSFeeds),
		len(c.Sources.Folders),
		c.Queue.LocalRatio,
		c.Sources.RSSCacheDirectory,
	)
}
