// Package metrics exposes the engine's internal state as Prometheus
// collectors, the way the teacher instruments its gateways, per
// SPEC_FULL.md's DOMAIN STACK entry for github.com/prometheus/client_golang.
// Registration is explicit (callers own the Registerer) so tests never
// fight the global default registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of gauges the Engine updates after every rotation
// tick and after each merged refresh result that adds items.
type Metrics struct {
	QueueLocalPoolSize   prometheus.Gauge
	QueueRemotePoolSize  prometheus.Gauge
	QueueHistoryLength   prometheus.Gauge
	DiskCacheEntries     prometheus.Gauge
	ImageCacheEntries    prometheus.Gauge
	FeedHealthySkipped   prometheus.Gauge
	RateLimiterWaits     prometheus.Counter
}

// New builds and registers a Metrics set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueLocalPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "srpss_queue_local_pool_size", Help: "Current Folder pool size in the rotation queue.",
		}),
		QueueRemotePoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "srpss_queue_remote_pool_size", Help: "Current Rss pool size in the rotation queue.",
		}),
		QueueHistoryLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "srpss_queue_history_length", Help: "Length of the rotation queue's served-item history.",
		}),
		DiskCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "srpss_disk_cache_entries", Help: "Number of images currently indexed in the on-disk cache.",
		}),
		ImageCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "srpss_image_cache_entries", Help: "Number of decoded images currently held in the image cache.",
		}),
		FeedHealthySkipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "srpss_feed_health_skipped", Help: "Number of configured feeds currently in backoff.",
		}),
		RateLimiterWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "srpss_rate_limiter_pauses_total", Help: "Total HTTP 429 pauses recorded by the rate limiter.",
		}),
	}
	reg.MustRegister(
		m.QueueLocalPoolSize, m.QueueRemotePoolSize, m.QueueHistoryLength,
		m.DiskCacheEntries, m.ImageCacheEntries, m.FeedHealthySkipped, m.RateLimiterWaits,
	)
	return m
}
