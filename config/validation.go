package config

import "fmt"

// validateConfig validates the loaded configuration values, matching the
// fail-fast-at-startup posture spec.md §7 calls for ("Only initialization
// failure at startup causes a non-zero exit").
func validateConfig(cfg *Config) error {
	if err := validateTiming(&cfg.Timing); err != nil {
		return fmt.Errorf("timing config validation failed: %w", err)
	}
	if err := validateQueue(&cfg.Queue); err != nil {
		return fmt.Errorf("queue config validation failed: %w", err)
	}
	if err := validateCache(&cfg.Cache); err != nil {
		return fmt.Errorf("cache config validation failed: %w", err)
	}
	return nil
}

func validateTiming(t *TimingConfig) error {
	if t.IntervalSeconds <= 0 {
		return fmt.Errorf("timing.interval_seconds must be positive, got %d", t.IntervalSeconds)
	}
	return nil
}

func validateQueue(q *QueueConfig) error {
	if q.LocalRatio < 0 || q.LocalRatio > 100 {
		return fmt.Errorf("queue.local_ratio must be between 0 and 100, got %d", q.LocalRatio)
	}
	if q.HistorySize < 1 {
		return fmt.Errorf("queue.history_size must be at least 1, got %d", q.HistorySize)
	}
	return nil
}

func validateCache(c *CacheConfig) error {
	if c.MaxItems < 1 {
		return fmt.Errorf("cache.max_items must be at least 1, got %d", c.MaxItems)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("cache.max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	return nil
}
