package config

import (
	"fmt"

	"github.com/rs/zerolog"
)

func validate(c *Config) error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http timeout must be > 0")
	}
	if c.Browser.Timeout <= 0 {
		return fmt.Errorf("browser timeout must be > 0")
	}
	if c.RateLimit.StaticRPS <= 0 || c.RateLimit.DynamicRPS <= 0 {
		return fmt.Errorf("rate limits must be > 0")
	}
	if c.RateLimit.StaticBurst < 1 || c.RateLimit.DynamicBurst < 1 {
		return fmt.Errorf("rate limit bursts must be >= 1")
	}
	if c.Retry.InitialBackoff <= 0 {
		return fmt.Errorf("retry initial backoff must be > 0")
	}
	if c.Cache.Enabled && c.Cache.MaxSizeBytes <= 0 {
		return fmt.Errorf("cache max size must be > 0")
	}
	if c.Batch.Concurrency < 0 || c.Batch.Concurrency > MaxBatchConcurrency {
		return fmt.Errorf("batch concurrency must be between 0 (auto) and %d", MaxBatchConcurrency)
	}
	return nil
}
