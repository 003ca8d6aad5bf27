package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Extractor.WorkerCount < 1 {
		return fmt.Errorf("extractor.worker_count must be >= 1, got %d", cfg.Extractor.WorkerCount)
	}
	if cfg.Extractor.WorkerCount > 1000 {
		return fmt.Errorf("extractor.worker_count must be <= 1000, got %d", cfg.Extractor.WorkerCount)
	}
	if cfg.Extractor.BatchSize < 1 {
		return fmt.Errorf("extractor.batch_size must be >= 1, got %d", cfg.Extractor.BatchSize)
	}
	if cfg.Extractor.RequestTimeout <= 0 {
		return fmt.Errorf("extractor.request_timeout must be > 0")
	}
	if cfg.Extractor.HangTimeoutScale <= 1.0 {
		return fmt.Errorf("extractor.hang_timeout_scale must be > 1.0, got %f", cfg.Extractor.HangTimeoutScale)
	}
	if cfg.Extractor.MaxRetries < 0 {
		return fmt.Errorf("extractor.max_retries must be >= 0, got %d", cfg.Extractor.MaxRetries)
	}

	if cfg.Scraper.Type != "static" && cfg.Scraper.Type != "rendered" {
		return fmt.Errorf("scraper.type must be 'static' or 'rendered', got %q", cfg.Scraper.Type)
	}
	if cfg.Scraper.MaxBodySize <= 0 {
		return fmt.Errorf("scraper.max_body_size must be > 0")
	}
	if cfg.Scraper.MaxRedirects < 0 {
		return fmt.Errorf("scraper.max_redirects must be >= 0")
	}

	if cfg.Reconcile.MaxPasses < 0 {
		return fmt.Errorf("reconcile.max_passes must be >= 0, got %d", cfg.Reconcile.MaxPasses)
	}
	if cfg.Reconcile.MinWorkerCount < 1 {
		return fmt.Errorf("reconcile.min_worker_count must be >= 1, got %d", cfg.Reconcile.MinWorkerCount)
	}

	if cfg.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri must not be empty")
	}
	if cfg.Mongo.Database == "" {
		return fmt.Errorf("mongo.database must not be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is valid as a scrape target.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
