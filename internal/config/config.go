package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for lexpipe.
type Config struct {
	Scraper       ScraperConfig       `mapstructure:"scraper"       yaml:"scraper"`
	Extractor     ExtractorConfig     `mapstructure:"extractor"     yaml:"extractor"`
	MultiVersion  MultiVersionConfig  `mapstructure:"multi_version" yaml:"multi_version"`
	Reconcile     ReconcileConfig     `mapstructure:"reconcile"     yaml:"reconcile"`
	Mongo         MongoConfig         `mapstructure:"mongo"         yaml:"mongo"`
	Logging       LoggingConfig       `mapstructure:"logging"       yaml:"logging"`
	Metrics       MetricsConfig       `mapstructure:"metrics"       yaml:"metrics"`
}

// ScraperConfig controls the Scraper implementations (static HTTP fetch
// and headless-browser render), used at Stage 1/2 (C1).
type ScraperConfig struct {
	Type            string        `mapstructure:"type"              yaml:"type"` // static, rendered
	RequestTimeout  time.Duration `mapstructure:"request_timeout"   yaml:"request_timeout"`
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	UserAgent       string        `mapstructure:"user_agent"        yaml:"user_agent"`
	PagePoolSize    int           `mapstructure:"page_pool_size"    yaml:"page_pool_size"` // go-rod page pool for rendered scraper
}

// ExtractorConfig controls Stage 2's concurrent worker pool (C5).
type ExtractorConfig struct {
	WorkerCount      int           `mapstructure:"worker_count"       yaml:"worker_count"`
	BatchSize        int           `mapstructure:"batch_size"         yaml:"batch_size"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"    yaml:"request_timeout"`
	HangTimeoutScale float64       `mapstructure:"hang_timeout_scale" yaml:"hang_timeout_scale"` // validated (> 1.0) but not read: FetchBatch always cancels at 2x request_timeout
	MaxRetries       int           `mapstructure:"max_retries"        yaml:"max_retries"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"   yaml:"retry_base_delay"`
	CheckpointEvery  int           `mapstructure:"checkpoint_every"   yaml:"checkpoint_every"` // batches between checkpoint flushes
}

// MultiVersionConfig controls Stage 3's headless-browser multi-version
// handling (C6).
type MultiVersionConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SelectorSentinel  string        `mapstructure:"selector_sentinel"  yaml:"selector_sentinel"`
	MaxVersions       int           `mapstructure:"max_versions"       yaml:"max_versions"`
}

// ReconcileConfig controls the adaptive-concurrency reconciliation pass
// (C7).
type ReconcileConfig struct {
	MaxPasses      int `mapstructure:"max_passes"       yaml:"max_passes"`
	MinWorkerCount int `mapstructure:"min_worker_count" yaml:"min_worker_count"`
}

// MongoConfig controls the MongoDB-backed Store (C2).
type MongoConfig struct {
	URI            string        `mapstructure:"uri"             yaml:"uri"`
	Database       string        `mapstructure:"database"        yaml:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// LoggingConfig controls log/slog behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults, matching the
// timing constants named in the spec: 2s/4s/8s backoff, 2x hang timeout.
func DefaultConfig() *Config {
	return &Config{
		Scraper: ScraperConfig{
			Type:            "static",
			RequestTimeout:  30 * time.Second,
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024,
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
			UserAgent:       "lexpipe/1.0 (+https://github.com/lexpipe/lexpipe)",
			PagePoolSize:    4,
		},
		Extractor: ExtractorConfig{
			WorkerCount:      15,
			BatchSize:        50,
			RequestTimeout:   60 * time.Second,
			HangTimeoutScale: 2.0,
			MaxRetries:       3,
			RetryBaseDelay:   2 * time.Second,
			CheckpointEvery:  1,
		},
		MultiVersion: MultiVersionConfig{
			NavigationTimeout: 45 * time.Second,
			SelectorSentinel:  "selectfrommultiples",
			MaxVersions:       10,
		},
		Reconcile: ReconcileConfig{
			MaxPasses:      2,
			MinWorkerCount: 1,
		},
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "lexpipe",
			ConnectTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
