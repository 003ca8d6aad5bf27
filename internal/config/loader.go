package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment.
// Priority (highest to lowest): env vars > config file > defaults. CLI
// flags are not read here; callers apply them to the returned Config.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("LEXPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("lexpipe")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".lexpipe"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("scraper.type", cfg.Scraper.Type)
	v.SetDefault("scraper.request_timeout", cfg.Scraper.RequestTimeout)
	v.SetDefault("scraper.follow_redirects", cfg.Scraper.FollowRedirects)
	v.SetDefault("scraper.max_redirects", cfg.Scraper.MaxRedirects)
	v.SetDefault("scraper.max_body_size", cfg.Scraper.MaxBodySize)
	v.SetDefault("scraper.idle_conn_timeout", cfg.Scraper.IdleConnTimeout)
	v.SetDefault("scraper.max_idle_conns", cfg.Scraper.MaxIdleConns)
	v.SetDefault("scraper.user_agent", cfg.Scraper.UserAgent)
	v.SetDefault("scraper.page_pool_size", cfg.Scraper.PagePoolSize)

	v.SetDefault("extractor.worker_count", cfg.Extractor.WorkerCount)
	v.SetDefault("extractor.batch_size", cfg.Extractor.BatchSize)
	v.SetDefault("extractor.request_timeout", cfg.Extractor.RequestTimeout)
	v.SetDefault("extractor.hang_timeout_scale", cfg.Extractor.HangTimeoutScale)
	v.SetDefault("extractor.max_retries", cfg.Extractor.MaxRetries)
	v.SetDefault("extractor.retry_base_delay", cfg.Extractor.RetryBaseDelay)
	v.SetDefault("extractor.checkpoint_every", cfg.Extractor.CheckpointEvery)

	v.SetDefault("multi_version.navigation_timeout", cfg.MultiVersion.NavigationTimeout)
	v.SetDefault("multi_version.selector_sentinel", cfg.MultiVersion.SelectorSentinel)
	v.SetDefault("multi_version.max_versions", cfg.MultiVersion.MaxVersions)

	v.SetDefault("reconcile.max_passes", cfg.Reconcile.MaxPasses)
	v.SetDefault("reconcile.min_worker_count", cfg.Reconcile.MinWorkerCount)

	v.SetDefault("mongo.uri", cfg.Mongo.URI)
	v.SetDefault("mongo.database", cfg.Mongo.Database)
	v.SetDefault("mongo.connect_timeout", cfg.Mongo.ConnectTimeout)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
