// Package config loads and validates pagewatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/pagewatch/internal/publisher/pubsub"
	"github.com/JakeFAU/pagewatch/internal/storage/gcs"
	"github.com/JakeFAU/pagewatch/internal/storage/local"
	"github.com/JakeFAU/pagewatch/internal/storage/postgres"
	"github.com/JakeFAU/pagewatch/internal/storage/redis"
)

// Storage backends accepted by storage.backend.
const (
	StorageLocal    = "local"
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageGCS      = "gcs"
	StorageRedis    = "redis"
)

// Fetcher backends accepted by fetcher.backend.
const (
	FetcherColly    = "colly"
	FetcherHeadless = "headless"
	// FetcherAuto probes with colly and renders client-side pages headlessly.
	FetcherAuto = "auto"
)

// Job backends accepted by jobs.backend.
const (
	JobsLocal = "local"
	JobsHTTP  = "http"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Events    EventsConfig    `mapstructure:"events"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LoggingConfig selects the zap preset and optional rotating file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	// File enables a rotating JSON log file next to the console output.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// MonitorConfig tunes the change monitor.
type MonitorConfig struct {
	// DefaultInterval is assigned to targets tracked without an explicit interval.
	DefaultInterval time.Duration `mapstructure:"default_interval"`
	// CycleInterval is the pause between continuous monitoring cycles.
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	PreviewChars  int           `mapstructure:"preview_chars"`
	DiffEnabled   bool          `mapstructure:"diff_enabled"`
	// RunOnServe starts the continuous monitor alongside the HTTP server.
	RunOnServe bool `mapstructure:"run_on_serve"`
}

// FetcherConfig selects and tunes the content fetcher.
type FetcherConfig struct {
	Backend       string          `mapstructure:"backend"`
	UserAgent     string          `mapstructure:"user_agent"`
	Timeout       time.Duration   `mapstructure:"timeout"`
	RespectRobots bool            `mapstructure:"respect_robots"`
	Markdown      bool            `mapstructure:"markdown"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
	Headless      HeadlessConfig  `mapstructure:"headless"`
	// BlockedHosts lists hosts never fetched; "*.example.com" matches subdomains.
	BlockedHosts []string `mapstructure:"blocked_hosts"`
}

// RateLimitConfig bounds requests per host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	// PromoteThreshold is the body size below which the auto backend
	// inspects script density.
	PromoteThreshold int `mapstructure:"promote_threshold"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	Backend  string          `mapstructure:"backend"`
	Local    local.Config    `mapstructure:"local"`
	GCS      gcs.Config      `mapstructure:"gcs"`
	Postgres postgres.Config `mapstructure:"postgres"`
	Redis    redis.Config    `mapstructure:"redis"`
}

// JobsConfig selects the job service and its monitor settings.
type JobsConfig struct {
	Backend         string        `mapstructure:"backend"`
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ShowProgressBar bool          `mapstructure:"show_progress_bar"`
	Concurrency     int           `mapstructure:"concurrency"`
	QueueDepth      int           `mapstructure:"queue_depth"`
	// Formats are requested from the remote job service for every document.
	Formats []string `mapstructure:"formats"`
	// ResultCacheSize and ResultTTL bound the finished job results the API keeps.
	ResultCacheSize int           `mapstructure:"result_cache_size"`
	ResultTTL       time.Duration `mapstructure:"result_ttl"`
}

// EventsConfig configures the event hub and its sinks.
type EventsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	LogEnabled     bool          `mapstructure:"log_enabled"`
	MetricsEnabled bool          `mapstructure:"metrics_enabled"`
	PubSub         pubsub.Config `mapstructure:"pubsub"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitor.default_interval", 24*time.Hour)
	v.SetDefault("monitor.cycle_interval", time.Hour)
	v.SetDefault("monitor.preview_chars", 500)
	v.SetDefault("monitor.diff_enabled", true)
	v.SetDefault("monitor.run_on_serve", true)
	v.SetDefault("fetcher.backend", FetcherColly)
	v.SetDefault("fetcher.user_agent", "pagewatch/0.1")
	v.SetDefault("fetcher.timeout", 30*time.Second)
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.markdown", true)
	v.SetDefault("fetcher.rate_limit.rps", 1.0)
	v.SetDefault("fetcher.rate_limit.burst", 1)
	v.SetDefault("fetcher.headless.max_parallel", 1)
	v.SetDefault("fetcher.headless.nav_timeout", 25*time.Second)
	v.SetDefault("fetcher.headless.promote_threshold", 2048)
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.local.base_dir", ".pagewatch/targets")
	v.SetDefault("storage.gcs.prefix", "pagewatch/targets")
	v.SetDefault("storage.postgres.table", "tracked_targets")
	v.SetDefault("storage.redis.prefix", "pagewatch:target:")
	v.SetDefault("jobs.backend", JobsLocal)
	v.SetDefault("jobs.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("jobs.timeout", 30*time.Second)
	v.SetDefault("jobs.poll_interval", 2*time.Second)
	v.SetDefault("jobs.show_progress_bar", true)
	v.SetDefault("jobs.concurrency", 4)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.formats", []string{"markdown"})
	v.SetDefault("jobs.result_cache_size", 1024)
	v.SetDefault("jobs.result_ttl", time.Hour)
	v.SetDefault("events.enabled", true)
	v.SetDefault("events.buffer_size", 256)
	v.SetDefault("events.max_batch_events", 32)
	v.SetDefault("events.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("events.log_enabled", true)
	v.SetDefault("events.metrics_enabled", true)
	v.SetDefault("telemetry.service_name", "pagewatch")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Monitor.DefaultInterval < 0 {
		return fmt.Errorf("monitor.default_interval must be >= 0")
	}
	if c.Monitor.CycleInterval <= 0 {
		return fmt.Errorf("monitor.cycle_interval must be > 0")
	}
	if err := c.validateFetcher(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if c.Events.PubSub.Topic != "" && c.Events.PubSub.ProjectID == "" {
		return fmt.Errorf("events.pubsub.project_id must be set when a topic is configured")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

func (c Config) validateFetcher() error {
	switch c.Fetcher.Backend {
	case FetcherColly:
	case FetcherHeadless, FetcherAuto:
		if c.Fetcher.Headless.MaxParallel <= 0 {
			return fmt.Errorf("fetcher.headless.max_parallel must be > 0 when headless rendering is enabled")
		}
	default:
		return fmt.Errorf("fetcher.backend %q is not supported", c.Fetcher.Backend)
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if c.Fetcher.RateLimit.RPS < 0 {
		return fmt.Errorf("fetcher.rate_limit.rps must be >= 0")
	}
	return nil
}

func (c Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	case StoragePostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres backend")
		}
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	return nil
}

func (c Config) validateJobs() error {
	switch c.Jobs.Backend {
	case JobsLocal:
		if c.Jobs.Concurrency <= 0 {
			return fmt.Errorf("jobs.concurrency must be > 0")
		}
		if c.Jobs.QueueDepth <= 0 {
			return fmt.Errorf("jobs.queue_depth must be > 0")
		}
	case JobsHTTP:
		if c.Jobs.BaseURL == "" {
			return fmt.Errorf("jobs.base_url must be set for the http backend")
		}
		if c.Jobs.APIKey == "" {
			return fmt.Errorf("jobs.api_key must be set for the http backend")
		}
	default:
		return fmt.Errorf("jobs.backend %q is not supported", c.Jobs.Backend)
	}
	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("jobs.poll_interval must be > 0")
	}
	if c.Jobs.ResultCacheSize < 0 {
		return fmt.Errorf("jobs.result_cache_size must be >= 0")
	}
	if c.Jobs.ResultTTL < 0 {
		return fmt.Errorf("jobs.result_ttl must be >= 0")
	}
	return nil
}
