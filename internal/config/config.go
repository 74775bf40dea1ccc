// Package config loads and validates downloader configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	// Embedded zone data keeps download.timezone usable in minimal images.
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Download DownloadConfig `mapstructure:"download"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DownloadConfig governs sessions and the dispatcher.
type DownloadConfig struct {
	OutputDir   string   `mapstructure:"output_dir"`
	Concurrency int      `mapstructure:"concurrency"`
	DateSubdir  bool     `mapstructure:"date_subdir"`
	ChunkBytes  int      `mapstructure:"chunk_bytes"`
	QueueDepth  int      `mapstructure:"queue_depth"`
	Sources     []string `mapstructure:"sources"`
	// Timezone decides which calendar day counts as today.
	Timezone string `mapstructure:"timezone"`
	// Roots overrides a newspaper's site root, keyed by source id.
	Roots map[string]string `mapstructure:"roots"`
}

// HTTPConfig configures the shared HTTP client used for discovery and downloads.
type HTTPConfig struct {
	TimeoutSeconds          int     `mapstructure:"timeout_seconds"`
	DiscoveryTimeoutSeconds int     `mapstructure:"discovery_timeout_seconds"`
	UserAgent               string  `mapstructure:"user_agent"`
	AcceptLanguage          string  `mapstructure:"accept_language"`
	MaxIdleConns            int     `mapstructure:"max_idle_conns"`
	MaxRetries              int     `mapstructure:"max_retries"`
	BackoffInitialMs        int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs            int     `mapstructure:"backoff_max_ms"`
	RateLimitRPS            float64 `mapstructure:"rate_limit_rps"`
	InsecureSkipVerify      bool    `mapstructure:"insecure_skip_verify"`
	RespectRobots           bool    `mapstructure:"respect_robots"`
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

// StorageConfig selects where finished PDFs are archived, if anywhere.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the session history database.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub batching.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	HistoryLimit   int `mapstructure:"history_limit"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level overrides the preset's minimum level when set.
	Level string `mapstructure:"level"`
}

// Archive backends.
const (
	BackendNone  = "none"
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAPERFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a Config from an already populated viper
// instance. Defaults are applied for any key the instance does not carry.
func FromViper(v *viper.Viper) (Config, error) {
	setDefaults(v)

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
	v.SetDefault("download.output_dir", "newspapers")
	v.SetDefault("download.concurrency", 10)
	v.SetDefault("download.date_subdir", true)
	v.SetDefault("download.chunk_bytes", 2*1024*1024)
	v.SetDefault("download.queue_depth", 16)
	v.SetDefault("download.sources", []string{})
	v.SetDefault("download.timezone", "Asia/Shanghai")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.discovery_timeout_seconds", 10)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("http.accept_language", "zh-CN,zh;q=0.9,en;q=0.8")
	v.SetDefault("http.max_idle_conns", 20)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.insecure_skip_verify", false)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.prefix", "papers")
	v.SetDefault("storage.content_type", "application/pdf")
	v.SetDefault("db.table", "download_sessions")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 64)
	v.SetDefault("progress.max_batch_wait_ms", 100)
	v.SetDefault("progress.history_limit", 500)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Download.OutputDir == "" {
		return fmt.Errorf("download.output_dir must be set")
	}
	if c.Download.Concurrency <= 0 {
		return fmt.Errorf("download.concurrency must be > 0")
	}
	if c.Download.ChunkBytes <= 0 {
		return fmt.Errorf("download.chunk_bytes must be > 0")
	}
	if c.Download.QueueDepth <= 0 {
		return fmt.Errorf("download.queue_depth must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("download.timezone must be a valid IANA zone: %w", err)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.DiscoveryTimeoutSeconds <= 0 {
		return fmt.Errorf("http.discovery_timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must be >= 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "", BackendNone:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.backend is local")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// DownloadTimeout converts the HTTP timeout into a duration.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DiscoveryTimeout converts the index page timeout into a duration.
func (c Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.HTTP.DiscoveryTimeoutSeconds) * time.Second
}

// Location resolves download.timezone. An empty zone means UTC.
func (c Config) Location() (*time.Location, error) {
	if c.Download.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Download.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Download.Timezone, err)
	}
	return loc, nil
}

// BatchWait converts the progress batch wait into a duration.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}
