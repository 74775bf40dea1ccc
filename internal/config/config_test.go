package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
download:
  output_dir: /srv/papers
  concurrency: 4
  date_subdir: false
  chunk_bytes: 65536
  queue_depth: 2
  sources: [people, legal]
  timezone: UTC
  roots:
    legal: http://mirror.test
http:
  timeout_seconds: 45
  discovery_timeout_seconds: 5
  user_agent: paper-agent
  max_retries: 1
  rate_limit_rps: 2.5
  insecure_skip_verify: true
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: archive
pubsub:
  project_id: proj
  topic_name: sessions
progress:
  max_batch_wait_ms: 250
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Download.Concurrency != 4 || cfg.Download.DateSubdir {
		t.Fatalf("expected download overrides to apply: %+v", cfg.Download)
	}
	if len(cfg.Download.Sources) != 2 || cfg.Download.Sources[1] != "legal" {
		t.Fatalf("expected sources to be loaded: %+v", cfg.Download.Sources)
	}
	if cfg.Download.Roots["legal"] != "http://mirror.test" {
		t.Fatalf("expected root override, got %+v", cfg.Download.Roots)
	}
	if loc, err := cfg.Location(); err != nil || loc != time.UTC {
		t.Fatalf("expected UTC location, got %v (%v)", loc, err)
	}
	if cfg.HTTP.RateLimitRPS != 2.5 || !cfg.HTTP.InsecureSkipVerify {
		t.Fatalf("expected http overrides to apply: %+v", cfg.HTTP)
	}
	if cfg.Storage.Backend != BackendGCS || cfg.Storage.GCSBucket != "bucket" {
		t.Fatalf("expected storage overrides: %+v", cfg.Storage)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
	if got := cfg.DownloadTimeout(); got != 45*time.Second {
		t.Fatalf("expected download timeout 45s, got %v", got)
	}
	if got := cfg.DiscoveryTimeout(); got != 5*time.Second {
		t.Fatalf("expected discovery timeout 5s, got %v", got)
	}
	if got := cfg.BatchWait(); got != 250*time.Millisecond {
		t.Fatalf("expected batch wait 250ms, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Download.Concurrency != 10 {
		t.Fatalf("expected default concurrency 10, got %d", cfg.Download.Concurrency)
	}
	if cfg.HTTP.TimeoutSeconds != 30 {
		t.Fatalf("expected default timeout 30, got %d", cfg.HTTP.TimeoutSeconds)
	}
	if cfg.Download.ChunkBytes != 2*1024*1024 {
		t.Fatalf("expected 2MiB chunks, got %d", cfg.Download.ChunkBytes)
	}
	if !cfg.Download.DateSubdir {
		t.Fatal("expected date subdirectories by default")
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Asia/Shanghai" {
		t.Fatalf("expected Asia/Shanghai, got %v (%v)", loc, err)
	}
}

func TestFromViperAppliesDefaultsToFlags(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("download.concurrency", 3)
	cfg, err := FromViper(v)
	if err != nil {
		t.Fatalf("FromViper() error = %v", err)
	}
	if cfg.Download.Concurrency != 3 {
		t.Fatalf("expected concurrency override, got %d", cfg.Download.Concurrency)
	}
	if cfg.HTTP.MaxIdleConns != 20 {
		t.Fatalf("expected default pool size, got %d", cfg.HTTP.MaxIdleConns)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Download: DownloadConfig{OutputDir: "out", Concurrency: 1, ChunkBytes: 1024, QueueDepth: 1},
		HTTP:     HTTPConfig{TimeoutSeconds: 10, DiscoveryTimeoutSeconds: 10},
		Server:   ServerConfig{Port: 8080},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "missing output dir",
			cfg: func() Config {
				c := base
				c.Download.OutputDir = ""
				return c
			}(),
			want: "download.output_dir",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Download.Concurrency = 0
				return c
			}(),
			want: "download.concurrency",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "negative retries",
			cfg: func() Config {
				c := base
				c.HTTP.MaxRetries = -1
				return c
			}(),
			want: "http.max_retries",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "gcs missing bucket",
			cfg: func() Config {
				c := base
				c.Storage.Backend = BackendGCS
				return c
			}(),
			want: "storage.gcs_bucket",
		},
		{
			name: "unknown backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "s3"
				return c
			}(),
			want: "storage.backend",
		},
		{
			name: "bad timezone",
			cfg: func() Config {
				c := base
				c.Download.Timezone = "Mars/Olympus"
				return c
			}(),
			want: "download.timezone",
		},
		{
			name: "topic without project",
			cfg: func() Config {
				c := base
				c.PubSub.TopicName = "sessions"
				return c
			}(),
			want: "pubsub.project_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
