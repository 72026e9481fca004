package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/crawlbridge/internal/crawler"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  concurrency: 6
  queue_depth: 128
  channel_capacity: 8
  chunk_size: 4096
  task_timeout: 45s
  max_documents_default: 500
retry:
  delay: 30s
  give_up_after: 1h
  max_attempts: 5
http:
  timeout_seconds: 45
  user_agent: real-agent
  rate_limit:
    default_rps: 4
    default_burst: 2
storage:
  backend: local
  base_dir: /var/lib/crawlbridge
versions:
  backend: postgres
  dsn: postgres://crawler@db/crawl
publisher:
  backend: kafka
  topic: docs
  kafka:
    brokers: ["kafka-1:9092", "kafka-2:9092"]
logging:
  development: false
progress:
  max_batch_wait: 250ms
  log_events: true
connectors:
  shared:
    kind: filesystem
    filesystem:
      roots: ["/srv/shared"]
  intranet:
    kind: web
    web:
      seeds: ["https://intranet.example.com/"]
      allow_hosts: ["intranet.example.com"]
  archive:
    kind: s3
    object:
      bucket: archive
      region: eu-west-1
standard_jobs:
  nightly-shared:
    connection: shared
    max_depth: 4
    exclude: ["*.tmp"]
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
	if cfg.Crawler.Concurrency != 6 || cfg.Crawler.ChannelCapacity != 8 || cfg.Crawler.TaskTimeout != 45*time.Second {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Retry.Delay != 30*time.Second || cfg.Retry.GiveUpAfter != time.Hour || cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("expected retry overrides to apply: %+v", cfg.Retry)
	}
	if cfg.HTTP.RateLimit.DefaultRPS != 4 || cfg.HTTP.RateLimit.DefaultBurst != 2 {
		t.Fatalf("expected rate limit overrides: %+v", cfg.HTTP.RateLimit)
	}
	if len(cfg.Publisher.Kafka.Brokers) != 2 || cfg.Publisher.Kafka.Acks != "all" {
		t.Fatalf("expected kafka settings with defaults: %+v", cfg.Publisher.Kafka)
	}
	if cfg.Progress.Hub.MaxBatchWait != 250*time.Millisecond || cfg.Progress.Hub.BufferSize != 4096 || !cfg.Progress.LogEvents {
		t.Fatalf("expected progress overrides: %+v", cfg.Progress)
	}
	if len(cfg.Connectors) != 3 {
		t.Fatalf("expected 3 connectors, got %d", len(cfg.Connectors))
	}
	if got := cfg.Connectors["shared"].Filesystem.Roots; len(got) != 1 || got[0] != "/srv/shared" {
		t.Fatalf("unexpected filesystem roots: %v", got)
	}
	if got := cfg.Connectors["archive"].Object.Region; got != "eu-west-1" {
		t.Fatalf("unexpected object region: %q", got)
	}
	job, ok := cfg.StandardJobs["nightly-shared"]
	if !ok || job.Connection != "shared" || job.MaxDepth != 4 || len(job.Exclude) != 1 {
		t.Fatalf("expected standard job to be loaded: %+v", cfg.StandardJobs)
	}
	if got := cfg.HTTPTimeout(); got != 45*time.Second {
		t.Fatalf("expected http timeout 45s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Retry.Delay != 5*time.Minute || cfg.Retry.GiveUpAfter != 3*time.Hour {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Storage.Backend != "memory" || cfg.Versions.Backend != "memory" || cfg.Publisher.Backend != "none" {
		t.Fatalf("unexpected backend defaults")
	}
	if cfg.Crawler.ChunkSize != 32*1024 {
		t.Fatalf("unexpected chunk size %d", cfg.Crawler.ChunkSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Crawler: CrawlerConfig{Concurrency: 1},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
	}

	tests := []struct {
		name string
		cfg  func(c *Config)
		want string
	}{
		{name: "invalid port", cfg: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid concurrency", cfg: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "invalid timeout", cfg: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{
			name: "headless missing max parallel",
			cfg:  func(c *Config) { c.Headless.Enabled = true },
			want: "headless.max_parallel",
		},
		{name: "auth missing api key", cfg: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "unknown storage", cfg: func(c *Config) { c.Storage.Backend = "ftp" }, want: "storage.backend"},
		{name: "gcs without bucket", cfg: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.bucket"},
		{name: "postgres without dsn", cfg: func(c *Config) { c.Versions.Backend = "postgres" }, want: "versions.dsn"},
		{name: "kafka without brokers", cfg: func(c *Config) { c.Publisher.Backend = "kafka" }, want: "publisher.kafka.brokers"},
		{name: "pubsub without project", cfg: func(c *Config) { c.Publisher.Backend = "pubsub" }, want: "publisher.project_id"},
		{
			name: "unknown connector kind",
			cfg: func(c *Config) {
				c.Connectors = map[string]ConnectorConfig{"x": {Kind: "ftp"}}
			},
			want: "connectors.x.kind",
		},
		{
			name: "filesystem without roots",
			cfg: func(c *Config) {
				c.Connectors = map[string]ConnectorConfig{"fs": {Kind: KindFilesystem}}
			},
			want: "connectors.fs.filesystem.roots",
		},
		{
			name: "standard job without connection",
			cfg: func(c *Config) {
				c.StandardJobs = map[string]crawler.JobParameters{"nightly": {Connection: "missing"}}
			},
			want: "unknown connection",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.cfg(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
