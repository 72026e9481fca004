// Package config loads and validates crawlbridge configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawlbridge/internal/connectors/filesystem"
	"github.com/JakeFAU/crawlbridge/internal/connectors/objectstore"
	"github.com/JakeFAU/crawlbridge/internal/connectors/web"
	"github.com/JakeFAU/crawlbridge/internal/crawler"
	"github.com/JakeFAU/crawlbridge/internal/policy/ratelimit"
	"github.com/JakeFAU/crawlbridge/internal/progress"
	"github.com/JakeFAU/crawlbridge/internal/publisher/kafka"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig                     `mapstructure:"server"`
	Auth         AuthConfig                       `mapstructure:"auth"`
	Crawler      CrawlerConfig                    `mapstructure:"crawler"`
	Retry        RetryConfig                      `mapstructure:"retry"`
	HTTP         HTTPConfig                       `mapstructure:"http"`
	Headless     HeadlessConfig                   `mapstructure:"headless"`
	Storage      StorageConfig                    `mapstructure:"storage"`
	Versions     VersionsConfig                   `mapstructure:"versions"`
	Publisher    PublisherConfig                  `mapstructure:"publisher"`
	Logging      LoggingConfig                    `mapstructure:"logging"`
	Progress     ProgressConfig                   `mapstructure:"progress"`
	Tracing      TracingConfig                    `mapstructure:"tracing"`
	Connectors   map[string]ConnectorConfig       `mapstructure:"connectors"`
	StandardJobs map[string]crawler.JobParameters `mapstructure:"standard_jobs"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs dispatcher, worker and bridge behavior.
type CrawlerConfig struct {
	Concurrency         int           `mapstructure:"concurrency"`
	QueueDepth          int           `mapstructure:"queue_depth"`
	ChannelCapacity     int           `mapstructure:"channel_capacity"`
	ChunkSize           int           `mapstructure:"chunk_size"`
	TaskTimeout         time.Duration `mapstructure:"task_timeout"`
	MaxDepthDefault     int           `mapstructure:"max_depth_default"`
	MaxDocumentsDefault int           `mapstructure:"max_documents_default"`
	BudgetSeconds       int           `mapstructure:"budget_seconds"`
	ProgressInterval    time.Duration `mapstructure:"progress_interval"`
}

// RetryConfig bounds how transient document failures are retried.
type RetryConfig struct {
	Delay       time.Duration `mapstructure:"delay"`
	GiveUpAfter time.Duration `mapstructure:"give_up_after"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// HTTPConfig holds defaults applied to web connectors.
type HTTPConfig struct {
	TimeoutSeconds int              `mapstructure:"timeout_seconds"`
	UserAgent      string           `mapstructure:"user_agent"`
	RespectRobots  bool             `mapstructure:"respect_robots"`
	MaxBodyBytes   int              `mapstructure:"max_body_bytes"`
	RateLimit      ratelimit.Config `mapstructure:"rate_limit"`
}

// HeadlessConfig configures the optional browser renderer for web connectors.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig selects where ingested content is indexed.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// VersionsConfig selects the store for fingerprints, job records and activity.
type VersionsConfig struct {
	Backend       string        `mapstructure:"backend"`
	DSN           string        `mapstructure:"dsn"`
	MaxConns      int32         `mapstructure:"max_conns"`
	MinConns      int32         `mapstructure:"min_conns"`
	ConnLifetime  time.Duration `mapstructure:"conn_lifetime"`
	Table         string        `mapstructure:"table"`
	JobTable      string        `mapstructure:"job_table"`
	DocumentTable string        `mapstructure:"document_table"`
	ActivityTable string        `mapstructure:"activity_table"`
}

// PublisherConfig selects where ingestion events go.
type PublisherConfig struct {
	Backend   string       `mapstructure:"backend"`
	Topic     string       `mapstructure:"topic"`
	ProjectID string       `mapstructure:"project_id"`
	Kafka     kafka.Config `mapstructure:"kafka"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ProgressConfig controls the activity hub and its sinks.
type ProgressConfig struct {
	Hub        progress.Config `mapstructure:",squash"`
	LogEvents  bool            `mapstructure:"log_events"`
	Prometheus bool            `mapstructure:"prometheus"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ConnectorConfig is one named repository connection. Only the block matching Kind is used.
type ConnectorConfig struct {
	Kind       string             `mapstructure:"kind"`
	Filesystem filesystem.Config  `mapstructure:"filesystem"`
	Web        web.Config         `mapstructure:"web"`
	Object     objectstore.Config `mapstructure:"object"`
}

// Connector kinds.
const (
	KindFilesystem = "filesystem"
	KindWeb        = "web"
	KindGCS        = "gcs"
	KindS3         = "s3"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.channel_capacity", 16)
	v.SetDefault("crawler.chunk_size", 32*1024)
	v.SetDefault("crawler.task_timeout", "2m")
	v.SetDefault("crawler.max_depth_default", 0)
	v.SetDefault("crawler.max_documents_default", 0)
	v.SetDefault("crawler.budget_seconds", 0)
	v.SetDefault("crawler.progress_interval", "2s")
	v.SetDefault("retry.delay", "5m")
	v.SetDefault("retry.give_up_after", "3h")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "crawlbridge/0.1")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("http.rate_limit.default_rps", 2.0)
	v.SetDefault("http.rate_limit.default_burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.base_dir", "data/blobs")
	v.SetDefault("storage.prefix", "documents")
	v.SetDefault("versions.backend", "memory")
	v.SetDefault("versions.max_conns", 4)
	v.SetDefault("versions.table", "document_versions")
	v.SetDefault("versions.job_table", "crawl_jobs")
	v.SetDefault("versions.document_table", "crawl_documents")
	v.SetDefault("versions.activity_table", "crawl_activity")
	v.SetDefault("publisher.backend", "none")
	v.SetDefault("publisher.topic", "documents-ingested")
	v.SetDefault("publisher.kafka.client_id", "crawlbridge")
	v.SetDefault("publisher.kafka.acks", "all")
	v.SetDefault("logging.development", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "10s")
	v.SetDefault("progress.log_events", false)
	v.SetDefault("progress.prometheus", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "crawlbridge")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.ChannelCapacity < 0 || c.Crawler.ChunkSize < 0 {
		return fmt.Errorf("crawler.channel_capacity and crawler.chunk_size must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory", "":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Versions.Backend {
	case "memory", "":
	case "postgres":
		if c.Versions.DSN == "" {
			return fmt.Errorf("versions.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("versions.backend %q is not supported", c.Versions.Backend)
	}
	switch c.Publisher.Backend {
	case "none", "memory", "":
	case "pubsub":
		if c.Publisher.ProjectID == "" {
			return fmt.Errorf("publisher.project_id is required for the pubsub backend")
		}
	case "kafka":
		if len(c.Publisher.Kafka.Brokers) == 0 {
			return fmt.Errorf("publisher.kafka.brokers is required for the kafka backend")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not supported", c.Publisher.Backend)
	}
	for name, conn := range c.Connectors {
		switch conn.Kind {
		case KindFilesystem:
			if len(conn.Filesystem.Roots) == 0 {
				return fmt.Errorf("connectors.%s.filesystem.roots is required", name)
			}
		case KindWeb:
			if len(conn.Web.Seeds) == 0 {
				return fmt.Errorf("connectors.%s.web.seeds is required", name)
			}
		case KindGCS, KindS3:
			if conn.Object.Bucket == "" {
				return fmt.Errorf("connectors.%s.object.bucket is required", name)
			}
		default:
			return fmt.Errorf("connectors.%s.kind %q is not supported", name, conn.Kind)
		}
	}
	for name, job := range c.StandardJobs {
		if _, ok := c.Connectors[job.Connection]; !ok {
			return fmt.Errorf("standard_jobs.%s references unknown connection %q", name, job.Connection)
		}
	}
	return nil
}

// HTTPTimeout is the per-request timeout for web connectors.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
