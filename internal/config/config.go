// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	Auth      AuthConfig           `mapstructure:"auth"`
	Logging   LoggingConfig        `mapstructure:"logging"`
	Crawl     CrawlConfig          `mapstructure:"crawl"`
	Schedule  ScheduleConfig       `mapstructure:"schedule"`
	LogSink   LogSinkConfig        `mapstructure:"logsink"`
	Storage   StorageConfig        `mapstructure:"storage"`
	Watermark WatermarkConfig      `mapstructure:"watermark"`
	Jobs      JobsConfig           `mapstructure:"jobs"`
	DB        DBConfig             `mapstructure:"db"`
	PubSub    PubSubConfig         `mapstructure:"pubsub"`
	Sources   []crawler.SourceSpec `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlConfig governs the orchestrator and worker pool.
type CrawlConfig struct {
	ChunkSize        int           `mapstructure:"chunk_size"`
	DefaultLookback  time.Duration `mapstructure:"default_lookback"`
	RunTimeout       time.Duration `mapstructure:"run_timeout"`
	WriteConcurrency int           `mapstructure:"write_concurrency"`
	Workers          int           `mapstructure:"workers"`
	QueueDepth       int           `mapstructure:"queue_depth"`
	KeyPrefix        string        `mapstructure:"key_prefix"`
	UserAgent        string        `mapstructure:"user_agent"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
}

// ScheduleConfig controls the cron trigger. A zero interval disables it.
type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LogSinkConfig controls per-job log persistence.
type LogSinkConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	CloseTimeout  time.Duration `mapstructure:"close_timeout"`
	Level         string        `mapstructure:"level"`
}

// StorageConfig selects the blob backend for chunks and job logs.
type StorageConfig struct {
	Backend    string             `mapstructure:"backend"`
	FeedBucket string             `mapstructure:"feed_bucket"`
	LogBucket  string             `mapstructure:"log_bucket"`
	Local      LocalStorageConfig `mapstructure:"local"`
	S3         S3StorageConfig    `mapstructure:"s3"`
}

// LocalStorageConfig roots the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// S3StorageConfig addresses an S3-compatible endpoint such as R2.
type S3StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
}

// WatermarkConfig selects the high-water-mark backend.
type WatermarkConfig struct {
	Backend string `mapstructure:"backend"`
	Key     string `mapstructure:"key"`
}

// JobsConfig selects where job metadata lives.
type JobsConfig struct {
	Backend string `mapstructure:"backend"`
	Table   string `mapstructure:"table"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Storage, watermark and job backends.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendChunks   = "chunks"
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
	if cfg.Storage.LogBucket == "" {
		cfg.Storage.LogBucket = cfg.Storage.FeedBucket
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("crawl.chunk_size", 10)
	v.SetDefault("crawl.default_lookback", "4h")
	v.SetDefault("crawl.run_timeout", "5m")
	v.SetDefault("crawl.write_concurrency", 4)
	v.SetDefault("crawl.workers", 1)
	v.SetDefault("crawl.queue_depth", 16)
	v.SetDefault("crawl.key_prefix", crawler.DefaultChunkPrefix)
	v.SetDefault("crawl.user_agent", "realtime-feed-crawler/1.0")
	v.SetDefault("crawl.http_timeout", "30s")
	v.SetDefault("schedule.interval", "0s")
	v.SetDefault("logsink.flush_interval", "1s")
	v.SetDefault("logsink.close_timeout", "10s")
	v.SetDefault("logsink.level", "info")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.feed_bucket", "")
	v.SetDefault("storage.log_bucket", "")
	v.SetDefault("storage.local.base_dir", "data")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("storage.s3.region", "auto")
	v.SetDefault("watermark.backend", BackendMemory)
	v.SetDefault("watermark.key", "frontTimestamp")
	v.SetDefault("jobs.backend", BackendMemory)
	v.SetDefault("jobs.table", "crawl_jobs")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "watermarks")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawl.ChunkSize <= 0 {
		return fmt.Errorf("crawl.chunk_size must be > 0")
	}
	if c.Crawl.WriteConcurrency <= 0 {
		return fmt.Errorf("crawl.write_concurrency must be > 0")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.QueueDepth <= 0 {
		return fmt.Errorf("crawl.queue_depth must be > 0")
	}
	if c.Crawl.DefaultLookback <= 0 {
		return fmt.Errorf("crawl.default_lookback must be > 0")
	}
	if c.Crawl.RunTimeout < 0 {
		return fmt.Errorf("crawl.run_timeout must be >= 0")
	}
	if c.Schedule.Interval < 0 {
		return fmt.Errorf("schedule.interval must be >= 0")
	}
	if _, err := c.LogSinkLevel(); err != nil {
		return fmt.Errorf("logsink.level: %w", err)
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	return validateSources(c.Sources)
}

// LogSinkLevel parses logsink.level.
func (c Config) LogSinkLevel() (zapcore.Level, error) {
	if c.LogSink.Level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(c.LogSink.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("parse level: %w", err)
	}
	return lvl, nil
}

func (c Config) validateStorage() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.FeedBucket == "" {
			return fmt.Errorf("storage.feed_bucket is required for the gcs backend")
		}
	case BackendS3:
		if c.Storage.FeedBucket == "" {
			return fmt.Errorf("storage.feed_bucket is required for the s3 backend")
		}
		if c.Storage.S3.Endpoint == "" {
			return fmt.Errorf("storage.s3.endpoint is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs, s3", c.Storage.Backend)
	}
	return nil
}

func (c Config) validateBackends() error {
	switch c.Watermark.Backend {
	case BackendMemory, BackendChunks:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres watermark backend")
		}
	default:
		return fmt.Errorf("watermark.backend %q is not one of memory, postgres, chunks", c.Watermark.Backend)
	}
	if c.Watermark.Key == "" {
		return fmt.Errorf("watermark.key must be set")
	}
	switch c.Jobs.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres jobs backend")
		}
	default:
		return fmt.Errorf("jobs.backend %q is not one of memory, postgres", c.Jobs.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

func validateSources(specs []crawler.SourceSpec) error {
	seen := make(map[string]struct{}, len(specs))
	for i, spec := range specs {
		field := fmt.Sprintf("sources[%d]", i)
		if spec.ID == "" {
			return fmt.Errorf("%s.id is required", field)
		}
		if _, dup := seen[spec.ID]; dup {
			return fmt.Errorf("%s.id %q is duplicated", field, spec.ID)
		}
		seen[spec.ID] = struct{}{}
		if err := spec.Type.Validate(); err != nil {
			return fmt.Errorf("%s.type: %w", field, err)
		}
		if spec.MaxCount < 0 || spec.PageSize < 0 || spec.MaxPages < 0 || spec.PageRetries < 0 {
			return fmt.Errorf("%s: limits must be >= 0", field)
		}
		if spec.RequestsPerSecond < 0 {
			return fmt.Errorf("%s.requests_per_second must be >= 0", field)
		}
		switch spec.Type {
		case crawler.SourceKindBsky:
			if spec.Bsky == nil || spec.Bsky.Identifier == "" {
				return fmt.Errorf("%s.bsky.identifier is required", field)
			}
		case crawler.SourceKindRSS:
			if spec.RSS == nil || spec.RSS.URL == "" {
				return fmt.Errorf("%s.rss.url is required", field)
			}
		}
	}
	return nil
}
