// Package config loads and validates cloner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Storage backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Content   ContentConfig   `mapstructure:"content"`
	Retry     RetryConfig     `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int      `mapstructure:"port"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	AllowPrivate          bool     `mapstructure:"allow_private"`
	DenyHosts             []string `mapstructure:"deny_hosts"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig governs document retrieval through relays.
type FetchConfig struct {
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MinBytes       int      `mapstructure:"min_bytes"`
	Relays         []string `mapstructure:"relays"`
	UserAgent      string   `mapstructure:"user_agent"`
	DirectLast     bool     `mapstructure:"direct_last"`
	MaxBodyBytes   int      `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the rendered capture subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	SettleMs      int  `mapstructure:"settle_ms"`
	Screenshot    bool `mapstructure:"screenshot"`
}

// AssetsConfig bounds the asset pipeline.
type AssetsConfig struct {
	MaxStylesheets       int   `mapstructure:"max_stylesheets"`
	MaxScripts           int   `mapstructure:"max_scripts"`
	MaxImages            int   `mapstructure:"max_images"`
	MaxBackgroundImages  int   `mapstructure:"max_background_images"`
	MaxFonts             int   `mapstructure:"max_fonts"`
	TextTimeoutSeconds   int   `mapstructure:"text_timeout_seconds"`
	BinaryTimeoutSeconds int   `mapstructure:"binary_timeout_seconds"`
	MaxAssetBytes        int64 `mapstructure:"max_asset_bytes"`
}

// ContentConfig caps structured content acquisition.
type ContentConfig struct {
	MaxPosts       int `mapstructure:"max_posts"`
	MaxPages       int `mapstructure:"max_pages"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// RetryConfig configures exponential backoff for analyzer calls.
type RetryConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	InitialBackoffMs int `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `mapstructure:"max_backoff_ms"`
}

// RateLimitConfig bounds new runs per caller.
type RateLimitConfig struct {
	RunsPerMinute float64 `mapstructure:"runs_per_minute"`
	Burst         int     `mapstructure:"burst"`
}

// StorageConfig selects the run repository and blob backends.
type StorageConfig struct {
	Runs      string `mapstructure:"runs"`
	Blobs     string `mapstructure:"blobs"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig controls access to Redis.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TTLHours  int    `mapstructure:"ttl_hours"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// QueueConfig sizes the run queue and worker pool.
type QueueConfig struct {
	Depth             int `mapstructure:"depth"`
	Workers           int `mapstructure:"workers"`
	RunTimeoutSeconds int `mapstructure:"run_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file and CLONER_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLONER")
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
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.min_bytes", 500)
	v.SetDefault("fetch.relays", []string{
		"https://api.allorigins.win/raw?url=%s",
		"https://corsproxy.io/?url=%s",
		"https://api.codetabs.com/v1/proxy?quest=%s",
	})
	v.SetDefault("fetch.user_agent", "site-cloner/0.1")
	v.SetDefault("fetch.direct_last", true)
	v.SetDefault("fetch.max_body_bytes", 20<<20)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("assets.max_stylesheets", 10)
	v.SetDefault("assets.max_scripts", 10)
	v.SetDefault("assets.max_images", 30)
	v.SetDefault("assets.max_background_images", 10)
	v.SetDefault("assets.max_fonts", 10)
	v.SetDefault("assets.text_timeout_seconds", 10)
	v.SetDefault("assets.binary_timeout_seconds", 15)
	v.SetDefault("assets.max_asset_bytes", 10<<20)
	v.SetDefault("content.max_posts", 50)
	v.SetDefault("content.max_pages", 50)
	v.SetDefault("content.timeout_seconds", 15)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 8000)
	v.SetDefault("ratelimit.runs_per_minute", 10)
	v.SetDefault("ratelimit.burst", 3)
	v.SetDefault("storage.runs", BackendMemory)
	v.SetDefault("storage.blobs", BackendMemory)
	v.SetDefault("storage.prefix", "clones")
	v.SetDefault("db.table", "clone_runs")
	v.SetDefault("redis.key_prefix", "cloner:")
	v.SetDefault("redis.ttl_hours", 168)
	v.SetDefault("queue.depth", 64)
	v.SetDefault("queue.workers", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if !c.Fetch.DirectLast && len(c.Fetch.Relays) == 0 {
		return fmt.Errorf("fetch.relays must not be empty when fetch.direct_last is false")
	}
	for _, r := range c.Fetch.Relays {
		if strings.Count(r, "%s") != 1 {
			return fmt.Errorf("fetch.relays entry %q must contain exactly one %%s", r)
		}
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	if c.Queue.Depth < 0 {
		return fmt.Errorf("queue.depth must be >= 0")
	}
	switch c.Storage.Runs {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.runs is postgres")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when storage.runs is redis")
		}
	default:
		return fmt.Errorf("storage.runs must be one of memory, postgres, redis; got %q", c.Storage.Runs)
	}
	switch c.Storage.Blobs {
	case BackendMemory, "":
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set when storage.blobs is local")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.blobs is gcs")
		}
	default:
		return fmt.Errorf("storage.blobs must be one of memory, local, gcs; got %q", c.Storage.Blobs)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// Backoff converts the retry section.
func (c Config) Backoff() cloner.Backoff {
	return cloner.Backoff{
		MaxAttempts: c.Retry.MaxAttempts,
		Initial:     time.Duration(c.Retry.InitialBackoffMs) * time.Millisecond,
		Max:         time.Duration(c.Retry.MaxBackoffMs) * time.Millisecond,
	}
}

// FetchTimeout is the per-endpoint document timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// RedisTTL is the retention of run keys in Redis.
func (c Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLHours) * time.Hour
}

// RequestTimeout bounds one HTTP API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
