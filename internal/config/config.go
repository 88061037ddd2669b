// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SEARCHCRAWLER_CRAWLER_WORKERS.
const EnvPrefix = "SEARCHCRAWLER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Output  OutputConfig  `mapstructure:"output"`
	Server  ServerConfig  `mapstructure:"server"`
}

// CrawlerConfig describes what to crawl and how wide to fan out.
type CrawlerConfig struct {
	Keywords             []string      `mapstructure:"keywords"`
	SearchType           string        `mapstructure:"search_type"`
	Proxies              []string      `mapstructure:"proxies"`
	Workers              int           `mapstructure:"workers"`
	MaxConcurrentFetches int           `mapstructure:"max_concurrent_fetches"`
	MaxDuration          time.Duration `mapstructure:"max_duration"`
	EmitPartialItems     bool          `mapstructure:"emit_partial_items"`
	EntryURL             string        `mapstructure:"entry_url"`
}

// HTTPConfig configures the fetcher transport.
type HTTPConfig struct {
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	UserAgent          string  `mapstructure:"user_agent"`
	InsecureSkipVerify bool    `mapstructure:"insecure_skip_verify"`
	RespectRobots      bool    `mapstructure:"respect_robots"`
	RequestsPerSecond  float64 `mapstructure:"requests_per_second"`
	Burst              int     `mapstructure:"burst"`
	MaxBodyBytes       int     `mapstructure:"max_body_bytes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SinkConfig enables optional sinks next to the in-memory buffer.
type SinkConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// PostgresConfig controls the Postgres sink. An empty DSN disables it.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig controls the Pub/Sub sink. An empty topic disables it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// OutputConfig says where the final JSON document goes. An empty path means stdout.
type OutputConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Output backends.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// New returns a Viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Crawler.Keywords = splitList(cfg.Crawler.Keywords)
	cfg.Crawler.Proxies = splitList(cfg.Crawler.Proxies)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.keywords", []string{})
	v.SetDefault("crawler.search_type", "repositories")
	v.SetDefault("crawler.proxies", []string{})
	v.SetDefault("crawler.workers", 5)
	v.SetDefault("crawler.max_concurrent_fetches", 5)
	v.SetDefault("crawler.max_duration", time.Duration(0))
	v.SetDefault("crawler.emit_partial_items", false)
	v.SetDefault("crawler.entry_url", "")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "searchcrawler/0.1")
	v.SetDefault("http.insecure_skip_verify", true)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.requests_per_second", 0.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("sink.postgres.dsn", "")
	v.SetDefault("sink.postgres.table", "crawl_items")
	v.SetDefault("sink.postgres.max_conns", 4)
	v.SetDefault("sink.pubsub.project_id", "")
	v.SetDefault("sink.pubsub.topic", "")
	v.SetDefault("output.backend", BackendLocal)
	v.SetDefault("output.path", "")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.gcs_prefix", "")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Crawler.SearchType) == "" {
		errs = append(errs, errors.New("crawler.search_type is required"))
	}
	if c.Crawler.Workers <= 0 {
		errs = append(errs, errors.New("crawler.workers must be > 0"))
	}
	if c.Crawler.MaxConcurrentFetches <= 0 {
		errs = append(errs, errors.New("crawler.max_concurrent_fetches must be > 0"))
	}
	if c.Crawler.MaxDuration < 0 {
		errs = append(errs, errors.New("crawler.max_duration must be >= 0"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be > 0"))
	}
	if c.HTTP.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("http.requests_per_second must be >= 0"))
	}
	if c.HTTP.RequestsPerSecond > 0 && c.HTTP.Burst <= 0 {
		errs = append(errs, errors.New("http.burst must be > 0 when rate limiting is enabled"))
	}
	if c.Sink.PubSub.Topic != "" && c.Sink.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("sink.pubsub.project_id must be set when sink.pubsub.topic is set"))
	}
	switch c.Output.Backend {
	case BackendLocal:
	case BackendGCS:
		if c.Output.GCSBucket == "" {
			errs = append(errs, errors.New("output.gcs_bucket is required for the gcs backend"))
		}
		if c.Output.Path == "" {
			errs = append(errs, errors.New("output.path is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("output.backend must be %q or %q, got %q", BackendLocal, BackendGCS, c.Output.Backend))
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, errors.New("server.port must be between 1 and 65535"))
	}
	return errors.Join(errs...)
}

// Timeout converts http.timeout_seconds to a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
