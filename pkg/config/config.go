// Package config provides the SIEM daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the root configuration.
type Config struct {
	Source      SourceConfig      `yaml:"source"`
	Collection  CollectionConfig  `yaml:"collection"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Enrichment  EnrichmentConfig  `yaml:"enrichment"`
	Store       StoreConfig       `yaml:"store"`
	Filters     FiltersConfig     `yaml:"filters"`
	Output      OutputConfig      `yaml:"output"`
	API         APIConfig         `yaml:"api"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type SourceConfig struct {
	// Path of the IDS alert log to tail.
	Path string `yaml:"path"`
	// Synthetic forces the synthetic generator even if Path exists.
	Synthetic bool `yaml:"synthetic"`
	// SyntheticBatch alerts generated per tick. Default 2.
	SyntheticBatch int `yaml:"synthetic_batch"`
	// SyntheticSeed 0 = seeded from the clock.
	SyntheticSeed int64 `yaml:"synthetic_seed"`
}

type CollectionConfig struct {
	IntervalSeconds     int `yaml:"interval_seconds"`      // default 5
	ErrorBackoffSeconds int `yaml:"error_backoff_seconds"` // default 10
}

type CorrelationConfig struct {
	IntervalSeconds    int `yaml:"interval_seconds"`    // default 30
	WindowMinutes      int `yaml:"window_minutes"`      // default 10
	AlertThreshold     int `yaml:"alert_threshold"`     // default 5
	SignatureThreshold int `yaml:"signature_threshold"` // default 3
	// RecentLimit is how many stored alerts each pass analyzes. Default 500.
	RecentLimit int `yaml:"recent_limit"`
	// SuppressMinutes > 0 drops a repeat {src_ip, attack_type} detection inside the cooldown.
	SuppressMinutes int `yaml:"suppress_minutes"`
}

type EnrichmentConfig struct {
	Enabled        *bool  `yaml:"enabled"`
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CacheTTLHours  int    `yaml:"cache_ttl_hours"`
	CacheSize      int    `yaml:"cache_size"`
	// RatePerMinute caps outbound lookups; ip-api.com allows 45/min on the free tier.
	RatePerMinute int `yaml:"rate_per_minute"`
}

type StoreConfig struct {
	// Driver is "sqlite" or "postgres". Empty DSN keeps everything in memory.
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention_days"`
}

type FiltersConfig struct {
	// Path to a YAML file or directory of drop rules. Empty = no filtering.
	Path string `yaml:"path"`
}

type OutputConfig struct {
	// File writes detections to a local file (JSON lines).
	File FileOutputConfig `yaml:"file"`
	// Stderr prints detections to stderr. Default false.
	Stderr *bool `yaml:"stderr"`
	// Remote sends detections to a collector.
	Remote RemoteOutputConfig `yaml:"remote"`
	// Nats publishes detections and block-list changes.
	Nats NatsOutputConfig `yaml:"nats"`
}

type FileOutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type RemoteOutputConfig struct {
	Enabled bool `yaml:"enabled"`
	// Address host:port of the collector.
	Address string `yaml:"address"`
	// Protocol "tcp", "tls", "http" or "https". Default tcp.
	Protocol             string `yaml:"protocol"`
	HTTPEndpoint         string `yaml:"http_endpoint"`
	MaxRetries           int    `yaml:"max_retries"`
	RetryIntervalSeconds int    `yaml:"retry_interval"`
}

type NatsOutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`     // e.g. nats://localhost:4222
	Subject string `yaml:"subject"` // detections subject, default siem.detections
	// BlockSubject carries block/unblock notifications. Default siem.blocks.
	BlockSubject string `yaml:"block_subject"`
	// Commands accepts block/unblock/list requests on CommandSubject (default siem.commands).
	Commands       bool   `yaml:"commands"`
	CommandSubject string `yaml:"command_subject"`
}

type APIConfig struct {
	Enabled        *bool    `yaml:"enabled"`
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error. Default info.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	JSON       bool   `yaml:"json"`
}

// Load reads config from path. If path is empty, returns default config.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config yaml: %w", err)
		}
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns default configuration.
func Default() *Config {
	trueVal := true
	falseVal := false
	return &Config{
		Source: SourceConfig{
			Path:           "/var/log/snort/alert_fast.log",
			SyntheticBatch: 2,
		},
		Collection: CollectionConfig{
			IntervalSeconds:     5,
			ErrorBackoffSeconds: 10,
		},
		Correlation: CorrelationConfig{
			IntervalSeconds:    30,
			WindowMinutes:      10,
			AlertThreshold:     5,
			SignatureThreshold: 3,
			RecentLimit:        500,
		},
		Enrichment: EnrichmentConfig{
			Enabled:        &trueVal,
			URL:            "http://ip-api.com/json/",
			TimeoutSeconds: 5,
			CacheTTLHours:  24,
			CacheSize:      10000,
			RatePerMinute:  45,
		},
		Store: StoreConfig{
			Driver:        "sqlite",
			DSN:           "data/siem.db",
			RetentionDays: 30,
		},
		Output: OutputConfig{
			Stderr: &falseVal,
			Remote: RemoteOutputConfig{
				Protocol:             "tcp",
				HTTPEndpoint:         "/detections",
				MaxRetries:           5,
				RetryIntervalSeconds: 10,
			},
			Nats: NatsOutputConfig{
				URL:            "nats://localhost:4222",
				Subject:        "siem.detections",
				BlockSubject:   "siem.blocks",
				CommandSubject: "siem.commands",
			},
		},
		API: APIConfig{
			Enabled:        &trueVal,
			Addr:           "127.0.0.1:8080",
			AllowedOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Normalize applies environment overrides and fills zero values with defaults.
func (c *Config) Normalize() {
	if v := os.Getenv("SIEM_LOG_PATH"); v != "" {
		c.Source.Path = v
	}
	if v := os.Getenv("SIEM_DB_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v, ok := os.LookupEnv("SIEM_DB_DSN"); ok {
		c.Store.DSN = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Output.Nats.URL = v
	}
	if v := os.Getenv("SIEM_API_ADDR"); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("SIEM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	d := Default()
	if c.Source.SyntheticBatch <= 0 {
		c.Source.SyntheticBatch = d.Source.SyntheticBatch
	}
	if c.Collection.IntervalSeconds <= 0 {
		c.Collection.IntervalSeconds = d.Collection.IntervalSeconds
	}
	if c.Collection.ErrorBackoffSeconds <= 0 {
		c.Collection.ErrorBackoffSeconds = d.Collection.ErrorBackoffSeconds
	}
	if c.Correlation.IntervalSeconds <= 0 {
		c.Correlation.IntervalSeconds = d.Correlation.IntervalSeconds
	}
	if c.Correlation.RecentLimit <= 0 {
		c.Correlation.RecentLimit = d.Correlation.RecentLimit
	}
	if c.Enrichment.URL == "" {
		c.Enrichment.URL = d.Enrichment.URL
	}
	if c.Enrichment.TimeoutSeconds <= 0 {
		c.Enrichment.TimeoutSeconds = d.Enrichment.TimeoutSeconds
	}
	if c.Enrichment.CacheTTLHours <= 0 {
		c.Enrichment.CacheTTLHours = d.Enrichment.CacheTTLHours
	}
	if c.Enrichment.CacheSize <= 0 {
		c.Enrichment.CacheSize = d.Enrichment.CacheSize
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" || c.Store.Driver == "sqlite3" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "postgresql" {
		c.Store.Driver = "postgres"
	}
	if c.Output.Remote.Protocol == "" {
		c.Output.Remote.Protocol = "tcp"
	}
	if c.Output.Nats.Subject == "" {
		c.Output.Nats.Subject = d.Output.Nats.Subject
	}
	if c.Output.Nats.BlockSubject == "" {
		c.Output.Nats.BlockSubject = d.Output.Nats.BlockSubject
	}
	if c.Output.Nats.CommandSubject == "" {
		c.Output.Nats.CommandSubject = d.Output.Nats.CommandSubject
	}
	if c.API.Addr == "" {
		c.API.Addr = d.API.Addr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if !c.Source.Synthetic && c.Source.Path == "" {
		return fmt.Errorf("%w: source.path is required unless source.synthetic is set", ErrInvalid)
	}
	if c.Correlation.WindowMinutes <= 0 {
		return fmt.Errorf("%w: correlation.window_minutes must be positive", ErrInvalid)
	}
	if c.Correlation.AlertThreshold <= 0 || c.Correlation.SignatureThreshold <= 0 {
		return fmt.Errorf("%w: correlation thresholds must be positive", ErrInvalid)
	}
	if c.Correlation.SuppressMinutes < 0 {
		return fmt.Errorf("%w: correlation.suppress_minutes must not be negative", ErrInvalid)
	}
	if c.Store.RetentionDays < 0 {
		return fmt.Errorf("%w: store.retention_days must not be negative", ErrInvalid)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: store.driver %q (want sqlite or postgres)", ErrInvalid, c.Store.Driver)
	}
	if c.Output.File.Enabled && c.Output.File.Path == "" {
		return fmt.Errorf("%w: output.file.path is required when output.file is enabled", ErrInvalid)
	}
	if c.Output.Remote.Enabled && c.Output.Remote.Address == "" {
		return fmt.Errorf("%w: output.remote.address is required when output.remote is enabled", ErrInvalid)
	}
	return nil
}

// EnrichmentEnabled returns whether external geo lookups are on.
func (c *Config) EnrichmentEnabled() bool {
	return c.Enrichment.Enabled == nil || *c.Enrichment.Enabled
}

// APIEnabled returns whether the operator HTTP API is served.
func (c *Config) APIEnabled() bool {
	return c.API.Enabled == nil || *c.API.Enabled
}

// OutputStderrEnabled returns whether to print detections to stderr.
func (c *Config) OutputStderrEnabled() bool {
	return c.Output.Stderr != nil && *c.Output.Stderr
}

func (c *Config) CollectionInterval() time.Duration {
	return time.Duration(c.Collection.IntervalSeconds) * time.Second
}

func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.Collection.ErrorBackoffSeconds) * time.Second
}

func (c *Config) CorrelationInterval() time.Duration {
	return time.Duration(c.Correlation.IntervalSeconds) * time.Second
}

func (c *Config) CorrelationWindow() time.Duration {
	return time.Duration(c.Correlation.WindowMinutes) * time.Minute
}

func (c *Config) SuppressCooldown() time.Duration {
	return time.Duration(c.Correlation.SuppressMinutes) * time.Minute
}

func (c *Config) EnrichmentTimeout() time.Duration {
	return time.Duration(c.Enrichment.TimeoutSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Enrichment.CacheTTLHours) * time.Hour
}
