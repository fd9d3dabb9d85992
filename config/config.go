package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	HealthWatch HealthWatchConfig `yaml:"healthwatch"`
}

// HealthWatchConfig is the project configuration.
type HealthWatchConfig struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Engine    EngineConfig    `yaml:"engine"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Sources   []SourceConfig  `yaml:"sources"`
	Store     StoreConfig     `yaml:"store"`
	API       APIConfig       `yaml:"api"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SchedulerConfig controls the polling loop.
type SchedulerConfig struct {
	Interval  time.Duration `yaml:"interval"`
	AutoStart *bool         `yaml:"auto_start"`
	Backoff   BackoffConfig `yaml:"backoff"`
}

// BackoffConfig stretches the interval after repeated failed cycles.
type BackoffConfig struct {
	Enabled     *bool         `yaml:"enabled"`
	After       int           `yaml:"after"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      float64       `yaml:"jitter"`
}

// EngineConfig controls reconciliation.
type EngineConfig struct {
	SourceTimeout      time.Duration `yaml:"source_timeout"`
	ResolvedWindowDays int           `yaml:"resolved_window_days"`
	SearchLimit        int           `yaml:"search_limit"`
	Metrics            *bool         `yaml:"metrics"`
}

// FetchConfig controls upstream HTTP access.
type FetchConfig struct {
	Timeout   time.Duration     `yaml:"timeout"`
	Proxies   []string          `yaml:"proxies"`
	UserAgent string            `yaml:"user_agent"`
	Headers   map[string]string `yaml:"headers"`
}

// SourceConfig declares one adapter instance.
type SourceConfig struct {
	Kind      string            `yaml:"kind"`
	Name      string            `yaml:"name"`
	Service   string            `yaml:"service"`
	Enabled   *bool             `yaml:"enabled"`
	Endpoints map[string]string `yaml:"endpoints"`
	Probes    []string          `yaml:"probes"`
	MaxItems  int               `yaml:"max_items"`
	MaxAge    time.Duration     `yaml:"max_age"`

	// simulated only
	Probability float64 `yaml:"probability"`
	FailureRate float64 `yaml:"failure_rate"`
	Seed        int64   `yaml:"seed"`
}

// IsEnabled reports whether the source should be built. Unset means enabled.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// StoreConfig selects the alert store backend.
type StoreConfig struct {
	Mode     string              `yaml:"mode"` // memory|redis|postgres|mongo
	Memory   MemoryStoreConfig   `yaml:"memory"`
	Redis    RedisConfig         `yaml:"redis"`
	Postgres PostgresStoreConfig `yaml:"postgres"`
	Mongo    MongoStoreConfig    `yaml:"mongo"`
}

// MemoryStoreConfig controls the in-process store.
type MemoryStoreConfig struct {
	MaxRuns int `yaml:"max_runs"`
}

// RedisConfig controls the Redis store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	MaxRuns   int    `yaml:"max_runs"`
}

// PostgresStoreConfig controls the gorm/Postgres store.
type PostgresStoreConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// MongoStoreConfig controls the MongoDB store.
type MongoStoreConfig struct {
	URI      string        `yaml:"uri"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

// APIConfig controls the HTTP API.
type APIConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Mode    string `yaml:"mode"`
}

// NotifyConfig controls side outputs.
type NotifyConfig struct {
	Webhook WebhookConfig    `yaml:"webhook"`
	Queue   QueueConfig      `yaml:"queue"`
	RunLog  FileOutputConfig `yaml:"run_log"`
}

// QueueConfig config for the Redis list that receives alert changes.
type QueueConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	MaxLen   int64  `yaml:"max_len"`
}

// WebhookConfig config for the alert-change webhook.
type WebhookConfig struct {
	Enabled  bool              `yaml:"enabled"`
	URL      string            `yaml:"url"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
	Regions  []string          `yaml:"regions"`
	Services []string          `yaml:"services"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
