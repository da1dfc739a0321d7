// Package config loads and validates auditor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Snapshot drivers.
const (
	SnapshotNone   = "none"
	SnapshotMemory = "memory"
	SnapshotLocal  = "local"
	SnapshotGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Audit     AuditConfig     `mapstructure:"audit"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	LinkCheck LinkCheckConfig `mapstructure:"link_check"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
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

// AuditConfig governs the admission pool and per-audit budget.
type AuditConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	QueueDepth        int `mapstructure:"queue_depth"`
	BudgetSeconds     int `mapstructure:"budget_seconds"`
	StaleAfterSeconds int `mapstructure:"stale_after_seconds"`
}

// HTTPConfig configures the page fetch.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// LinkCheckConfig configures the link reachability probe.
type LinkCheckConfig struct {
	Concurrency    int `mapstructure:"concurrency"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless performance scorer.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	SettleMs      int    `mapstructure:"settle_ms"`
	ExecPath      string `mapstructure:"exec_path"`
}

// StorageConfig selects the audit repository.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// SnapshotConfig sets where raw page bodies are archived.
type SnapshotConfig struct {
	Driver      string `mapstructure:"driver"`
	Prefix      string `mapstructure:"prefix"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUDITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "AUDITOR_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

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

// Every key gets a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("audit.concurrency", 2)
	v.SetDefault("audit.queue_depth", 16)
	v.SetDefault("audit.budget_seconds", 180)
	v.SetDefault("audit.stale_after_seconds", 900)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "site-auditor/0.1")
	v.SetDefault("link_check.concurrency", 16)
	v.SetDefault("link_check.timeout_seconds", 5)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_ms", 1500)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("storage.driver", StorageMemory)
	v.SetDefault("storage.sqlite_path", "auditor.db")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("snapshot.driver", SnapshotNone)
	v.SetDefault("snapshot.prefix", "snapshots")
	v.SetDefault("snapshot.local_dir", "")
	v.SetDefault("snapshot.gcs_bucket", "")
	v.SetDefault("snapshot.content_type", "text/html; charset=utf-8")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Audit.Concurrency <= 0 {
		return fmt.Errorf("audit.concurrency must be > 0")
	}
	if c.Audit.QueueDepth < 0 {
		return fmt.Errorf("audit.queue_depth must be >= 0")
	}
	if c.Audit.BudgetSeconds <= 0 {
		return fmt.Errorf("audit.budget_seconds must be > 0")
	}
	if c.Audit.StaleAfterSeconds <= 0 {
		return fmt.Errorf("audit.stale_after_seconds must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.LinkCheck.Concurrency <= 0 {
		return fmt.Errorf("link_check.concurrency must be > 0")
	}
	if c.LinkCheck.TimeoutSeconds <= 0 {
		return fmt.Errorf("link_check.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Headless.Enabled && c.Headless.NavTimeoutSec <= 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when headless is enabled")
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres storage driver")
		}
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be set for the sqlite storage driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Snapshot.Driver {
	case SnapshotNone, SnapshotMemory:
	case SnapshotLocal:
		if c.Snapshot.LocalDir == "" {
			return fmt.Errorf("snapshot.local_dir must be set for the local snapshot driver")
		}
	case SnapshotGCS:
		if c.Snapshot.GCSBucket == "" {
			return fmt.Errorf("snapshot.gcs_bucket must be set for the gcs snapshot driver")
		}
	default:
		return fmt.Errorf("unknown snapshot.driver %q", c.Snapshot.Driver)
	}

	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// AuditBudget bounds one audit run.
func (c Config) AuditBudget() time.Duration {
	return time.Duration(c.Audit.BudgetSeconds) * time.Second
}

// StaleAfter is the age past which a RUNNING audit is considered abandoned.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Audit.StaleAfterSeconds) * time.Second
}

// FetchTimeout bounds the page fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// LinkTimeout bounds each link probe.
func (c Config) LinkTimeout() time.Duration {
	return time.Duration(c.LinkCheck.TimeoutSeconds) * time.Second
}

// NavTimeout bounds each headless navigation.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// SettleDelay is how long the scorer waits after load before collecting.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Headless.SettleMs) * time.Millisecond
}
