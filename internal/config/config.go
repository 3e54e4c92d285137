// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	DNS     DNSConfig     `mapstructure:"dns"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Sink    SinkConfig    `mapstructure:"sink"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the control API listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// MonitorConfig governs orchestrator behavior and which users run at startup.
type MonitorConfig struct {
	Users                 []string `mapstructure:"users"`
	HealthIntervalSeconds int      `mapstructure:"health_interval_seconds"`
	IdleDelaySeconds      int      `mapstructure:"idle_delay_seconds"`
	DefaultDelaySeconds   int      `mapstructure:"default_delay_seconds"`
	ShutdownGraceSeconds  int      `mapstructure:"shutdown_grace_seconds"`
}

// DNSConfig bounds the resolver fallback chain and answer cache.
type DNSConfig struct {
	AttemptTimeoutSeconds  int `mapstructure:"attempt_timeout_seconds"`
	LifetimeTimeoutSeconds int `mapstructure:"lifetime_timeout_seconds"`
	CacheTTLMinutes        int `mapstructure:"cache_ttl_minutes"`
	ProbeTimeoutSeconds    int `mapstructure:"probe_timeout_seconds"`
}

// HTTPConfig configures the listing fetch client.
type HTTPConfig struct {
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	UserAgent         string `mapstructure:"user_agent"`
	PageLimit         int    `mapstructure:"page_limit"`
	MaxBackoffSeconds int    `mapstructure:"max_backoff_seconds"`
}

// QueueConfig configures the outbound notification queue.
type QueueConfig struct {
	MaxDepth   int `mapstructure:"max_depth"`
	MaxRetries int `mapstructure:"max_retries"`
	SpacingMs  int `mapstructure:"spacing_ms"`
}

// SinkConfig selects and configures the notification sink.
type SinkConfig struct {
	Provider       string `mapstructure:"provider"`
	WebhookURL     string `mapstructure:"webhook_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	ProjectID      string `mapstructure:"project_id"`
	TopicName      string `mapstructure:"topic_name"`
}

// DBConfig selects and configures the configuration store.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RESTOCKD")
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
	v.SetDefault("monitor.health_interval_seconds", 300)
	v.SetDefault("monitor.idle_delay_seconds", 30)
	v.SetDefault("monitor.default_delay_seconds", 30)
	v.SetDefault("monitor.shutdown_grace_seconds", 10)
	v.SetDefault("dns.attempt_timeout_seconds", 2)
	v.SetDefault("dns.lifetime_timeout_seconds", 4)
	v.SetDefault("dns.cache_ttl_minutes", 60)
	v.SetDefault("dns.probe_timeout_seconds", 2)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "restockd/1.0")
	v.SetDefault("http.page_limit", 100)
	v.SetDefault("http.max_backoff_seconds", 300)
	v.SetDefault("queue.max_depth", 1000)
	v.SetDefault("queue.max_retries", 5)
	v.SetDefault("queue.spacing_ms", 100)
	v.SetDefault("sink.provider", "webhook")
	v.SetDefault("sink.timeout_seconds", 10)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Queue.MaxDepth <= 0 {
		return fmt.Errorf("queue.max_depth must be > 0")
	}
	switch c.Sink.Provider {
	case "webhook":
		if c.Sink.WebhookURL == "" {
			return fmt.Errorf("sink.webhook_url must be set when sink.provider is webhook")
		}
	case "pubsub":
		if c.Sink.ProjectID == "" || c.Sink.TopicName == "" {
			return fmt.Errorf("sink.project_id and sink.topic_name must be set when sink.provider is pubsub")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown sink provider: %s", c.Sink.Provider)
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db provider: %s", c.DB.Provider)
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ShutdownGrace converts the shutdown grace period into a duration.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Monitor.ShutdownGraceSeconds) * time.Second
}
