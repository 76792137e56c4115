// Package config loads and validates the gl-ledger service configuration,
// grounded on silver-realtime-transformer/go/config.go's YAML shape.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Database   DatabaseConfig   `yaml:"database"`
	Bus        BusConfig        `yaml:"bus"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Retry      RetryConfig      `yaml:"retry"`
}

// ServiceConfig holds service-level settings.
type ServiceConfig struct {
	Name       string `yaml:"name"`
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Database    string `yaml:"database"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	SSLMode     string `yaml:"sslmode"`
	MaxOpenConn int    `yaml:"max_open_conns"`
	MaxIdleConn int    `yaml:"max_idle_conns"`
}

// BusConfig holds the AMQP broker settings.
type BusConfig struct {
	URL string `yaml:"url"`
}

// OutboxConfig holds the publisher loop settings (spec.md §4.6).
// TickIntervalMillis sets the publisher tick via OutboxTickInterval.
// BatchSize is loaded and validated but not read by the publisher, which
// drains a fixed 100 entries per tick.
type OutboxConfig struct {
	TickIntervalMillis int `yaml:"tick_interval_millis"`
	BatchSize          int `yaml:"batch_size"`
}

// RetryConfig holds the consumer backoff settings (spec.md §4.7). They are
// loaded and validated but not read by the consumer, whose retry policy is
// fixed at 3 attempts, 200ms base interval, factor 2.
type RetryConfig struct {
	MaxAttempts         int     `yaml:"max_attempts"`
	BaseIntervalMillis  int     `yaml:"base_interval_millis"`
	Multiplier          float64 `yaml:"multiplier"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Database.MaxOpenConn == 0 {
		c.Database.MaxOpenConn = 10
	}
	if c.Database.MaxIdleConn == 0 {
		c.Database.MaxIdleConn = 5
	}
	if c.Outbox.TickIntervalMillis == 0 {
		c.Outbox.TickIntervalMillis = 100
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseIntervalMillis == 0 {
		c.Retry.BaseIntervalMillis = 200
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}
}

// Validate checks the loaded configuration for internally-inconsistent
// values before the service starts.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("config: service.name is required")
	}
	if c.Database.Host == "" || c.Database.Database == "" {
		return fmt.Errorf("config: database.host and database.database are required")
	}
	if c.Bus.URL == "" {
		return fmt.Errorf("config: bus.url is required")
	}
	if c.Outbox.BatchSize < 1 {
		return fmt.Errorf("config: outbox.batch_size must be at least 1")
	}
	if c.Outbox.TickIntervalMillis < 1 {
		return fmt.Errorf("config: outbox.tick_interval_millis must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be at least 1")
	}
	return nil
}

// OutboxTickInterval returns the publisher loop's tick as a Duration.
func (c *Config) OutboxTickInterval() time.Duration {
	return time.Duration(c.Outbox.TickIntervalMillis) * time.Millisecond
}

// ConnectionString builds a lib/pq-compatible connection string.
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Database, d.User, d.Password, d.SSLMode,
	)
}
