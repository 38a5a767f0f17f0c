package config

import (
	"fmt"
	"time"

	redisclient "github.com/neviso/core/internal/infra/redis"
	"github.com/neviso/core/internal/infra/storage/postgres"
)

// Duration parses YAML values like "30s" or "10m" into a duration.
// Bare integers are taken as nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := unmarshal(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Queue     QueueConfig        `yaml:"queue"`
	Credits   CreditConfig       `yaml:"credits"`
	Transform TransformConfig    `yaml:"transform"`
	Redis     redisclient.Config `yaml:"redis"`
	Logging   LoggingConfig      `yaml:"logging"`
	Database  postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// QueueConfig holds admission and dispatch settings.
type QueueConfig struct {
	Capacity       int      `yaml:"capacity"`
	RatePerMinute  int      `yaml:"rate_per_minute"`
	RatePerDay     int      `yaml:"rate_per_day"`
	MaxRetries     int      `yaml:"max_retries"`
	StaleTimeout   Duration `yaml:"stale_timeout"`
	PollInterval   Duration `yaml:"poll_interval"`
	SweepInterval  Duration `yaml:"sweep_interval"`
	RetryBaseDelay Duration `yaml:"retry_base_delay"`
	RetryBackoff   float64  `yaml:"retry_backoff"`
}

// CreditConfig holds pricing settings.
type CreditConfig struct {
	ImageCost string `yaml:"image_cost"` // decimal minutes per image
}

// TransformConfig holds the transformation provider settings.
type TransformConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Model   string   `yaml:"model"`
	Timeout Duration `yaml:"timeout"`
}
