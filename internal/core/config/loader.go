package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = 10
	}
	if cfg.Queue.RatePerMinute == 0 {
		cfg.Queue.RatePerMinute = 3
	}
	if cfg.Queue.RatePerDay == 0 {
		cfg.Queue.RatePerDay = 50
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Queue.StaleTimeout == 0 {
		cfg.Queue.StaleTimeout = Duration(30 * time.Minute)
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = Duration(2 * time.Second)
	}
	if cfg.Queue.SweepInterval == 0 {
		cfg.Queue.SweepInterval = Duration(5 * time.Minute)
	}
	if cfg.Queue.RetryBaseDelay == 0 {
		cfg.Queue.RetryBaseDelay = Duration(5 * time.Second)
	}
	if cfg.Queue.RetryBackoff == 0 {
		cfg.Queue.RetryBackoff = 3
	}
	if cfg.Credits.ImageCost == "" {
		cfg.Credits.ImageCost = "0.5"
	}
	if cfg.Transform.Timeout == 0 {
		cfg.Transform.Timeout = Duration(30 * time.Minute)
	}
}
