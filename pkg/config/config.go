// Package config loads engine tuning from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables shared by the worker and API processes.
type Config struct {
	Workers      int            `yaml:"workers"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	Retry        RetryConfig    `yaml:"retry"`
	Watchdog     WatchdogConfig `yaml:"watchdog"`
	Cache        CacheConfig    `yaml:"cache"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseMin     time.Duration `yaml:"base_min"`
	BaseMax     time.Duration `yaml:"base_max"`
}

type WatchdogConfig struct {
	Deadline time.Duration `yaml:"deadline"`
	// Sweep is a cron spec, e.g. "@every 30s".
	Sweep string `yaml:"sweep"`
}

type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Workers:      2,
		PollInterval: 500 * time.Millisecond,
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseMin:     100 * time.Millisecond,
			BaseMax:     500 * time.Millisecond,
		},
		Watchdog: WatchdogConfig{
			Deadline: 120 * time.Second,
			Sweep:    "@every 30s",
		},
		Cache: CacheConfig{
			Capacity: 1024,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.Workers < 1 {
		errs = append(errs, errors.New("workers must be at least 1"))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}

	if c.Retry.BaseMin < 0 || c.Retry.BaseMax < c.Retry.BaseMin {
		errs = append(errs, errors.New("retry.base_min must be non-negative and not above retry.base_max"))
	}

	if c.Watchdog.Deadline <= 0 {
		errs = append(errs, errors.New("watchdog.deadline must be positive"))
	}

	if c.Cache.Capacity < 1 {
		errs = append(errs, errors.New("cache.capacity must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	return nil
}
