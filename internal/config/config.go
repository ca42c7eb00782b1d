package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the launcher-level settings. Block size, queue bound,
// per-type latencies and the operation timeout are compile-time constants of
// their packages, not tunables.
type Config struct {
	NumDrives       int
	HashSeed        string
	LogFile         string
	MetricsAddr     string
	MonitorInterval time.Duration
}

func Default() Config {
	return Config{
		NumDrives:       16,
		HashSeed:        "default_seed",
		MonitorInterval: 5 * time.Second,
	}
}

type fileConfig struct {
	NumDrives       *int    `yaml:"num_drives"`
	HashSeed        *string `yaml:"hash_seed"`
	LogFile         *string `yaml:"log_file"`
	MetricsAddr     *string `yaml:"metrics_addr"`
	MonitorInterval *string `yaml:"monitor_interval"`
}

// Load reads a YAML override file on top of the defaults. Absent keys keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}

	if raw.NumDrives != nil {
		cfg.NumDrives = *raw.NumDrives
	}
	if raw.HashSeed != nil {
		cfg.HashSeed = *raw.HashSeed
	}
	if raw.LogFile != nil {
		cfg.LogFile = *raw.LogFile
	}
	if raw.MetricsAddr != nil {
		cfg.MetricsAddr = *raw.MetricsAddr
	}
	if raw.MonitorInterval != nil {
		interval, err := time.ParseDuration(*raw.MonitorInterval)
		if err != nil {
			return cfg, fmt.Errorf("parsing monitor_interval: %w", err)
		}
		cfg.MonitorInterval = interval
	}

	if cfg.NumDrives <= 0 {
		return cfg, fmt.Errorf("num_drives must be positive, got %d", cfg.NumDrives)
	}
	if cfg.HashSeed == "" {
		return cfg, fmt.Errorf("hash_seed must not be empty")
	}
	if cfg.MonitorInterval <= 0 {
		return cfg, fmt.Errorf("monitor_interval must be positive, got %s", cfg.MonitorInterval)
	}
	return cfg, nil
}
