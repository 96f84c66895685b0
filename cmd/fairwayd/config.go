package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's YAML configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	DataDir  string `yaml:"data_dir"`
	History  string `yaml:"history_db"`
	LogLevel string `yaml:"log_level"`

	Browser struct {
		Remote          string        `yaml:"remote"`
		RecycleInterval time.Duration `yaml:"recycle_interval"`
		NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	} `yaml:"browser"`

	Acquire struct {
		Attempts   int           `yaml:"attempts"`
		RetryPause time.Duration `yaml:"retry_pause"`
	} `yaml:"acquire"`
}

// loadConfig reads a YAML configuration file. A missing path yields the
// defaults.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8090"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.History == "" {
		c.History = "db/history.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
