// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings for the mainloopd daemon: the scheduler's
// concurrency cap, logging, the admission/observer API address, the
// audit ledger path and outbound webhooks.
type Config struct {
	MaxThreads   int    `yaml:"max_threads"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"` // "text" or "json"
	DaemonAddr   string `yaml:"daemon_addr"`
	DatabasePath string `yaml:"database_path"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig holds one outbound webhook endpoint configuration.
type WebhookConfig struct {
	URL     string            `yaml:"url" json:"url"`
	Events  []string          `yaml:"events" json:"events"`
	Headers map[string]string `yaml:"headers" json:"headers"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
	Retry   int               `yaml:"retry" json:"retry"`
	Enabled bool              `yaml:"enabled" json:"enabled"`
}

// FromEnvironment builds a Config from environment variables, falling
// back to defaults for anything unset.
func FromEnvironment() *Config {
	maxThreads, _ := strconv.Atoi(getEnv("MAX_THREADS", "4"))

	return &Config{
		MaxThreads:   maxThreads,
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "text"),
		DaemonAddr:   getEnv("DAEMON_ADDR", "localhost:8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./mainloop.db"),
	}
}

// FromFile loads configuration from a YAML file, applying defaults to
// any field the file leaves zero.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.MaxThreads == 0 {
		cfg.MaxThreads = 4
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.DaemonAddr == "" {
		cfg.DaemonAddr = "localhost:8080"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "./mainloop.db"
	}

	for i := range cfg.Webhooks {
		if cfg.Webhooks[i].Timeout == 0 {
			cfg.Webhooks[i].Timeout = 10 * time.Second
		}
		if cfg.Webhooks[i].Retry == 0 {
			cfg.Webhooks[i].Retry = 3
		}
	}

	return cfg, nil
}

// MergeWithEnv overrides c's fields with any environment variables that
// are explicitly set, and returns c for chaining.
func (c *Config) MergeWithEnv() *Config {
	if os.Getenv("MAX_THREADS") != "" {
		envCfg := FromEnvironment()
		c.MaxThreads = envCfg.MaxThreads
	}
	if os.Getenv("LOG_LEVEL") != "" {
		c.LogLevel = os.Getenv("LOG_LEVEL")
	}
	if os.Getenv("LOG_FORMAT") != "" {
		c.LogFormat = os.Getenv("LOG_FORMAT")
	}
	if os.Getenv("DAEMON_ADDR") != "" {
		c.DaemonAddr = os.Getenv("DAEMON_ADDR")
	}
	if os.Getenv("DATABASE_PATH") != "" {
		c.DatabasePath = os.Getenv("DATABASE_PATH")
	}

	return c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
