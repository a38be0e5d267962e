package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Listen   string          `yaml:"listen"`
	DBPath   string          `yaml:"db_path"`
	Rules    string          `yaml:"rules"`
	Relay    RelayConfig     `yaml:"relay"`
	Analyzer AnalyzerConfig  `yaml:"analyzer"`
	Browser  BrowserConfig   `yaml:"browser"`
	Contexts []ContextConfig `yaml:"contexts"`
}

// RelayConfig bounds the coordinator's snapshot wait.
type RelayConfig struct {
	PollAttempts int           `yaml:"poll_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Staleness    time.Duration `yaml:"staleness"`
}

// AnalyzerConfig points at the downstream analysis endpoint.
type AnalyzerConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// BrowserConfig controls the headless acquisition path.
type BrowserConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Remote     string        `yaml:"remote"`
	NavTimeout time.Duration `yaml:"nav_timeout"`
}

// ContextConfig pre-registers a hosted context with its page URL.
type ContextConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// loadConfig reads a YAML configuration file.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = env("PAGERELAY_ADDR", ":8091")
	}
	if c.DBPath == "" {
		c.DBPath = env("PAGERELAY_DB", "db/pagerelay.db")
	}
	if c.Analyzer.Timeout <= 0 {
		c.Analyzer.Timeout = 60 * time.Second
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
