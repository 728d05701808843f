// Package config loads engine configuration from an optional JSON file with
// environment-variable overrides. Every field has a working default except
// the backend URL, which must be supplied by file, environment, or flag.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultPath is the conventional config location, relative to the working
// directory.
const DefaultPath = ".council/config.json"

// Config holds all engine settings.
type Config struct {
	Backend BackendConfig `json:"backend"`
	History HistoryConfig `json:"history"`
	Logging LoggingConfig `json:"logging"`
}

// BackendConfig points the transport at the execution backend.
type BackendConfig struct {
	URL         string `json:"url"`
	DialTimeout string `json:"dial_timeout"`
}

// HistoryConfig controls the conversation log.
type HistoryConfig struct {
	Path  string `json:"path"`
	Limit int    `json:"limit"`
}

// LoggingConfig controls diagnostic output.
type LoggingConfig struct {
	Verbose bool `json:"verbose"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{DialTimeout: "15s"},
		History: HistoryConfig{Path: ".council/history.db", Limit: 50},
	}
}

// Load reads the config file at path (a missing file is fine: defaults
// apply), then applies environment overrides:
//
//	COUNCIL_BACKEND_URL    backend websocket endpoint
//	COUNCIL_DB             history database path
//	COUNCIL_HISTORY_LIMIT  retention cap
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults + env only.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("COUNCIL_BACKEND_URL"); url != "" {
		cfg.Backend.URL = url
	}
	if path := os.Getenv("COUNCIL_DB"); path != "" {
		cfg.History.Path = path
	}
	if limit := os.Getenv("COUNCIL_HISTORY_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			cfg.History.Limit = n
		}
	}
}

// Validate checks field consistency. A missing backend URL is allowed here;
// the run command requires it and reports its absence with flag context.
func (c *Config) Validate() error {
	if c.History.Limit <= 0 {
		return fmt.Errorf("history.limit must be positive, got %d", c.History.Limit)
	}
	if c.Backend.DialTimeout != "" {
		if _, err := time.ParseDuration(c.Backend.DialTimeout); err != nil {
			return fmt.Errorf("backend.dial_timeout: %w", err)
		}
	}
	return nil
}

// DialTimeout returns the parsed dial timeout.
func (c *Config) DialTimeout() time.Duration {
	d, err := time.ParseDuration(c.Backend.DialTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}
