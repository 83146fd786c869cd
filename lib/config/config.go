// Copyright 2026 The Whysper Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for whysper clients.
//
// Configuration starts from Default(), is optionally overlaid with a
// YAML file named by the WHYSPER_CONFIG environment variable, and is
// finally overridden by individual environment variables. A .env file
// in the working directory is loaded first (if present) so that
// development setups can keep their environment in one place.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds client-wide settings. The zero value is not usable;
// start from Default.
type Config struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.org").
	HomeserverURL string `yaml:"homeserver_url"`

	// HTTPTimeoutSeconds bounds synchronous API calls. It must exceed
	// the sync poll timeout, or long polls would be cut off client-side;
	// the client applies it to everything except /sync.
	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds"`

	// Sync tunes the long-poll listener.
	Sync SyncConfig `yaml:"sync"`
}

// SyncConfig tunes the sync listener's long-poll loop.
type SyncConfig struct {
	// PollTimeoutMS is the server-side long-poll hold time in
	// milliseconds.
	PollTimeoutMS int `yaml:"poll_timeout_ms"`

	// RetryBackoffSeconds is the fixed wait between retries after a
	// failed poll.
	RetryBackoffSeconds int `yaml:"retry_backoff_seconds"`

	// TimelineLimit caps timeline events per room per poll response.
	TimelineLimit int `yaml:"timeline_limit"`
}

// Default returns the built-in configuration: 30-second long polls,
// 5-second retry backoff, 10 timeline events per room per response.
func Default() Config {
	return Config{
		HTTPTimeoutSeconds: 30,
		Sync: SyncConfig{
			PollTimeoutMS:       30000,
			RetryBackoffSeconds: 5,
			TimelineLimit:       10,
		},
	}
}

// Load builds the effective configuration: Default, then the YAML file
// named by WHYSPER_CONFIG (if set), then environment overrides.
func Load() (Config, error) {
	// Best-effort: a missing .env file is the normal production case.
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("WHYSPER_CONFIG"); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// LoadFile reads a YAML configuration file, overlaying it on Default.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// HTTPTimeout returns the synchronous-call timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// RetryBackoff returns the sync retry backoff as a duration.
func (s SyncConfig) RetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoffSeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("WHYSPER_HOMESERVER_URL"); url != "" {
		cfg.HomeserverURL = url
	}
	if raw := os.Getenv("WHYSPER_HTTP_TIMEOUT_SECONDS"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			cfg.HTTPTimeoutSeconds = seconds
		}
	}
	if raw := os.Getenv("WHYSPER_SYNC_TIMELINE_LIMIT"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			cfg.Sync.TimelineLimit = limit
		}
	}
}
