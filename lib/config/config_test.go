// Copyright 2026 The Whysper Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Sync.PollTimeoutMS != 30000 {
		t.Errorf("expected poll_timeout_ms=30000, got %d", cfg.Sync.PollTimeoutMS)
	}
	if cfg.Sync.RetryBackoffSeconds != 5 {
		t.Errorf("expected retry_backoff_seconds=5, got %d", cfg.Sync.RetryBackoffSeconds)
	}
	if cfg.Sync.TimelineLimit != 10 {
		t.Errorf("expected timeline_limit=10, got %d", cfg.Sync.TimelineLimit)
	}
	if cfg.HomeserverURL != "" {
		t.Errorf("expected empty homeserver URL, got %q", cfg.HomeserverURL)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whysper.yaml")
	content := `
homeserver_url: "https://matrix.example.org"
sync:
  poll_timeout_ms: 15000
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.HomeserverURL != "https://matrix.example.org" {
		t.Errorf("unexpected homeserver URL: %q", cfg.HomeserverURL)
	}
	if cfg.Sync.PollTimeoutMS != 15000 {
		t.Errorf("expected poll_timeout_ms=15000, got %d", cfg.Sync.PollTimeoutMS)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Sync.RetryBackoffSeconds != 5 {
		t.Errorf("expected default retry_backoff_seconds=5, got %d", cfg.Sync.RetryBackoffSeconds)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("homeserver_url: [not, a, string"), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WHYSPER_CONFIG", "")
	t.Setenv("WHYSPER_HOMESERVER_URL", "https://override.example.org")
	t.Setenv("WHYSPER_SYNC_TIMELINE_LIMIT", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HomeserverURL != "https://override.example.org" {
		t.Errorf("env override not applied: %q", cfg.HomeserverURL)
	}
	if cfg.Sync.TimelineLimit != 25 {
		t.Errorf("expected timeline_limit=25, got %d", cfg.Sync.TimelineLimit)
	}
}

func TestLoad_ConfigFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whysper.yaml")
	if err := os.WriteFile(path, []byte(`homeserver_url: "https://file.example.org"`), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	t.Setenv("WHYSPER_CONFIG", path)
	t.Setenv("WHYSPER_HOMESERVER_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HomeserverURL != "https://file.example.org" {
		t.Errorf("unexpected homeserver URL: %q", cfg.HomeserverURL)
	}
}
