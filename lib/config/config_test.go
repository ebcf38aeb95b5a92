// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "server.yaml", `
listen_addr: ":7000"
lockout_attempts: 3
lockout_window: "5m"
`)

	cfg := DefaultServer()
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":7000" {
		t.Errorf("ListenAddr = %q, want :7000", cfg.ListenAddr)
	}
	if cfg.LockoutAttempts != 3 {
		t.Errorf("LockoutAttempts = %d, want 3", cfg.LockoutAttempts)
	}
	if cfg.LockoutWindow.Std() != 5*time.Minute {
		t.Errorf("LockoutWindow = %v, want 5m", cfg.LockoutWindow)
	}
	// Untouched fields keep their defaults.
	if cfg.SessionTimeout.Std() != 90*time.Second {
		t.Errorf("SessionTimeout = %v, want default 90s", cfg.SessionTimeout)
	}
}

func TestLoadJSONCStripsComments(t *testing.T) {
	path := writeFile(t, "client.jsonc", `{
	// override the relay endpoint
	"server_url": "ws://relay.internal:9100/ws",
	"max_reconnect_attempts": 8,
}`)

	cfg := DefaultClient()
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServerURL != "ws://relay.internal:9100/ws" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.MaxReconnectAttempts != 8 {
		t.Errorf("MaxReconnectAttempts = %d, want 8", cfg.MaxReconnectAttempts)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg := DefaultServer()
	if err := Load(filepath.Join(t.TempDir(), "absent.yaml"), &cfg); err == nil {
		t.Error("Load on a missing file succeeded")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeFile(t, "broken.yaml", "listen_addr: [unclosed")
	cfg := DefaultServer()
	if err := Load(path, &cfg); err == nil {
		t.Error("Load on malformed YAML succeeded")
	}
}
