// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Server configures the rendezvous/relay server.
type Server struct {
	// ListenAddr is the address the WebSocket endpoint binds to.
	ListenAddr string `yaml:"listen_addr"`

	// AdminAddr is the address the admin HTTP surface binds to. Empty
	// disables the admin surface entirely (including /health).
	AdminAddr string `yaml:"admin_addr"`

	// AdminAPIKey gates every admin endpoint except /health. Empty
	// rejects all gated requests.
	AdminAPIKey string `yaml:"admin_api_key"`

	// SessionTimeout is the idle threshold for the heartbeat sweep:
	// peers with no activity for this long are disconnected.
	SessionTimeout Duration `yaml:"session_timeout"`

	// SweepInterval is how often the idle sweep runs.
	SweepInterval Duration `yaml:"sweep_interval"`

	// LockoutAttempts is the number of failed password attempts from
	// one IP before new connections from it are rejected.
	LockoutAttempts int `yaml:"lockout_attempts"`

	// LockoutWindow is how long the lockout lasts, and also the
	// rolling window inside which failed attempts accumulate.
	LockoutWindow Duration `yaml:"lockout_window"`

	// AccessLogCapacity is the number of audit entries retained in
	// the in-memory ring.
	AccessLogCapacity int `yaml:"access_log_capacity"`
}

// Client configures host and viewer peers.
type Client struct {
	// ServerURL is the rendezvous server WebSocket URL
	// (e.g., "ws://relay.example.net:9100/ws").
	ServerURL string `yaml:"server_url"`

	// HeartbeatInterval is the ping cadence while connected.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// ReconnectDelay is the base delay for the linear reconnect
	// backoff (attempt × delay).
	ReconnectDelay Duration `yaml:"reconnect_delay"`

	// MaxReconnectAttempts caps the reconnect loop; once exhausted
	// the state machine goes to disconnected for good.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// STUNServers are the ICE servers used for NAT traversal.
	STUNServers []string `yaml:"stun_servers"`

	// DownloadDir is where completed file transfers are written.
	DownloadDir string `yaml:"download_dir"`

	// FileChunkSize is the chunk size for file transfers, in bytes.
	FileChunkSize int `yaml:"file_chunk_size"`

	// MaxFileSize rejects outbound transfers larger than this, in
	// bytes, before any protocol traffic happens.
	MaxFileSize int64 `yaml:"max_file_size"`

	// StreamPreset is the initial streaming quality preset
	// (low, medium, high, game).
	StreamPreset string `yaml:"stream_preset"`
}

// DefaultServer returns the server defaults.
func DefaultServer() Server {
	return Server{
		ListenAddr:        ":9100",
		AdminAddr:         ":9101",
		SessionTimeout:    Duration(90 * time.Second),
		SweepInterval:     Duration(15 * time.Second),
		LockoutAttempts:   5,
		LockoutWindow:     Duration(10 * time.Minute),
		AccessLogCapacity: 1000,
	}
}

// DefaultClient returns the client defaults.
func DefaultClient() Client {
	return Client{
		ServerURL:            "ws://127.0.0.1:9100/ws",
		HeartbeatInterval:    Duration(30 * time.Second),
		ReconnectDelay:       Duration(2 * time.Second),
		MaxReconnectAttempts: 5,
		STUNServers:          []string{"stun:stun.l.google.com:19302"},
		DownloadDir:          defaultDownloadDir(),
		FileChunkSize:        64 * 1024,
		MaxFileSize:          2 << 30, // 2 GiB
		StreamPreset:         "medium",
	}
}

// Load reads the file at path into target, which should already hold
// defaults. YAML parses directly; .json/.jsonc is normalized to JSON
// first (YAML is a superset of JSON, so one unmarshal path serves
// both).
func Load(path string, target any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		raw = jsonc.ToJSON(raw)
	}

	if err := yaml.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads")
}
