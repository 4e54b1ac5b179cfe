// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading and defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for sessiond.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Index   IndexConfig   `json:"index"`
	Query   QueryConfig   `json:"query"`
	Chat    ChatConfig    `json:"chat"`
	Events  EventsConfig  `json:"events"`
	Watch   WatchConfig   `json:"watch"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	TLSCert      string `json:"tls_cert"` // enables HTTPS when both cert and key are set
	TLSKey       string `json:"tls_key"`
	TLSTailscale bool   `json:"tls_tailscale"` // fetch certs from the local tailscaled
}

// StorageConfig configures the session store.
type StorageConfig struct {
	Root  string `json:"root"`
	Fsync *bool  `json:"fsync"` // default true; disable only for tests
}

// IndexConfig configures the SQLite session index.
type IndexConfig struct {
	Path string `json:"path"` // default <storage root>/../index.db
}

// QueryConfig bounds jq query execution.
type QueryConfig struct {
	MaxSteps int    `json:"max_steps"`
	Timeout  string `json:"timeout"` // duration string, e.g. "5s"
}

// ChatConfig configures the claude subprocess.
type ChatConfig struct {
	Binary         string   `json:"binary"`
	Args           []string `json:"args"`
	Model          string   `json:"model"`
	SystemPrompt   string   `json:"system_prompt"` // appended to the CLI's system prompt
	Timeout        string   `json:"timeout"`
	MaxOutputBytes int64    `json:"max_output_bytes"`
	GracePeriod    string   `json:"grace_period"`
	UsePTY         bool     `json:"use_pty"`
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	History HistoryConfig `json:"history"`
}

// HistoryConfig bounds event history retention.
type HistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// WatchConfig configures the storage watcher.
type WatchConfig struct {
	Enabled  *bool  `json:"enabled"` // default true
	Debounce string `json:"debounce"`
}

// FsyncEnabled resolves the fsync tri-state.
func (c StorageConfig) FsyncEnabled() bool {
	return c.Fsync == nil || *c.Fsync
}

// WatchEnabled resolves the watch tri-state.
func (c WatchConfig) WatchEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Duration parses a duration string, falling back when empty or invalid.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	if c.Server.TLSTailscale && c.Server.TLSCert != "" {
		return fmt.Errorf("server.tls_tailscale conflicts with tls_cert/tls_key")
	}
	if c.Query.Timeout != "" {
		if _, err := time.ParseDuration(c.Query.Timeout); err != nil {
			return fmt.Errorf("query.timeout: %w", err)
		}
	}
	if c.Chat.Timeout != "" {
		if _, err := time.ParseDuration(c.Chat.Timeout); err != nil {
			return fmt.Errorf("chat.timeout: %w", err)
		}
	}
	return nil
}
