// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path. HJSON is
// parsed to a map first, then round-tripped through JSON into the typed
// struct so unknown field shapes fail loudly.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]any
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied and validated.
func (l *Loader) LoadWithDefaults(path string) (*Config, error) {
	cfg, err := l.Load(path)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// FindConfig searches the current directory, then ~/.sessiond/, for a
// config file. sessiond.hjson wins over sessiond.json.
func (l *Loader) FindConfig() (string, error) {
	var candidates []string
	for _, name := range []string{"sessiond.hjson", "sessiond.json"} {
		candidates = append(candidates, name)
	}
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"sessiond.hjson", "sessiond.json"} {
			candidates = append(candidates, filepath.Join(home, ".sessiond", name))
		}
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}
	return "", fmt.Errorf("config file not found (looked for sessiond.hjson, sessiond.json)")
}

// Default builds the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8650
	}

	if cfg.Storage.Root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Storage.Root = filepath.Join(home, ".sessiond", "projects")
		} else {
			cfg.Storage.Root = "projects"
		}
	}

	if cfg.Index.Path == "" {
		cfg.Index.Path = filepath.Join(filepath.Dir(cfg.Storage.Root), "index.db")
	}

	if cfg.Query.MaxSteps == 0 {
		cfg.Query.MaxSteps = 100000
	}
	if cfg.Query.Timeout == "" {
		cfg.Query.Timeout = "5s"
	}

	if cfg.Chat.Binary == "" {
		cfg.Chat.Binary = "claude"
	}
	if cfg.Chat.Timeout == "" {
		cfg.Chat.Timeout = "5m"
	}
	if cfg.Chat.MaxOutputBytes == 0 {
		cfg.Chat.MaxOutputBytes = 10 * 1024 * 1024
	}
	if cfg.Chat.GracePeriod == "" {
		cfg.Chat.GracePeriod = "5s"
	}

	if cfg.Events.History.MaxEvents == 0 {
		cfg.Events.History.MaxEvents = 10000
	}
	if cfg.Events.History.MaxAge == "" {
		cfg.Events.History.MaxAge = "1h"
	}

	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = "100ms"
	}
}
