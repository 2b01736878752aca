// Package config loads daemon configuration from environment variables.
// User-facing suspension policy (timeouts, ignore rules, whitelist) lives in
// the settings store, not here — this is process-level wiring only.
package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// API
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":7532"`
	CORSOrigins string `envconfig:"CORS_ORIGINS"`

	// Bridge (the browser extension connects here)
	BridgeListenAddr string `envconfig:"BRIDGE_LISTEN_ADDR" default:":7533"`
	BridgePath       string `envconfig:"BRIDGE_PATH" default:"/ws/host"`

	// Storage
	DBPath string `envconfig:"DB_PATH" default:"tabnap.db"`

	// PlaceholderURL is the base address of the suspended placeholder page.
	// Tabs whose URL starts with this prefix are treated as already suspended.
	PlaceholderURL string `envconfig:"PLACEHOLDER_URL" default:"chrome-extension://tabnap/suspended.html"`

	// ShortcutsPath optionally points to a YAML file overriding the built-in
	// command keybinding table.
	ShortcutsPath string `envconfig:"SHORTCUTS_PATH"`

	// Standalone runs against the in-memory host instead of the bridge.
	Standalone bool `envconfig:"STANDALONE" default:"false"`
}

// Load reads configuration from TABNAP_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("TABNAP", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// Development returns true when running in a development environment.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}
