// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/rendezvous/signaling"
)

// EnvironmentVariable names the config file for [Load].
const EnvironmentVariable = "RENDEZVOUS_CONFIG"

// Config is the configuration shared by the rendezvous binaries.
type Config struct {
	// ConnectionTimeout bounds each handshake. Negative disables the
	// timeout.
	ConnectionTimeout Duration `yaml:"connection_timeout"`

	// RoomPassword derives the room key that scopes discovery.
	RoomPassword string `yaml:"room_password"`

	// RelayURL is the websocket endpoint of the bus relay.
	RelayURL string `yaml:"relay_url"`

	// ICEServers are passed to every peer connection.
	ICEServers []ICEServer `yaml:"ice_servers"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// DiscoveryData is broadcast with every discover message.
	DiscoveryData map[string]any `yaml:"discovery_data"`

	// Relay configures rendezvous-relay.
	Relay RelayConfig `yaml:"relay"`
}

// ICEServer is a STUN or TURN server.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// RelayConfig configures the store-and-forward relay.
type RelayConfig struct {
	// Listen is the TCP address for the websocket endpoint.
	Listen string `yaml:"listen"`

	// MaxFrameBytes caps a single bus frame.
	MaxFrameBytes int `yaml:"max_frame_bytes"`

	// Retention caps how long a frame is kept for replay, regardless
	// of its own expiry.
	Retention Duration `yaml:"retention"`
}

// Duration is a time.Duration that decodes from "30s"-style strings or
// from a bare integer number of milliseconds. -1 decodes as -1ms.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	text := strings.TrimSpace(value.Value)
	if milliseconds, err := strconv.ParseInt(text, 10, 64); err == nil {
		*d = Duration(time.Duration(milliseconds) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, text)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ConnectionTimeout: Duration(signaling.DefaultConnectionTimeout),
		RelayURL:          "ws://127.0.0.1:7400/bus",
		LogLevel:          "info",
		Relay: RelayConfig{
			Listen:        "127.0.0.1:7400",
			MaxFrameBytes: 64 << 10,
			Retention:     Duration(time.Minute),
		},
	}
}

// Load loads the file named by RENDEZVOUS_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path on top of [Default].
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// Valid JSON is valid YAML, so one decoder serves both once
		// comments and trailing commas are stripped.
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.RoomPassword = expandVars(c.RoomPassword)
	c.RelayURL = expandVars(c.RelayURL)
	c.Relay.Listen = expandVars(c.Relay.Listen)
	for i := range c.ICEServers {
		c.ICEServers[i].Username = expandVars(c.ICEServers[i].Username)
		c.ICEServers[i].Credential = expandVars(c.ICEServers[i].Credential)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	if c.RelayURL != "" {
		parsed, err := url.Parse(c.RelayURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("relay_url: %w", err))
		} else if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("relay_url must use ws or wss, got %q", parsed.Scheme))
		}
	}

	for i, server := range c.ICEServers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice_servers[%d].urls is required", i))
		}
		for _, raw := range server.URLs {
			if !strings.HasPrefix(raw, "stun:") && !strings.HasPrefix(raw, "stuns:") &&
				!strings.HasPrefix(raw, "turn:") && !strings.HasPrefix(raw, "turns:") {
				errs = append(errs, fmt.Errorf("ice_servers[%d]: %q is not a stun or turn URL", i, raw))
			}
		}
	}

	if c.Relay.MaxFrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("relay.max_frame_bytes must be positive"))
	}
	if c.Relay.Retention <= 0 {
		errs = append(errs, fmt.Errorf("relay.retention must be positive"))
	}

	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
