// Package config loads and validates the daemon-client configuration
// from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	// Bus configures the connection to a bus daemon. An empty URL keeps
	// the bus local: scripts can still publish and subscribe among
	// themselves.
	Bus BusConfig `yaml:"bus"`

	// Scripts are Lua files executed in order at startup.
	Scripts []string `yaml:"scripts"`

	// Log configures diagnostics.
	Log LogConfig `yaml:"log"`

	// QueueSize bounds the executor's pending-work queue.
	QueueSize int `yaml:"queue_size"`
}

// BusConfig configures the bus connection.
type BusConfig struct {
	// URL is the websocket endpoint of the bus daemon, e.g.
	// "ws://localhost:7878/bus".
	URL string `yaml:"url"`

	// Name is this client's own bus name. Messages the daemon addresses
	// to it are delivered without an eavesdrop rule.
	Name string `yaml:"name"`

	// MatchLimit caps concurrent match registrations. Zero means
	// unlimited.
	MatchLimit int `yaml:"match_limit"`
}

// LogConfig configures diagnostics output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// File receives log output; empty means stderr.
	File string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load reads and validates a configuration file. Unknown keys are
// rejected so typos fail loudly instead of silently using defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.QueueSize == 0 {
		c.QueueSize = 128
	}
}

// Validate checks the configuration, returning the first problem found.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must not be negative, got %d", c.QueueSize)
	}
	if c.Bus.MatchLimit < 0 {
		return fmt.Errorf("bus.match_limit must not be negative, got %d", c.Bus.MatchLimit)
	}
	for i, s := range c.Scripts {
		if s == "" {
			return fmt.Errorf("scripts[%d] is empty", i)
		}
	}
	return nil
}
