// Package config provides configuration loading and management for the
// discoverer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the complete discoverer configuration
type Config struct {
	NATS     NATSConfig     `yaml:"nats" toml:"nats"`
	Registry RegistryConfig `yaml:"registry" toml:"registry"`
	Journal  JournalConfig  `yaml:"journal" toml:"journal"`
	Seed     SeedConfig     `yaml:"seed" toml:"seed"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (comma separated for a cluster)
	URL string `yaml:"url" toml:"url"`
	// Name is the client connection name
	Name string `yaml:"name" toml:"name"`
}

// RegistryConfig configures leases and liveness pings. Durations use Go
// duration syntax ("60s", "1m30s").
type RegistryConfig struct {
	PingPrefix      string `yaml:"ping_prefix" toml:"ping_prefix"`
	DefaultLease    string `yaml:"default_lease" toml:"default_lease"`
	PingTimeout     string `yaml:"ping_timeout" toml:"ping_timeout"`
	SweepInterval   string `yaml:"sweep_interval" toml:"sweep_interval"`
	ReconfirmWindow string `yaml:"reconfirm_window" toml:"reconfirm_window"`
	RecoveryTTL     string `yaml:"recovery_ttl" toml:"recovery_ttl"`
	// SkipRecovery starts with an empty registry instead of replaying the journal
	SkipRecovery bool `yaml:"skip_recovery" toml:"skip_recovery"`
}

// JournalConfig selects the recovery journal backend
type JournalConfig struct {
	// Backend is one of memory, file or stream
	Backend    string `yaml:"backend" toml:"backend"`
	Path       string `yaml:"path" toml:"path"`
	SyncWrites bool   `yaml:"sync_writes" toml:"sync_writes"`
	Stream     string `yaml:"stream" toml:"stream"`
	Subject    string `yaml:"subject" toml:"subject"`
}

// SeedConfig configures static registrations
type SeedConfig struct {
	Dir      string `yaml:"dir" toml:"dir"`
	Pattern  string `yaml:"pattern" toml:"pattern"`
	Watch    bool   `yaml:"watch" toml:"watch"`
	Debounce string `yaml:"debounce" toml:"debounce"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics (empty = disabled)
	Addr string `yaml:"addr" toml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:  "nats://localhost:4222",
			Name: "discoverer",
		},
		Registry: RegistryConfig{
			PingPrefix:      "discoverer",
			DefaultLease:    "60s",
			PingTimeout:     "10s",
			SweepInterval:   "1s",
			ReconfirmWindow: "5s",
			RecoveryTTL:     "15s",
		},
		Journal: JournalConfig{
			Backend: "stream",
			Stream:  "DISCOVERER_JOURNAL",
			Subject: "discoverer.journal",
		},
		Seed: SeedConfig{
			Pattern:  "**/*.{yaml,yml}",
			Watch:    true,
			Debounce: "500ms",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	durations := []struct {
		name  string
		value string
	}{
		{"registry.default_lease", c.Registry.DefaultLease},
		{"registry.ping_timeout", c.Registry.PingTimeout},
		{"registry.sweep_interval", c.Registry.SweepInterval},
		{"registry.reconfirm_window", c.Registry.ReconfirmWindow},
		{"registry.recovery_ttl", c.Registry.RecoveryTTL},
		{"seed.debounce", c.Seed.Debounce},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must be non-negative", d.name)
		}
	}
	switch c.Journal.Backend {
	case "memory", "stream":
	case "file":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path is required for the file backend")
		}
	default:
		return fmt.Errorf("journal.backend must be memory, file or stream")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or TOML file, chosen by
// extension. Values missing from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := decodeFile(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

// decodeFile overlays the values present in path onto config.
func decodeFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if isTOML(path) {
		err = toml.Unmarshal(data, config)
	} else {
		err = yaml.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// SaveToFile saves configuration to a YAML or TOML file, chosen by extension
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(c)
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values). Booleans only ever switch on.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	mergeString(&c.NATS.URL, other.NATS.URL)
	mergeString(&c.NATS.Name, other.NATS.Name)

	mergeString(&c.Registry.PingPrefix, other.Registry.PingPrefix)
	mergeString(&c.Registry.DefaultLease, other.Registry.DefaultLease)
	mergeString(&c.Registry.PingTimeout, other.Registry.PingTimeout)
	mergeString(&c.Registry.SweepInterval, other.Registry.SweepInterval)
	mergeString(&c.Registry.ReconfirmWindow, other.Registry.ReconfirmWindow)
	mergeString(&c.Registry.RecoveryTTL, other.Registry.RecoveryTTL)
	if other.Registry.SkipRecovery {
		c.Registry.SkipRecovery = true
	}

	mergeString(&c.Journal.Backend, other.Journal.Backend)
	mergeString(&c.Journal.Path, other.Journal.Path)
	mergeString(&c.Journal.Stream, other.Journal.Stream)
	mergeString(&c.Journal.Subject, other.Journal.Subject)
	if other.Journal.SyncWrites {
		c.Journal.SyncWrites = true
	}

	mergeString(&c.Seed.Dir, other.Seed.Dir)
	mergeString(&c.Seed.Pattern, other.Seed.Pattern)
	mergeString(&c.Seed.Debounce, other.Seed.Debounce)
	if other.Seed.Watch {
		c.Seed.Watch = true
	}

	mergeString(&c.Metrics.Addr, other.Metrics.Addr)
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
