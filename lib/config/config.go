// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for previewd.
//
// Configuration is loaded from a single file specified by either the
// PREVIEWD_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery, and
// no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides. A missing file yields the
// defaults unchanged.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable [Load] reads the config path
// from.
const EnvVar = "PREVIEWD_CONFIG"

// Config is the master configuration for previewd.
type Config struct {
	// Listen is the daemon's HTTP listen address.
	Listen string `yaml:"listen"`

	// Ports bounds the host-port pool previews are served from.
	Ports PortsConfig `yaml:"ports"`

	// Sandbox configures the execution sandbox's pinned image and
	// resource ceilings.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Timeouts are the hard per-phase ceilings. No backoff, no retry.
	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// Store configures session record persistence.
	Store StoreConfig `yaml:"store"`

	// Ledger is the path of the assembly ledger the precondition gate
	// reads.
	Ledger string `yaml:"ledger"`
}

// PortsConfig bounds the preview port pool, inclusive on both ends.
type PortsConfig struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// SandboxConfig configures the container sandbox.
type SandboxConfig struct {
	// Image is the pinned runtime image. Exactly one value per
	// deployment.
	Image string `yaml:"image"`

	// CPUs caps compute per sandbox.
	CPUs float64 `yaml:"cpus"`

	// Memory is a human-readable size ("512MiB"); parsed with go-units.
	Memory string `yaml:"memory"`

	// PidsLimit caps the process count per sandbox.
	PidsLimit int64 `yaml:"pids_limit"`
}

// MemoryBytes parses the Memory field.
func (c SandboxConfig) MemoryBytes() (int64, error) {
	bytes, err := units.RAMInBytes(c.Memory)
	if err != nil {
		return 0, fmt.Errorf("invalid sandbox memory %q: %w", c.Memory, err)
	}
	return bytes, nil
}

// Duration is a time.Duration that unmarshals from YAML duration
// strings ("120s", "10m").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// TimeoutsConfig holds the hard phase ceilings.
type TimeoutsConfig struct {
	Install   Duration `yaml:"install"`
	Build     Duration `yaml:"build"`
	Readiness Duration `yaml:"readiness"`
	TTL       Duration `yaml:"ttl"`
}

// StoreConfig configures session record persistence.
type StoreConfig struct {
	// Dir is where session record files live.
	Dir string `yaml:"dir"`
}

// Default returns the default configuration, used as the base before
// the config file is applied.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Listen: "127.0.0.1:8776",
		Ports:  PortsConfig{Min: 4000, Max: 4999},
		Sandbox: SandboxConfig{
			Image:     "node:22.14.0-bookworm-slim",
			CPUs:      1,
			Memory:    "512MiB",
			PidsLimit: 100,
		},
		Timeouts: TimeoutsConfig{
			Install:   Duration(120 * time.Second),
			Build:     Duration(300 * time.Second),
			Readiness: Duration(60 * time.Second),
			TTL:       Duration(1800 * time.Second),
		},
		Store: StoreConfig{
			Dir: filepath.Join(homeDir, ".local", "share", "previewd", "sessions"),
		},
		Ledger: filepath.Join(homeDir, ".local", "share", "previewd", "ledger.yaml"),
	}
}

// Load reads configuration from the file named by PREVIEWD_CONFIG.
// Unset means defaults.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads configuration from an explicit path. Fields absent
// from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

// Validate checks field consistency.
func (c *Config) Validate() error {
	if c.Ports.Min < 1 || c.Ports.Max > 65535 || c.Ports.Min > c.Ports.Max {
		return fmt.Errorf("invalid port range %d-%d", c.Ports.Min, c.Ports.Max)
	}
	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox image is required")
	}
	if c.Sandbox.CPUs <= 0 {
		return fmt.Errorf("sandbox cpus must be positive, got %g", c.Sandbox.CPUs)
	}
	if _, err := c.Sandbox.MemoryBytes(); err != nil {
		return err
	}
	if c.Sandbox.PidsLimit < 1 {
		return fmt.Errorf("sandbox pids_limit must be positive, got %d", c.Sandbox.PidsLimit)
	}
	for name, timeout := range map[string]Duration{
		"install":   c.Timeouts.Install,
		"build":     c.Timeouts.Build,
		"readiness": c.Timeouts.Readiness,
		"ttl":       c.Timeouts.TTL,
	} {
		if timeout <= 0 {
			return fmt.Errorf("timeout %s must be positive, got %s", name, timeout)
		}
	}
	return nil
}
