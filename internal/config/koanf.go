// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/relaybridge/config.yaml",
	"/etc/relaybridge/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces relaybridge environment variables.
const envPrefix = "RELAYBRIDGE_"

// Load builds the configuration using Koanf v2 with layered sources
// (highest priority wins):
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. RELAYBRIDGE_-prefixed environment variables
//
// Example: RELAYBRIDGE_RELAYS_INPUT=wss://relay.example overrides
// relays.input.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envSectionPrefixes maps the first environment variable token to a config
// section. Everything after the section token becomes a single key, so
// RELAYBRIDGE_HARVEST_CHECKPOINT_FILE -> harvest.checkpoint_file.
var envSectionPrefixes = []string{
	"relays",
	"harvest",
	"backfill",
	"monitor",
	"metrics",
	"logging",
	"sync",
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - RELAYBRIDGE_RELAYS_INPUT -> relays.input
//   - RELAYBRIDGE_HARVEST_REGISTRY_FILE -> harvest.registry_file
//   - RELAYBRIDGE_BACKFILL_WORKERS -> backfill.workers
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	for _, section := range envSectionPrefixes {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}

	// Unrecognized variables map to no config path.
	return ""
}

// ParseEpoch parses the YYYY-MM-DD default epoch override accepted by the
// harvest binary's -epoch flag.
func ParseEpoch(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}
