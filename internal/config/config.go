// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

// Package config defines the explicit configuration structure shared by all
// relaybridge binaries. Configuration is loaded in layers (defaults, then an
// optional YAML file, then environment variables) and handed to components at
// construction time; there are no process-wide configuration singletons.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for all relaybridge binaries.
type Config struct {
	Relays   RelaysConfig   `koanf:"relays"`
	Harvest  HarvestConfig  `koanf:"harvest"`
	Sync     SyncConfig     `koanf:"sync"`
	Backfill BackfillConfig `koanf:"backfill"`
	Monitor  MonitorConfig  `koanf:"monitor"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// RelaysConfig identifies the source and destination relay endpoints.
type RelaysConfig struct {
	// Input is the relay events are harvested and fetched from.
	Input string `koanf:"input"`
	// Output is the relay events are republished to.
	Output string `koanf:"output"`
}

// HarvestConfig tunes the adaptive windowed backfill harvester.
type HarvestConfig struct {
	// CheckpointFile persists the last fully processed window end.
	CheckpointFile string `koanf:"checkpoint_file"`
	// RegistryFile holds discovered pubkeys, one per line.
	RegistryFile string `koanf:"registry_file"`
	// BlocklistFile is a CSV of blocked domains, one per row, first column.
	BlocklistFile string `koanf:"blocklist_file"`
	// DefaultEpoch is where harvesting starts when no checkpoint exists.
	DefaultEpoch time.Time `koanf:"default_epoch"`
	// FetchTimeout bounds one window's subscribe-and-drain round trip.
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
}

// SyncConfig tunes the sequential replication engine.
type SyncConfig struct {
	// CheckpointFile persists the last successful run timestamp.
	CheckpointFile string `koanf:"checkpoint_file"`
	// RegistryFile lists the identities to replicate, one per line.
	RegistryFile string `koanf:"registry_file"`
	// RetryAttempts bounds retries per fetch or publish unit.
	RetryAttempts int `koanf:"retry_attempts"`
	// FetchTimeout is the base timeout for fetch operations; it doubles
	// with each retry attempt.
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
	// PublishTimeout is the base timeout for publish operations.
	PublishTimeout time.Duration `koanf:"publish_timeout"`
}

// BackfillConfig tunes the parallel backfill worker pool.
type BackfillConfig struct {
	// PositionFile persists the registry line position to resume from.
	PositionFile string `koanf:"position_file"`
	// RegistryFile lists the identities to backfill, one per line.
	RegistryFile string `koanf:"registry_file"`
	// Workers is the number of concurrent identities processed.
	Workers int `koanf:"workers"`
	// Lookback limits how far back events are fetched; zero means the
	// full history.
	Lookback time.Duration `koanf:"lookback"`
}

// MonitorConfig tunes the replication verification monitor.
type MonitorConfig struct {
	// RegistryFile is the identity list to sample from.
	RegistryFile string `koanf:"registry_file"`
	// SampleSize is how many identities are verified per run.
	SampleSize int `koanf:"sample_size"`
	// FetchLimit caps how many recent events are compared per identity.
	FetchLimit int `koanf:"fetch_limit"`
}

// MetricsConfig controls the optional Prometheus exposition listener.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LoggingConfig mirrors logging.Config for koanf loading.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Relays: RelaysConfig{
			Input:  "wss://relay.mostr.pub",
			Output: "wss://relay.nos.social",
		},
		Harvest: HarvestConfig{
			CheckpointFile: "data/harvest_checkpoint.txt",
			RegistryFile:   "data/matching_pubkeys.txt",
			BlocklistFile:  "data/blocklist.csv",
			DefaultEpoch:   time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC),
			FetchTimeout:   30 * time.Second,
		},
		Sync: SyncConfig{
			CheckpointFile: "data/sync_checkpoint.txt",
			RegistryFile:   "data/matching_pubkeys.txt",
			RetryAttempts:  3,
			FetchTimeout:   15 * time.Second,
			PublishTimeout: 10 * time.Second,
		},
		Backfill: BackfillConfig{
			PositionFile: "data/sync_position.txt",
			RegistryFile: "data/matching_pubkeys.txt",
			Workers:      100,
			Lookback:     0,
		},
		Monitor: MonitorConfig{
			RegistryFile: "data/matching_pubkeys.txt",
			SampleSize:   100,
			FetchLimit:   10,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9183",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for values that would make a run
// impossible. Missing input files are checked by the components that need
// them so each binary only demands what it uses.
func (c *Config) Validate() error {
	if err := validateRelayURL("relays.input", c.Relays.Input); err != nil {
		return err
	}
	if err := validateRelayURL("relays.output", c.Relays.Output); err != nil {
		return err
	}
	if c.Sync.RetryAttempts < 1 {
		return fmt.Errorf("sync.retry_attempts must be at least 1, got %d", c.Sync.RetryAttempts)
	}
	if c.Backfill.Workers < 1 {
		return fmt.Errorf("backfill.workers must be at least 1, got %d", c.Backfill.Workers)
	}
	if c.Monitor.SampleSize < 1 {
		return fmt.Errorf("monitor.sample_size must be at least 1, got %d", c.Monitor.SampleSize)
	}
	return nil
}

func validateRelayURL(field, url string) error {
	if url == "" {
		return fmt.Errorf("%s is required", field)
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return fmt.Errorf("%s must be a ws:// or wss:// URL, got %q", field, url)
	}
	return nil
}
