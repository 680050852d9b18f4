// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

// Package main is the entry point for the relaybridge harvester.
//
// The harvester crawls the input relay's stored profile-metadata events in
// adaptive time windows, starting from the persisted checkpoint (or the
// configured default epoch on first run), filters identities against the
// domain blocklist, and merges surviving pubkeys into the registry file
// consumed by the replication binaries.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables prefixed RELAYBRIDGE_, an optional
// config.yaml, then built-in defaults. A run exits 0 once the window loop
// reaches the wall clock sampled at startup; it exits non-zero only on a
// missing blocklist file, invalid configuration, or an input relay that
// stays unreachable across consecutive windows.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/relaybridge/internal/config"
	"github.com/tomtom215/relaybridge/internal/harvest"
	"github.com/tomtom215/relaybridge/internal/logging"
	"github.com/tomtom215/relaybridge/internal/metrics"
)

func main() {
	epochFlag := flag.String("epoch", "", "override the default start date (YYYY-MM-DD) used when no checkpoint exists")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *epochFlag != "" {
		epoch, err := config.ParseEpoch(*epochFlag)
		if err != nil {
			logging.Fatal().Err(err).Msg("Invalid -epoch flag")
		}
		cfg.Harvest.DefaultEpoch = epoch
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("input_relay", cfg.Relays.Input).
		Str("registry", cfg.Harvest.RegistryFile).
		Msg("Starting relaybridge harvester")

	// A harvester without a blocklist would replicate everything; treat a
	// missing file as a configuration error, not an empty list.
	blocklist, err := harvest.LoadBlocklist(cfg.Harvest.BlocklistFile)
	if err != nil {
		logging.Fatal().Err(err).Str("file", cfg.Harvest.BlocklistFile).Msg("Failed to load blocklist")
	}
	logging.Info().Int("domains", len(blocklist)).Msg("Blocklist loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	h := harvest.New(cfg.Harvest, cfg.Relays.Input, blocklist)
	if err := h.Run(ctx); err != nil {
		if ctx.Err() != nil {
			logging.Info().Msg("Harvest interrupted, checkpoint preserved")
			return
		}
		logging.Error().Err(err).Msg("Harvest run failed")
		os.Exit(1)
	}
}
