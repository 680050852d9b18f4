// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

// Package main is the entry point for the replication monitor.
//
// monitor samples registry identities, compares each identity's recent
// events on the input relay against what the output relay holds, and
// reports the replication lag. It also logs registry growth statistics.
// The run exits non-zero when either relay is unreachable; partial
// verification would report misleading numbers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/relaybridge/internal/config"
	"github.com/tomtom215/relaybridge/internal/logging"
	"github.com/tomtom215/relaybridge/internal/monitor"
	"github.com/tomtom215/relaybridge/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	pubkeys, err := registry.MustLoad(cfg.Monitor.RegistryFile)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load pubkey registry")
	}

	if count, bytes, err := registry.Stats(cfg.Monitor.RegistryFile); err == nil {
		logging.Info().
			Int("identities", count).
			Int64("bytes", bytes).
			Msg("Registry statistics")
	}

	if len(pubkeys) == 0 {
		logging.Info().Msg("Registry is empty, nothing to verify")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := monitor.New(cfg.Monitor, cfg.Relays.Input, cfg.Relays.Output)
	defer m.Close()

	sum, err := m.Run(ctx, pubkeys)
	if err != nil {
		if ctx.Err() != nil {
			logging.Info().Msg("Verification interrupted")
			return
		}
		logging.Error().Err(err).Msg("Verification run failed")
		os.Exit(1)
	}

	if sum.Missing > 0 {
		logging.Warn().
			Int("missing", sum.Missing).
			Int("checked", sum.Checked).
			Msg("Replication is behind the source relay")
	}
}
