// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

// Package main is the entry point for the parallel backfill engine.
//
// backfill replicates full event history (or a configured lookback window)
// for every registry identity, fanning work out across a bounded pool of
// workers that each own their own connection pair. Progress through the
// identity list is persisted as the highest contiguous completed position,
// so an interrupted run resumes near where it stopped; redundant
// reprocessing is tolerated because the destination relay deduplicates by
// event ID.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/relaybridge/internal/config"
	"github.com/tomtom215/relaybridge/internal/logging"
	"github.com/tomtom215/relaybridge/internal/metrics"
	"github.com/tomtom215/relaybridge/internal/registry"
	"github.com/tomtom215/relaybridge/internal/syncer"
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

	pubkeys, err := registry.MustLoad(cfg.Backfill.RegistryFile)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load pubkey registry")
	}
	if len(pubkeys) == 0 {
		logging.Info().Msg("Registry is empty, nothing to backfill")
		return
	}

	logging.Info().
		Str("input_relay", cfg.Relays.Input).
		Str("output_relay", cfg.Relays.Output).
		Int("identities", len(pubkeys)).
		Int("workers", cfg.Backfill.Workers).
		Msg("Starting parallel backfill")

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

	b := syncer.NewBackfill(cfg.Backfill, cfg.Sync, cfg.Relays.Input, cfg.Relays.Output)
	if err := b.Run(ctx, pubkeys); err != nil {
		if ctx.Err() != nil {
			logging.Info().Msg("Backfill interrupted, position preserved")
			return
		}
		logging.Error().Err(err).Msg("Backfill run failed")
		os.Exit(1)
	}
}
