// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

// Package main is the entry point for the sequential replication engine.
//
// relaysync walks the pubkey registry in order and, for each identity,
// fetches events newer than the persisted checkpoint from the input relay
// and republishes them to the output relay. Identities are isolated: one
// relay hiccup skips that identity and moves on. The registry file is
// required; it is produced by the harvest binary.
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

	pubkeys, err := registry.MustLoad(cfg.Sync.RegistryFile)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load pubkey registry")
	}
	if len(pubkeys) == 0 {
		logging.Info().Msg("Registry is empty, nothing to replicate")
		return
	}

	logging.Info().
		Str("input_relay", cfg.Relays.Input).
		Str("output_relay", cfg.Relays.Output).
		Int("identities", len(pubkeys)).
		Msg("Starting sequential replication")

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

	s := syncer.New(cfg.Sync, cfg.Relays.Input, cfg.Relays.Output)
	if _, err := s.Run(ctx, pubkeys); err != nil {
		if ctx.Err() != nil {
			logging.Info().Msg("Replication interrupted, checkpoint preserved")
			return
		}
		logging.Error().Err(err).Msg("Replication run failed")
		os.Exit(1)
	}
}
