// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

// Package syncer replicates events for registered identities from the input
// relay to the output relay. Two shapes are provided: the sequential Syncer,
// which walks the identity list in order and checkpoints wall-clock progress,
// and the parallel Backfill, which fans identities out over a bounded worker
// pool and checkpoints its position in the identity list.
package syncer

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/tomtom215/relaybridge/internal/checkpoint"
	"github.com/tomtom215/relaybridge/internal/config"
	"github.com/tomtom215/relaybridge/internal/logging"
	"github.com/tomtom215/relaybridge/internal/relay"
)

// Syncer is the sequential replication engine. One fetch-then-publish pass
// per identity, strictly in list order. A failed identity is logged and
// skipped; it never aborts the batch.
type Syncer struct {
	cfg       config.SyncConfig
	inputURL  string
	outputURL string
	in        *relay.ConnManager
	out       *relay.ConnManager
	retryer   *relay.Retryer
	store     *checkpoint.TimeStore
	// seen suppresses republishing an event ID twice within one run;
	// the destination relay deduplicates across runs.
	seen map[string]struct{}
}

// New builds a sequential syncer between the two relays.
func New(cfg config.SyncConfig, inputURL, outputURL string) *Syncer {
	return &Syncer{
		cfg:       cfg,
		inputURL:  inputURL,
		outputURL: outputURL,
		in:        relay.NewConnManager(inputURL),
		out:       relay.NewConnManager(outputURL),
		retryer:   relay.NewRetryer(cfg.RetryAttempts),
		store:     checkpoint.NewTimeStore(cfg.CheckpointFile),
		seen:      make(map[string]struct{}),
	}
}

// Stats summarizes one replication run.
type Stats struct {
	Identities int
	Failed     int
	Fetched    int
	Published  int
	Rejected   int
}

// Run replicates every identity's events newer than the persisted
// checkpoint. The checkpoint is read once at entry; after each identity
// completes, the current wall clock is persisted, so a crash resumes from
// roughly where it stopped at the cost of a small refetch overlap.
func (s *Syncer) Run(ctx context.Context, pubkeys []string) (Stats, error) {
	defer s.in.Close()
	defer s.out.Close()

	since, ok := s.store.Load()
	if !ok {
		logging.Info().Msg("No sync checkpoint found, replicating full history")
	} else {
		logging.Info().Time("since", since).Msg("Replicating events since checkpoint")
	}

	var stats Stats
	for _, pk := range pubkeys {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Identities++

		events, outcome := s.fetchIdentity(ctx, pk, since)
		if !outcome.OK {
			stats.Failed++
			logging.Error().
				Err(outcome.Err).
				Str("pubkey", pk).
				Msg("Skipping identity, fetch failed after all retries")
			continue
		}
		stats.Fetched += len(events)

		published, rejected := s.publishAll(ctx, events)
		stats.Published += published
		stats.Rejected += rejected

		if err := s.store.Save(time.Now().UTC()); err != nil {
			logging.Warn().Err(err).Msg("Failed to persist sync checkpoint")
		}
	}

	logging.Info().
		Int("identities", stats.Identities).
		Int("failed", stats.Failed).
		Int("fetched", stats.Fetched).
		Int("published", stats.Published).
		Int("rejected", stats.Rejected).
		Msg("Replication run complete")
	return stats, nil
}

// fetchIdentity pulls one identity's events through the retry executor.
// A zero since means full history.
func (s *Syncer) fetchIdentity(ctx context.Context, pk string, since time.Time) ([]nostr.Event, relay.Outcome) {
	filter := nostr.Filter{Authors: []string{pk}}
	if !since.IsZero() {
		ts := nostr.Timestamp(since.Unix())
		filter.Since = &ts
	}

	var events []nostr.Event
	outcome := s.retryer.Do(ctx, "sync_fetch", s.in, s.cfg.FetchTimeout,
		func(ctx context.Context, conn *websocket.Conn) error {
			evs, err := relay.Fetch(ctx, conn, s.inputURL, filter)
			if err != nil {
				return err
			}
			events = evs
			return nil
		})
	return events, outcome
}

// publishAll republishes a batch in fetch order, one round trip per event.
// Each event is its own unit of work: exhausted retries drop that event and
// move on.
func (s *Syncer) publishAll(ctx context.Context, events []nostr.Event) (published, rejected int) {
	for i := range events {
		ev := &events[i]
		if _, dup := s.seen[ev.ID]; dup {
			continue
		}
		s.seen[ev.ID] = struct{}{}

		outcome := s.retryer.Do(ctx, "sync_publish", s.out, s.cfg.PublishTimeout,
			func(ctx context.Context, conn *websocket.Conn) error {
				return relay.Publish(ctx, conn, s.outputURL, ev)
			})
		if outcome.OK {
			published++
			continue
		}
		rejected++
		logging.Warn().
			Err(outcome.Err).
			Str("event_id", ev.ID).
			Msg("Dropping event, publish failed after all retries")
	}
	return published, rejected
}
