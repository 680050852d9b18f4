// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/relaybridge/internal/checkpoint"
	"github.com/tomtom215/relaybridge/internal/config"
	"github.com/tomtom215/relaybridge/internal/logging"
	"github.com/tomtom215/relaybridge/internal/relay"
)

// Backfill replicates full (or lookback-bounded) history for every registry
// identity across a bounded worker pool. Each worker owns its own connection
// pair: the websocket transport interleaves request/response pairs, so a
// shared connection across workers would cross-deliver subscriptions.
//
// Progress is a line position into the identity list. Workers complete out
// of order, so the persisted position is the highest contiguous completed
// index: resuming may re-process a few identities, which is safe because
// the destination deduplicates by event ID.
type Backfill struct {
	cfg       config.BackfillConfig
	sync      config.SyncConfig
	inputURL  string
	outputURL string
	store     *checkpoint.PositionStore
}

// NewBackfill builds a parallel backfill engine. Retry counts and operation
// timeouts are shared with the sequential engine.
func NewBackfill(cfg config.BackfillConfig, syncCfg config.SyncConfig, inputURL, outputURL string) *Backfill {
	return &Backfill{
		cfg:       cfg,
		sync:      syncCfg,
		inputURL:  inputURL,
		outputURL: outputURL,
		store:     checkpoint.NewPositionStore(cfg.PositionFile),
	}
}

// Run processes the identity list from the persisted position to the end.
// On full completion the position resets to zero so the next run starts a
// fresh pass. Per-identity failures are logged and skipped; only context
// cancellation aborts the pool.
func (b *Backfill) Run(ctx context.Context, pubkeys []string) error {
	start := b.store.Load()
	if start >= len(pubkeys) {
		start = 0
	}
	if start > 0 {
		logging.Info().Int("position", start).Msg("Resuming backfill from persisted position")
	}

	workers := b.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if remaining := len(pubkeys) - start; workers > remaining {
		workers = remaining
	}
	if workers == 0 {
		logging.Info().Msg("Backfill registry empty, nothing to do")
		return nil
	}

	logging.Info().
		Int("identities", len(pubkeys)-start).
		Int("workers", workers).
		Dur("lookback", b.cfg.Lookback).
		Msg("Starting parallel backfill")

	wm := &positionTracker{next: start, done: make(map[int]bool), store: b.store}

	indices := make(chan int)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(indices)
		for i := start; i < len(pubkeys); i++ {
			select {
			case indices <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			return b.worker(ctx, indices, pubkeys, wm)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// Full pass complete: next run starts from the top.
	if err := b.store.Save(0); err != nil {
		logging.Warn().Err(err).Msg("Failed to reset backfill position")
	}
	logging.Info().Int("identities", len(pubkeys)-start).Msg("Backfill complete")
	return nil
}

// worker drains identity indices with a connection pair of its own.
func (b *Backfill) worker(ctx context.Context, indices <-chan int, pubkeys []string, wm *positionTracker) error {
	in := relay.NewConnManager(b.inputURL)
	out := relay.NewConnManager(b.outputURL)
	defer in.Close()
	defer out.Close()

	retryer := relay.NewRetryer(b.sync.RetryAttempts)
	seen := make(map[string]struct{})

	for idx := range indices {
		if err := ctx.Err(); err != nil {
			return err
		}
		pk := pubkeys[idx]

		filter := nostr.Filter{Authors: []string{pk}}
		if b.cfg.Lookback > 0 {
			ts := nostr.Timestamp(time.Now().UTC().Add(-b.cfg.Lookback).Unix())
			filter.Since = &ts
		}

		var events []nostr.Event
		outcome := retryer.Do(ctx, "backfill_fetch", in, b.sync.FetchTimeout,
			func(ctx context.Context, conn *websocket.Conn) error {
				evs, err := relay.Fetch(ctx, conn, b.inputURL, filter)
				if err != nil {
					return err
				}
				events = evs
				return nil
			})
		if !outcome.OK {
			logging.Error().
				Err(outcome.Err).
				Str("pubkey", pk).
				Msg("Skipping identity, backfill fetch failed after all retries")
			wm.complete(idx)
			continue
		}

		for i := range events {
			ev := &events[i]
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}

			pubOutcome := retryer.Do(ctx, "backfill_publish", out, b.sync.PublishTimeout,
				func(ctx context.Context, conn *websocket.Conn) error {
					return relay.Publish(ctx, conn, b.outputURL, ev)
				})
			if !pubOutcome.OK {
				logging.Warn().
					Err(pubOutcome.Err).
					Str("event_id", ev.ID).
					Msg("Dropping event, backfill publish failed after all retries")
			}
		}

		wm.complete(idx)
	}
	return nil
}

// positionTracker persists the highest contiguous completed index. Indices
// complete out of order; the watermark only advances across a gap once the
// gap's identity finishes, so a resume never skips incomplete work.
type positionTracker struct {
	mu    sync.Mutex
	next  int
	done  map[int]bool
	store *checkpoint.PositionStore
}

func (p *positionTracker) complete(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done[idx] = true
	advanced := false
	for p.done[p.next] {
		delete(p.done, p.next)
		p.next++
		advanced = true
	}
	if advanced {
		if err := p.store.Save(p.next); err != nil {
			logging.Warn().Err(err).Msg("Failed to persist backfill position")
		}
	}
}
