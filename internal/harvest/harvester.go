// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/time/rate"

	"github.com/tomtom215/relaybridge/internal/checkpoint"
	"github.com/tomtom215/relaybridge/internal/config"
	"github.com/tomtom215/relaybridge/internal/logging"
	"github.com/tomtom215/relaybridge/internal/metrics"
	"github.com/tomtom215/relaybridge/internal/registry"
	"github.com/tomtom215/relaybridge/internal/relay"
)

// maxWindowFailures aborts the run after this many consecutive windows
// whose fetch exhausted all retries. A single exhausted window is re-tried
// in place rather than skipped: skipping would silently drop its events.
const maxWindowFailures = 5

// metadataKind is the profile-metadata event kind harvested for identities.
const metadataKind = 0

// Harvester crawls the input relay's stored metadata events in adaptive
// time windows, filters discovered identities against the blocklist, and
// merges surviving pubkeys into the registry. Progress is checkpointed per
// completed window so a restart resumes instead of re-crawling.
type Harvester struct {
	cfg      config.HarvestConfig
	inputURL string
	conns    *relay.ConnManager
	retryer  *relay.Retryer
	store    *checkpoint.TimeStore
	filter   *Filter
	// limiter paces one window per second so a long backfill does not
	// monopolize the source relay.
	limiter *rate.Limiter
}

// New builds a harvester against the input relay. The blocklist must
// already be loaded; a harvester without one is a configuration error
// handled at startup.
func New(cfg config.HarvestConfig, inputURL string, blocklist Blocklist) *Harvester {
	return &Harvester{
		cfg:      cfg,
		inputURL: inputURL,
		conns:    relay.NewConnManager(inputURL),
		retryer:  relay.NewRetryer(3),
		store:    checkpoint.NewTimeStore(cfg.CheckpointFile),
		filter:   NewFilter(blocklist),
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Run executes the window loop until the window start reaches the wall
// clock sampled at entry. It returns nil on normal completion, the context
// error on cancellation, and a wrapped error when the input relay stays
// unreachable or the registry cannot be written.
func (h *Harvester) Run(ctx context.Context) error {
	defer h.conns.Close()

	start, ok := h.store.Load()
	if !ok {
		start = h.cfg.DefaultEpoch
		logging.Info().
			Time("epoch", start).
			Msg("No harvest checkpoint found, starting from default epoch")
	} else {
		logging.Info().Time("checkpoint", start).Msg("Resuming harvest from checkpoint")
	}

	bound := time.Now().UTC()
	ctrl := NewController(start, bound)

	logging.Info().
		Str("relay", h.inputURL).
		Time("from", start).
		Time("until", bound).
		Msg("Starting harvest run")

	failures := 0
	windows := 0
	// pending accumulates pubkeys across registry write failures; the
	// checkpoint stays behind every window whose identities it still
	// holds, so a restart re-harvests them instead of losing them.
	pending := make(map[string]struct{})
	for !ctrl.Done() {
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}

		w := ctrl.Current()
		events, outcome := h.fetchWindow(ctx, w)
		if !outcome.OK {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			logging.Error().
				Err(outcome.Err).
				Time("window_start", w.Start).
				Dur("window_width", w.Width).
				Int("consecutive_failures", failures).
				Msg("Window fetch failed after all retries")
			if failures >= maxWindowFailures {
				return fmt.Errorf("harvest aborted: %d consecutive window failures: %w", failures, outcome.Err)
			}
			// Same window again; the checkpoint has not moved.
			continue
		}
		failures = 0
		windows++

		newCount, pubkeys := h.sift(events)
		for pk := range pubkeys {
			pending[pk] = struct{}{}
		}
		if len(pending) > 0 {
			// Registry before checkpoint: a crash between the two
			// re-harvests a window but never loses a discovery.
			if _, err := registry.Merge(h.cfg.RegistryFile, pending); err != nil {
				logging.Error().Err(err).Int("identities", len(pending)).Msg("Failed to persist registry, holding checkpoint back")
			} else {
				pending = make(map[string]struct{})
			}
		}
		registered := len(pending) == 0

		dec := ctrl.Advance(newCount)
		if dec.Saturated {
			metrics.WindowsSaturated.Inc()
			logging.Warn().
				Time("window_start", w.Start).
				Int("events", len(events)).
				Msg("Window saturated, stepping back at minimum width")
		}
		if dec.Advanced && registered {
			if err := h.store.Save(dec.Checkpoint); err != nil {
				logging.Warn().Err(err).Msg("Failed to persist harvest checkpoint")
			} else {
				metrics.CheckpointTimestamp.Set(float64(dec.Checkpoint.Unix()))
			}
		}
		metrics.WindowWidth.Set(ctrl.Current().Width.Seconds())

		logging.Debug().
			Time("window_start", w.Start).
			Dur("window_width", w.Width).
			Int("fetched", len(events)).
			Int("new", newCount).
			Int("identities", len(pubkeys)).
			Bool("advanced", dec.Advanced).
			Msg("Window processed")
	}

	logging.Info().
		Int("windows", windows).
		Int("events_seen", h.filter.SeenCount()).
		Msg("Harvest run complete")
	return nil
}

// fetchWindow runs one windowed metadata fetch through the retry executor.
func (h *Harvester) fetchWindow(ctx context.Context, w Window) ([]nostr.Event, relay.Outcome) {
	since := nostr.Timestamp(w.Start.Unix())
	until := nostr.Timestamp(w.End().Unix())
	filter := nostr.Filter{
		Kinds: []int{metadataKind},
		Since: &since,
		Until: &until,
	}

	var events []nostr.Event
	outcome := h.retryer.Do(ctx, "harvest_fetch", h.conns, h.cfg.FetchTimeout,
		func(ctx context.Context, conn *websocket.Conn) error {
			evs, err := relay.Fetch(ctx, conn, h.inputURL, filter)
			if err != nil {
				return err
			}
			events = evs
			return nil
		})
	return events, outcome
}

// sift classifies a window's events, returning the new-event count that
// drives window sizing and the accepted pubkeys for the registry. Blocked
// and identifier-less events still count as new: the relay produced them,
// so they inform the saturation decision, but only identities that carry a
// nip05 identifier are registered.
func (h *Harvester) sift(events []nostr.Event) (int, map[string]struct{}) {
	newCount := 0
	pubkeys := make(map[string]struct{})
	for i := range events {
		switch h.filter.Check(&events[i]) {
		case Duplicate:
		case NoIdentifier, Blocked:
			newCount++
		case Accepted:
			newCount++
			pubkeys[events[i].PubKey] = struct{}{}
		}
	}
	return newCount, pubkeys
}
