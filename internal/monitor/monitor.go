// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

// Package monitor verifies replication health by sampling registry
// identities and comparing each identity's recent events on the source
// relay against what the destination relay actually holds.
package monitor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/tomtom215/relaybridge/internal/config"
	"github.com/tomtom215/relaybridge/internal/logging"
	"github.com/tomtom215/relaybridge/internal/relay"
)

// fetchTimeout is the base timeout for one verification fetch; the retry
// executor doubles it per attempt.
const fetchTimeout = 15 * time.Second

// Monitor compares per-identity event presence across the two relays.
type Monitor struct {
	cfg       config.MonitorConfig
	inputURL  string
	outputURL string
	in        *relay.ConnManager
	out       *relay.ConnManager
	retryer   *relay.Retryer
}

// New builds a monitor over the input (source) and output (destination)
// relays.
func New(cfg config.MonitorConfig, inputURL, outputURL string) *Monitor {
	return &Monitor{
		cfg:       cfg,
		inputURL:  inputURL,
		outputURL: outputURL,
		in:        relay.NewConnManager(inputURL),
		out:       relay.NewConnManager(outputURL),
		retryer:   relay.NewRetryer(3),
	}
}

// Close releases both relay connections.
func (m *Monitor) Close() {
	m.in.Close()
	m.out.Close()
}

// Report is the verification result for one identity.
type Report struct {
	PubKey string
	// Source is how many recent events the source relay returned.
	Source int
	// Destination is how many of those IDs the destination relay holds.
	Destination int
}

// Missing returns how many sampled events have not been replicated.
func (r Report) Missing() int {
	return r.Source - r.Destination
}

// Check fetches an identity's most recent event IDs from the source and
// queries the destination for exactly those IDs. An identity with no
// source events yields an empty report, not an error.
func (m *Monitor) Check(ctx context.Context, pubkey string) (Report, error) {
	report := Report{PubKey: pubkey}

	limit := m.cfg.FetchLimit
	sourceFilter := nostr.Filter{Authors: []string{pubkey}, Limit: limit}
	sourceEvents, err := m.fetch(ctx, "monitor_source_fetch", m.in, m.inputURL, sourceFilter)
	if err != nil {
		return report, fmt.Errorf("source fetch for %s: %w", pubkey, err)
	}
	report.Source = len(sourceEvents)
	if report.Source == 0 {
		return report, nil
	}

	ids := make([]string, 0, len(sourceEvents))
	for i := range sourceEvents {
		ids = append(ids, sourceEvents[i].ID)
	}

	destEvents, err := m.fetch(ctx, "monitor_dest_fetch", m.out, m.outputURL, nostr.Filter{IDs: ids})
	if err != nil {
		return report, fmt.Errorf("destination fetch for %s: %w", pubkey, err)
	}

	// Count only IDs we asked about; a relay returning extras must not
	// inflate the replication score.
	asked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		asked[id] = struct{}{}
	}
	for i := range destEvents {
		if _, ok := asked[destEvents[i].ID]; ok {
			report.Destination++
			delete(asked, destEvents[i].ID)
		}
	}
	return report, nil
}

// Summary aggregates a sampling run.
type Summary struct {
	Checked     int
	Source      int
	Destination int
	Missing     int
}

// Run verifies a random sample of the identity list. A fetch that exhausts
// its retries aborts the run: an unreachable relay makes every further
// comparison meaningless.
func (m *Monitor) Run(ctx context.Context, pubkeys []string) (Summary, error) {
	sample := samplePubkeys(pubkeys, m.cfg.SampleSize)
	logging.Info().
		Int("sample", len(sample)).
		Int("registry", len(pubkeys)).
		Msg("Starting replication verification")

	var sum Summary
	for _, pk := range sample {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		report, err := m.Check(ctx, pk)
		if err != nil {
			return sum, err
		}
		sum.Checked++
		sum.Source += report.Source
		sum.Destination += report.Destination
		sum.Missing += report.Missing()

		if report.Missing() > 0 {
			logging.Warn().
				Str("pubkey", pk).
				Int("source", report.Source).
				Int("destination", report.Destination).
				Msg("Identity has unreplicated events")
		} else {
			logging.Debug().
				Str("pubkey", pk).
				Int("source", report.Source).
				Msg("Identity fully replicated")
		}
	}

	logging.Info().
		Int("checked", sum.Checked).
		Int("source_events", sum.Source).
		Int("replicated", sum.Destination).
		Int("missing", sum.Missing).
		Msg("Replication verification complete")
	return sum, nil
}

func (m *Monitor) fetch(ctx context.Context, name string, cm *relay.ConnManager, url string, filter nostr.Filter) ([]nostr.Event, error) {
	var events []nostr.Event
	outcome := m.retryer.Do(ctx, name, cm, fetchTimeout,
		func(ctx context.Context, conn *websocket.Conn) error {
			evs, err := relay.Fetch(ctx, conn, url, filter)
			if err != nil {
				return err
			}
			events = evs
			return nil
		})
	if !outcome.OK {
		return nil, outcome.Err
	}
	return events, nil
}

// samplePubkeys picks up to n identities uniformly without replacement.
func samplePubkeys(pubkeys []string, n int) []string {
	if n <= 0 || n >= len(pubkeys) {
		out := make([]string, len(pubkeys))
		copy(out, pubkeys)
		return out
	}
	out := make([]string, len(pubkeys))
	copy(out, pubkeys)
	rand.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out[:n]
}
