// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

package harvest

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr"

	"github.com/tomtom215/relaybridge/internal/metrics"
)

// Verdict classifies one event against the dedup set and the blocklist.
type Verdict int

const (
	// Accepted events carry a nip05 identifier and enter the registry
	// pipeline.
	Accepted Verdict = iota
	// Duplicate events were already seen this run and carry no new
	// information for window sizing.
	Duplicate
	// NoIdentifier events have no extractable nip05 field. They count
	// toward window sizing but their pubkeys are not registered: the
	// registry holds domain-bearing identities only.
	NoIdentifier
	// Blocked events are new but their nip05 domain is blocklisted.
	Blocked
)

// Filter deduplicates events by ID for the lifetime of one run and rejects
// identities whose nip05 domain is blocklisted. Cross-run duplicates are
// tolerated; the checkpoint, not this set, bounds re-fetch across restarts.
type Filter struct {
	seen      map[string]struct{}
	blocklist Blocklist
}

// NewFilter creates a filter with an empty seen-ID set.
func NewFilter(blocklist Blocklist) *Filter {
	return &Filter{
		seen:      make(map[string]struct{}),
		blocklist: blocklist,
	}
}

// Check classifies an event. New IDs are recorded before the identifier
// checks, so any event re-observed later counts as a duplicate. Malformed
// content is treated the same as a missing nip05 field, not as an error.
func (f *Filter) Check(ev *nostr.Event) Verdict {
	if _, dup := f.seen[ev.ID]; dup {
		metrics.EventsDeduplicated.Inc()
		return Duplicate
	}
	f.seen[ev.ID] = struct{}{}

	identifier, ok := nip05Identifier(ev.Content)
	if !ok {
		return NoIdentifier
	}
	if f.blocklist.BlockedIdentifier(identifier) {
		metrics.EventsBlocked.Inc()
		return Blocked
	}

	return Accepted
}

// SeenCount returns how many distinct event IDs this run has processed.
func (f *Filter) SeenCount() int {
	return len(f.seen)
}

// nip05Identifier extracts the nip05 field from a metadata event's content.
// Malformed content is treated as having no identifier, not as an error.
func nip05Identifier(content string) (string, bool) {
	if content == "" {
		return "", false
	}

	var profile struct {
		Nip05 string `json:"nip05"`
	}
	if err := json.Unmarshal([]byte(content), &profile); err != nil {
		return "", false
	}
	if profile.Nip05 == "" {
		return "", false
	}
	return profile.Nip05, true
}

// ExtractDomain returns the normalized domain of a user@domain identifier.
// Gateway identities encode dots as dashes, so "-" normalizes to "." before
// any blocklist comparison. Identifiers without "@" have no domain.
func ExtractDomain(identifier string) (string, bool) {
	_, domain, found := strings.Cut(identifier, "@")
	if !found || domain == "" {
		return "", false
	}
	return strings.ReplaceAll(domain, "-", "."), true
}
