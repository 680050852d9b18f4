// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

// Package metrics provides Prometheus instrumentation for the harvester and
// replication engine: fetch/publish throughput, retry pressure, adaptive
// window behavior, and per-endpoint connection health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsFetched counts events drained from subscribe requests, per relay.
	EventsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybridge_events_fetched_total",
			Help: "Total number of events received from source relays",
		},
		[]string{"relay"},
	)

	// EventsPublished counts publish acknowledgements, per relay and result.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybridge_events_published_total",
			Help: "Total number of publish attempts by acknowledgement result",
		},
		[]string{"relay", "result"}, // "ok", "rejected"
	)

	// EventsDeduplicated counts events dropped as already seen this run.
	EventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relaybridge_events_deduplicated_total",
			Help: "Total number of duplicate events dropped by the seen-ID set",
		},
	)

	// EventsBlocked counts identities rejected by the domain blocklist.
	EventsBlocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relaybridge_events_blocked_total",
			Help: "Total number of events rejected by the domain blocklist",
		},
	)

	// MalformedMessages counts undecodable relay responses that were dropped.
	MalformedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybridge_malformed_messages_total",
			Help: "Total number of malformed relay responses dropped",
		},
		[]string{"relay"},
	)

	// RetryAttempts counts retry executor attempts by operation and outcome.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybridge_retry_attempts_total",
			Help: "Total number of retry executor attempts by outcome",
		},
		[]string{"operation", "outcome"}, // "success", "timeout", "error"
	)

	// RetryExhausted counts units of work abandoned after max retries.
	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybridge_retry_exhausted_total",
			Help: "Total number of operations abandoned after exhausting retries",
		},
		[]string{"operation"},
	)

	// WindowWidth reports the harvester's current window width in seconds.
	WindowWidth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relaybridge_window_width_seconds",
			Help: "Current adaptive fetch window width in seconds",
		},
	)

	// WindowsSaturated counts windows that hit the relay's result cap and
	// forced a step-back rescan.
	WindowsSaturated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relaybridge_windows_saturated_total",
			Help: "Total number of saturated windows that were re-scanned",
		},
	)

	// CheckpointTimestamp reports the persisted harvest checkpoint as a
	// Unix timestamp, for lag alerting.
	CheckpointTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relaybridge_checkpoint_timestamp_seconds",
			Help: "Unix timestamp of the persisted harvest checkpoint",
		},
	)

	// RegistrySize reports the number of identities in the pubkey registry.
	RegistrySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relaybridge_registry_identities",
			Help: "Current number of identities in the pubkey registry",
		},
	)

	// BreakerState reports per-endpoint circuit breaker state
	// (0 = closed, 1 = half-open, 2 = open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaybridge_connection_breaker_state",
			Help: "Connection circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"relay"},
	)

	// Reconnects counts transport reconnections per endpoint.
	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybridge_reconnects_total",
			Help: "Total number of websocket connections re-established",
		},
		[]string{"relay"},
	)
)
