// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

// Package relay implements the transport core shared by the harvester and
// the replication engine: the wire protocol codec, a per-endpoint connection
// manager with circuit-breaker health tracking, a bounded retry executor,
// and the fetch/publish round trips built on them.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/tomtom215/relaybridge/internal/logging"
	"github.com/tomtom215/relaybridge/internal/metrics"
)

// ErrPublishRejected reports a negative acknowledgement from the
// destination relay.
var ErrPublishRejected = errors.New("publish rejected by relay")

// Fetch issues one subscribe request for the filter and drains the response
// stream into a batch, returning when the relay signals end-of-stored-events
// for our subscription. A malformed response is dropped with a warning and
// the stream keeps draining; it is never fatal to the subscription.
//
// The context deadline (set by the Retryer) bounds the whole round trip via
// the connection's read and write deadlines.
func Fetch(ctx context.Context, conn *websocket.Conn, relayURL string, filter nostr.Filter) ([]nostr.Event, error) {
	if err := applyDeadlines(ctx, conn); err != nil {
		return nil, err
	}

	sub := uuid.NewString()
	payload, err := ReqEnvelope(sub, filter)
	if err != nil {
		return nil, fmt.Errorf("encode REQ: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, fmt.Errorf("send REQ: %w", err)
	}

	var events []nostr.Event
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		msg, err := DecodeMessage(raw)
		if err != nil {
			metrics.MalformedMessages.WithLabelValues(relayURL).Inc()
			logging.Warn().Err(err).Str("relay", relayURL).Msg("Dropping malformed relay response")
			continue
		}

		switch m := msg.(type) {
		case EventMessage:
			if m.Sub != sub {
				continue
			}
			events = append(events, m.Event)
			metrics.EventsFetched.WithLabelValues(relayURL).Inc()
		case EndOfStored:
			if m.Sub != sub {
				continue
			}
			// Release the subscription server-side; the relay would
			// otherwise keep streaming live events at it. Best effort:
			// the batch is already complete.
			if payload, err := CloseEnvelope(sub); err == nil {
				_ = conn.WriteMessage(websocket.TextMessage, payload)
			}
			return events, nil
		case Notice:
			logging.Warn().Str("relay", relayURL).Str("notice", m.Text).Msg("Relay notice")
		case Ack:
			// Stray acknowledgement on a fetch stream; nothing to do.
		}
	}
}

// Publish serializes the event into the minimal publish envelope, sends it,
// reads exactly one acknowledgement, and interprets the positional success
// flag. A negative or malformed acknowledgement is an error (retryable by
// the caller), never a panic past this layer. One round trip per event; no
// batching.
func Publish(ctx context.Context, conn *websocket.Conn, relayURL string, ev *nostr.Event) error {
	if err := applyDeadlines(ctx, conn); err != nil {
		return err
	}

	payload, err := EventEnvelope(ev)
	if err != nil {
		return fmt.Errorf("encode EVENT: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send EVENT: %w", err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read acknowledgement: %w", err)
	}

	msg, err := DecodeMessage(raw)
	if err != nil {
		metrics.MalformedMessages.WithLabelValues(relayURL).Inc()
		return fmt.Errorf("malformed acknowledgement: %w", err)
	}

	ack, ok := msg.(Ack)
	if !ok {
		return fmt.Errorf("expected OK acknowledgement, got %T", msg)
	}
	if !ack.OK {
		metrics.EventsPublished.WithLabelValues(relayURL, "rejected").Inc()
		return fmt.Errorf("%w: event %s: %s", ErrPublishRejected, ack.EventID, ack.Reason)
	}

	metrics.EventsPublished.WithLabelValues(relayURL, "ok").Inc()
	return nil
}

// applyDeadlines maps the context deadline onto the websocket's read and
// write deadlines so blocked I/O surfaces as a timeout error.
func applyDeadlines(ctx context.Context, conn *websocket.Conn) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return nil
}
