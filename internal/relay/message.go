// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

/*
message.go - Relay Wire Protocol

Relay messages travel as positional JSON arrays whose first element is a tag
string. They are decoded exactly once here, at the transport boundary, into a
tagged Message variant; nothing outside this package indexes into raw arrays.

Envelopes sent:   ["REQ", <sub id>, <filter>]   and   ["EVENT", <event>]
Envelopes read:   ["EVENT", <sub id>, <event>]
                  ["EOSE", <sub id>]
                  ["OK", <event id>, <bool>, <message>]
                  ["NOTICE", <text>]
*/

package relay

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr"
)

// Message is a decoded relay response. Concrete types: EventMessage,
// EndOfStored, Ack, Notice.
type Message interface {
	isMessage()
}

// EventMessage carries one event for a subscription.
type EventMessage struct {
	Sub   string
	Event nostr.Event
}

// EndOfStored signals that no further stored events will arrive for the
// subscription.
type EndOfStored struct {
	Sub string
}

// Ack is the relay's response to a published event. OK reflects the boolean
// at index 2 of the ["OK", <id>, <bool>, <message>] envelope.
type Ack struct {
	EventID string
	OK      bool
	Reason  string
}

// Notice is a human-readable message from the relay.
type Notice struct {
	Text string
}

func (EventMessage) isMessage() {}
func (EndOfStored) isMessage()  {}
func (Ack) isMessage()          {}
func (Notice) isMessage()       {}

// ErrMalformedMessage reports a response that could not be decoded. Callers
// drop the single response and keep listening; they never retry the request
// for it (a resent REQ would open a duplicate server-side subscription).
var ErrMalformedMessage = errors.New("malformed relay message")

// DecodeMessage decodes one raw relay response into a Message.
func DecodeMessage(data []byte) (Message, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("%w: not a JSON array: %v", ErrMalformedMessage, err)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("%w: empty array", ErrMalformedMessage)
	}

	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil {
		return nil, fmt.Errorf("%w: non-string label: %v", ErrMalformedMessage, err)
	}

	switch label {
	case "EVENT":
		if len(arr) < 3 {
			return nil, fmt.Errorf("%w: EVENT with %d elements", ErrMalformedMessage, len(arr))
		}
		var sub string
		if err := json.Unmarshal(arr[1], &sub); err != nil {
			return nil, fmt.Errorf("%w: EVENT subscription id: %v", ErrMalformedMessage, err)
		}
		var ev nostr.Event
		if err := json.Unmarshal(arr[2], &ev); err != nil {
			return nil, fmt.Errorf("%w: EVENT payload: %v", ErrMalformedMessage, err)
		}
		return EventMessage{Sub: sub, Event: ev}, nil

	case "EOSE":
		if len(arr) < 2 {
			return nil, fmt.Errorf("%w: EOSE without subscription id", ErrMalformedMessage)
		}
		var sub string
		if err := json.Unmarshal(arr[1], &sub); err != nil {
			return nil, fmt.Errorf("%w: EOSE subscription id: %v", ErrMalformedMessage, err)
		}
		return EndOfStored{Sub: sub}, nil

	case "OK":
		// The success flag is pinned to index 2; the trailing message
		// is optional. Anything without the flag is malformed.
		if len(arr) < 3 {
			return nil, fmt.Errorf("%w: OK with %d elements", ErrMalformedMessage, len(arr))
		}
		var ack Ack
		if err := json.Unmarshal(arr[1], &ack.EventID); err != nil {
			return nil, fmt.Errorf("%w: OK event id: %v", ErrMalformedMessage, err)
		}
		if err := json.Unmarshal(arr[2], &ack.OK); err != nil {
			return nil, fmt.Errorf("%w: OK flag: %v", ErrMalformedMessage, err)
		}
		if len(arr) > 3 {
			// Reason is optional; a bad one does not invalidate the ack.
			_ = json.Unmarshal(arr[3], &ack.Reason)
		}
		return ack, nil

	case "NOTICE":
		var text string
		if len(arr) > 1 {
			_ = json.Unmarshal(arr[1], &text)
		}
		return Notice{Text: text}, nil

	default:
		return nil, fmt.Errorf("%w: unknown label %q", ErrMalformedMessage, label)
	}
}

// ReqEnvelope encodes a subscribe request for the given subscription id and
// filter.
func ReqEnvelope(sub string, filter nostr.Filter) ([]byte, error) {
	return json.Marshal([]any{"REQ", sub, filter})
}

// EventEnvelope encodes a publish request for the given event.
func EventEnvelope(ev *nostr.Event) ([]byte, error) {
	return json.Marshal([]any{"EVENT", ev})
}

// CloseEnvelope encodes a subscription close request.
func CloseEnvelope(sub string) ([]byte, error) {
	return json.Marshal([]any{"CLOSE", sub})
}
