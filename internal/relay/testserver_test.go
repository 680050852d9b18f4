// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
)

// mockRelay is a scripted websocket relay for tests. It answers REQ frames
// with a configurable sequence of responses and EVENT frames with a
// configurable acknowledgement.
type mockRelay struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu sync.Mutex
	// respondEvents are sent (followed by EOSE) for each REQ received.
	respondEvents []nostr.Event
	// rawFrames, when set, are sent verbatim for each REQ instead of
	// respondEvents; no EOSE is appended.
	rawFrames [][]byte
	// ackOK controls the OK flag in publish acknowledgements.
	ackOK bool
	// ackRaw, when set, is sent verbatim as the publish acknowledgement.
	ackRaw []byte
	// published collects events received via EVENT frames.
	published []nostr.Event
	// reqSubs and closedSubs record subscription ids seen in REQ and
	// CLOSE frames, in arrival order.
	reqSubs    []string
	closedSubs []string

	dials int64
	reqs  int64
}

func newMockRelay() *mockRelay {
	m := &mockRelay{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		ackOK: true,
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt64(&m.dials, 1)
		go m.serve(conn)
	}))

	return m
}

func (m *mockRelay) url() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

func (m *mockRelay) close() {
	m.server.Close()
}

func (m *mockRelay) dialCount() int64 {
	return atomic.LoadInt64(&m.dials)
}

func (m *mockRelay) subscriptions() (requested, closed []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	requested = append(requested, m.reqSubs...)
	closed = append(closed, m.closedSubs...)
	return requested, closed
}

func (m *mockRelay) publishedEvents() []nostr.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]nostr.Event, len(m.published))
	copy(out, m.published)
	return out
}

func (m *mockRelay) serve(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil || len(arr) == 0 {
			continue
		}
		var label string
		if err := json.Unmarshal(arr[0], &label); err != nil {
			continue
		}

		switch label {
		case "REQ":
			atomic.AddInt64(&m.reqs, 1)
			var sub string
			if len(arr) > 1 {
				_ = json.Unmarshal(arr[1], &sub)
			}
			m.mu.Lock()
			m.reqSubs = append(m.reqSubs, sub)
			m.mu.Unlock()
			m.answerReq(conn, sub)

		case "CLOSE":
			var sub string
			if len(arr) > 1 {
				_ = json.Unmarshal(arr[1], &sub)
			}
			m.mu.Lock()
			m.closedSubs = append(m.closedSubs, sub)
			m.mu.Unlock()

		case "EVENT":
			if len(arr) < 2 {
				continue
			}
			var ev nostr.Event
			if err := json.Unmarshal(arr[1], &ev); err != nil {
				continue
			}
			m.mu.Lock()
			m.published = append(m.published, ev)
			ackOK, ackRaw := m.ackOK, m.ackRaw
			m.mu.Unlock()

			if ackRaw != nil {
				_ = conn.WriteMessage(websocket.TextMessage, ackRaw)
				continue
			}
			ack, _ := json.Marshal([]any{"OK", ev.ID, ackOK, ""})
			_ = conn.WriteMessage(websocket.TextMessage, ack)
		}
	}
}

func (m *mockRelay) answerReq(conn *websocket.Conn, sub string) {
	m.mu.Lock()
	rawFrames := m.rawFrames
	events := m.respondEvents
	m.mu.Unlock()

	if rawFrames != nil {
		for _, frame := range rawFrames {
			// Frames carry a %SUB% placeholder so scripted responses can
			// target the real subscription id.
			out := strings.ReplaceAll(string(frame), "%SUB%", sub)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(out))
		}
		return
	}

	for i := range events {
		frame, _ := json.Marshal([]any{"EVENT", sub, events[i]})
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	eose, _ := json.Marshal([]any{"EOSE", sub})
	_ = conn.WriteMessage(websocket.TextMessage, eose)
}

// testEvent builds a minimal event for tests.
func testEvent(id, pubkey, content string, createdAt int64) nostr.Event {
	return nostr.Event{
		ID:        id,
		PubKey:    pubkey,
		Kind:      1,
		Content:   content,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags:      nostr.Tags{},
		Sig:       "sig-" + id,
	}
}
