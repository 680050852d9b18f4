// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

package syncer

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/tomtom215/relaybridge/internal/config"
)

// syncRelay plays either side of a replication run: as the input relay it
// answers author-filtered REQs from a scripted event table, as the output
// relay it collects EVENT frames and acknowledges them.
type syncRelay struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu sync.Mutex
	// eventsByAuthor holds the REQ responses, keyed by the first author
	// in the request filter.
	eventsByAuthor map[string][]nostr.Event
	// failAuthors drops the connection on a REQ for these authors.
	failAuthors map[string]bool
	filters     []nostr.Filter
	published   []nostr.Event
}

func newSyncRelay() *syncRelay {
	s := &syncRelay{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		eventsByAuthor: make(map[string][]nostr.Event),
		failAuthors:    make(map[string]bool),
	}

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go s.serve(conn)
	}))
	return s
}

func (s *syncRelay) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *syncRelay) close() {
	s.server.Close()
}

func (s *syncRelay) setEvents(author string, events ...nostr.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventsByAuthor[author] = events
}

func (s *syncRelay) failAuthor(author string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAuthors[author] = true
}

func (s *syncRelay) requestedFilters() []nostr.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]nostr.Filter, len(s.filters))
	copy(out, s.filters)
	return out
}

func (s *syncRelay) publishedEvents() []nostr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]nostr.Event, len(s.published))
	copy(out, s.published)
	return out
}

func (s *syncRelay) serve(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil || len(arr) < 2 {
			continue
		}
		var label string
		if err := json.Unmarshal(arr[0], &label); err != nil {
			continue
		}

		switch label {
		case "REQ":
			if len(arr) < 3 {
				continue
			}
			var sub string
			_ = json.Unmarshal(arr[1], &sub)
			var filter nostr.Filter
			_ = json.Unmarshal(arr[2], &filter)

			author := ""
			if len(filter.Authors) > 0 {
				author = filter.Authors[0]
			}

			s.mu.Lock()
			s.filters = append(s.filters, filter)
			fail := s.failAuthors[author]
			events := s.eventsByAuthor[author]
			s.mu.Unlock()

			if fail {
				return
			}
			for _, ev := range events {
				frame, _ := json.Marshal([]any{"EVENT", sub, ev})
				_ = conn.WriteMessage(websocket.TextMessage, frame)
			}
			eose, _ := json.Marshal([]any{"EOSE", sub})
			_ = conn.WriteMessage(websocket.TextMessage, eose)

		case "EVENT":
			var ev nostr.Event
			if err := json.Unmarshal(arr[1], &ev); err != nil {
				continue
			}
			s.mu.Lock()
			s.published = append(s.published, ev)
			s.mu.Unlock()

			ack, _ := json.Marshal([]any{"OK", ev.ID, true, ""})
			_ = conn.WriteMessage(websocket.TextMessage, ack)
		}
	}
}

func authorEvent(id, pubkey string, createdAt int64) nostr.Event {
	return nostr.Event{
		ID:        id,
		PubKey:    pubkey,
		Kind:      1,
		Content:   "note " + id,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags:      nostr.Tags{},
		Sig:       "sig-" + id,
	}
}

func testSyncConfig(t *testing.T) config.SyncConfig {
	t.Helper()
	return config.SyncConfig{
		CheckpointFile: t.TempDir() + "/sync_checkpoint.txt",
		RetryAttempts:  3,
		FetchTimeout:   5 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}
