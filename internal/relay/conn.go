// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/relaybridge/internal/logging"
	"github.com/tomtom215/relaybridge/internal/metrics"
)

// handshakeTimeout bounds the initial websocket dial.
const handshakeTimeout = 10 * time.Second

// ConnManager owns one lazily re-established websocket connection to a
// single relay endpoint. Acquire returns the cached connection while it is
// believed live; Invalidate discards it so the next Acquire redials.
//
// A ConnManager is safe for concurrent use, but the returned *websocket.Conn
// is not: interleaving request/response pairs from multiple goroutines on
// one transport corrupts the subscription streams. Give each worker its own
// ConnManager.
type ConnManager struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn

	// breaker tracks dial health so a dead endpoint fails fast instead of
	// eating a full handshake timeout on every retry attempt.
	breaker *gobreaker.CircuitBreaker[*websocket.Conn]
}

// NewConnManager creates a manager for the given relay URL.
func NewConnManager(url string) *ConnManager {
	metrics.BreakerState.WithLabelValues(url).Set(0)

	breaker := gobreaker.NewCircuitBreaker[*websocket.Conn](gobreaker.Settings{
		Name:        url,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		// Open after a 60% failure rate with at least 5 dials observed.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("relay", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Connection breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &ConnManager{url: url, breaker: breaker}
}

// URL returns the endpoint this manager connects to.
func (m *ConnManager) URL() string {
	return m.url
}

// Acquire returns a healthy connection, dialing a new one if none is cached.
// Dial failures (including a tripped breaker) surface as errors the caller
// must treat as retryable.
func (m *ConnManager) Acquire(ctx context.Context) (*websocket.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return m.conn, nil
	}

	conn, err := m.breaker.Execute(func() (*websocket.Conn, error) {
		return m.dial(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", m.url, err)
	}

	m.conn = conn
	metrics.Reconnects.WithLabelValues(m.url).Inc()
	logging.Debug().Str("relay", m.url).Msg("Connected")
	return conn, nil
}

func (m *ConnManager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Failed to close handshake response body")
		}
	}
	return conn, nil
}

// Invalidate discards the cached connection after a failure, closing the
// stale handle best-effort. The next Acquire redials.
func (m *ConnManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// Close shuts the connection down gracefully at end of run.
func (m *ConnManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		if err := m.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(1*time.Second),
		); err != nil {
			logging.Debug().Err(err).Str("relay", m.url).Msg("Failed to send close message")
		}
	}
	m.closeLocked()
}

func (m *ConnManager) closeLocked() {
	if m.conn == nil {
		return
	}
	if err := m.conn.Close(); err != nil {
		logging.Debug().Err(err).Str("relay", m.url).Msg("Failed to close connection")
	}
	m.conn = nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
