// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

package relay

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/relaybridge/internal/logging"
	"github.com/tomtom215/relaybridge/internal/metrics"
)

// Outcome is the result of running an operation through the Retryer. A
// failed outcome never carries a panic or escapes as an error from the unit
// of work: the caller inspects OK, logs, and moves on to the next unit.
type Outcome struct {
	OK       bool
	Attempts int
	Err      error
}

// Retryer executes fallible relay operations with bounded retries. The
// operation timeout doubles with each attempt and the inter-retry sleep
// grows exponentially with a cap, so a flaky relay gets progressively more
// room while a dead one is abandoned quickly.
type Retryer struct {
	// MaxRetries is the total number of attempts. Default 3.
	MaxRetries int
	// SleepUnit scales the inter-retry delay (delay = SleepUnit * 2^attempt).
	// Default 1s; tests shrink it.
	SleepUnit time.Duration
	// SleepCap bounds the inter-retry delay. Default 30s.
	SleepCap time.Duration
}

// NewRetryer returns a Retryer with production defaults.
func NewRetryer(maxRetries int) *Retryer {
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &Retryer{
		MaxRetries: maxRetries,
		SleepUnit:  time.Second,
		SleepCap:   30 * time.Second,
	}
}

// Operation is one fallible relay round trip. The context carries the
// per-attempt deadline; implementations must apply it to their reads and
// writes.
type Operation func(ctx context.Context, conn *websocket.Conn) error

// Do runs op against a connection from cm, retrying on failure. Each attempt:
//
//  1. acquires a (possibly fresh) connection from cm
//  2. runs op with timeout baseTimeout * 2^attempt
//  3. on failure: logs the attempt, invalidates the connection so the next
//     attempt redials, sleeps min(SleepUnit*2^attempt, SleepCap), and retries
//
// After MaxRetries failures Do returns a failed Outcome; it never returns an
// error to escalate. Timeouts and other transport failures are classified
// separately for logging and metrics but both retry.
func (r *Retryer) Do(ctx context.Context, name string, cm *ConnManager, baseTimeout time.Duration, op Operation) Outcome {
	var lastErr error

	for attempt := 0; attempt < r.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return Outcome{OK: false, Attempts: attempt, Err: ctx.Err()}
		}

		attemptTimeout := baseTimeout << attempt

		err := r.runAttempt(ctx, cm, attemptTimeout, op)
		if err == nil {
			metrics.RetryAttempts.WithLabelValues(name, "success").Inc()
			return Outcome{OK: true, Attempts: attempt + 1}
		}
		lastErr = err

		kind := "error"
		if IsTimeout(err) {
			kind = "timeout"
		}
		metrics.RetryAttempts.WithLabelValues(name, kind).Inc()
		logging.Warn().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt+1).
			Int("max_attempts", r.MaxRetries).
			Dur("timeout", attemptTimeout).
			Msg("Operation attempt failed")

		// Force a reconnect on the next attempt.
		cm.Invalidate()

		if attempt < r.MaxRetries-1 {
			delay := r.SleepUnit << (attempt + 1)
			if delay > r.SleepCap {
				delay = r.SleepCap
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Outcome{OK: false, Attempts: attempt + 1, Err: ctx.Err()}
			}
		}
	}

	metrics.RetryExhausted.WithLabelValues(name).Inc()
	logging.Error().
		Err(lastErr).
		Str("operation", name).
		Int("attempts", r.MaxRetries).
		Msg("Operation failed after all retries")
	return Outcome{OK: false, Attempts: r.MaxRetries, Err: lastErr}
}

func (r *Retryer) runAttempt(ctx context.Context, cm *ConnManager, timeout time.Duration, op Operation) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := cm.Acquire(opCtx)
	if err != nil {
		return err
	}

	return op(opCtx, conn)
}

// IsTimeout reports whether err is a deadline-style failure as opposed to
// any other transport or protocol error.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
