// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

/*
window.go - Adaptive Window Controller

The harvester crawls an unbounded timestamp-ordered stream in bounded time
windows. The controller resizes the next window from the event count the
previous one produced, keeping windows small enough that the relay's
per-subscription result cap (about 500) never silently truncates data:

	count >= 500   saturated: shrink to 10m, step back 5m, no checkpoint
	count >= 150   reset to 20m, advance
	count >= 51    grow to 60m, advance
	count <= 50    double the width (cap 30 days), advance

The loop bound is the wall clock sampled once at entry, so the loop always
terminates; windows overshooting that bound are clamped.
*/

package harvest

import (
	"time"
)

const (
	// initialWidth is the width of the first window of a run.
	initialWidth = 20 * time.Minute
	// minWidth is the fallback width after a saturated window.
	minWidth = 10 * time.Minute
	// maxWidth caps exponential growth across sparse history.
	maxWidth = 30 * 24 * time.Hour
	// stepBack is how far a saturated window's successor rewinds to
	// re-scan the overlap at finer granularity.
	stepBack = 5 * time.Minute
	// resetWidth follows a dense (150-499) window.
	resetWidth = 20 * time.Minute
	// growWidth follows a moderate (51-149) window.
	growWidth = 60 * time.Minute

	// SaturationCount is the event count treated as evidence the relay
	// truncated the window's results.
	SaturationCount = 500
)

// Window is a half-open time range [Start, Start+Width).
type Window struct {
	Start time.Time
	Width time.Duration
}

// End returns the exclusive end of the window.
func (w Window) End() time.Time {
	return w.Start.Add(w.Width)
}

// Controller drives the adaptive window loop. It is a pure state machine:
// feed it each window's new-event count and it yields the next window and
// the checkpoint decision.
type Controller struct {
	window Window
	// bound is the wall clock sampled at loop entry; never re-sampled, so
	// the loop terminates even while new events keep arriving.
	bound time.Time
}

// NewController starts a controller at the given checkpoint with the
// initial window width. bound is the current wall clock.
func NewController(start, bound time.Time) *Controller {
	return &Controller{
		window: Window{Start: start, Width: initialWidth},
		bound:  bound,
	}
}

// Done reports whether the window start has reached the loop bound.
func (c *Controller) Done() bool {
	return !c.window.Start.Before(c.bound)
}

// Current returns the active window, clamped so its end never exceeds the
// loop bound. Resuming after a long pause would otherwise request future
// timestamps.
func (c *Controller) Current() Window {
	w := c.window
	if w.End().After(c.bound) {
		w.Width = c.bound.Sub(w.Start)
	}
	return w
}

// Decision is the outcome of completing one window.
type Decision struct {
	// Checkpoint is the timestamp to persist; valid only when Advanced.
	Checkpoint time.Time
	// Advanced is false for saturated windows: the checkpoint must never
	// move past a window whose results were truncated.
	Advanced bool
	// Saturated marks a window that hit the relay's result cap.
	Saturated bool
}

// Advance consumes the new-event count of the just-completed window,
// repositions the controller, and returns the checkpoint decision.
func (c *Controller) Advance(eventCount int) Decision {
	completed := c.Current()
	end := completed.End()

	switch {
	case eventCount >= SaturationCount:
		// Truncation evidence: rescan from just before this window at
		// the finest granularity instead of moving on.
		c.window = Window{
			Start: completed.Start.Add(-stepBack),
			Width: minWidth,
		}
		return Decision{Saturated: true}

	case eventCount >= 150:
		c.window = Window{Start: end, Width: resetWidth}

	case eventCount >= 51:
		c.window = Window{Start: end, Width: growWidth}

	default:
		width := completed.Width * 2
		if width < minWidth {
			width = minWidth
		}
		if width > maxWidth {
			width = maxWidth
		}
		c.window = Window{Start: end, Width: width}
	}

	return Decision{Checkpoint: end, Advanced: true}
}
