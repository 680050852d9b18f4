// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

// Package checkpoint persists single-value progress markers to disk so a
// restarted run resumes where the previous one left off. Two shapes are
// supported: a Unix-seconds timestamp (harvester and sequential sync) and a
// line-position index into an identity list (parallel backfill).
//
// Files are plain text holding one integer and are rewritten whole on every
// save. An absent file means "no checkpoint"; a corrupt file is treated the
// same way, logged, and overwritten on the next save.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/relaybridge/internal/logging"
)

// TimeStore persists a Unix-seconds timestamp checkpoint.
type TimeStore struct {
	path string
	mu   sync.Mutex
}

// NewTimeStore creates a store backed by the given file path.
func NewTimeStore(path string) *TimeStore {
	return &TimeStore{path: path}
}

// Load reads the persisted timestamp. The boolean is false when no valid
// checkpoint exists (absent or unreadable file).
func (s *TimeStore) Load() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secs, ok := readInt(s.path)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

// Save overwrites the checkpoint with the given timestamp. Write failures
// are returned to the caller but are not fatal to a run: the in-memory state
// stays ahead and the unwritten window is re-processed after a crash.
func (s *TimeStore) Save(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeInt(s.path, t.Unix())
}

// PositionStore persists a line-position index into an identity list.
type PositionStore struct {
	path string
	mu   sync.Mutex
}

// NewPositionStore creates a store backed by the given file path.
func NewPositionStore(path string) *PositionStore {
	return &PositionStore{path: path}
}

// Load reads the persisted position. Absent or invalid files yield zero,
// which restarts the list from the top.
func (s *PositionStore) Load() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := readInt(s.path)
	if !ok || pos < 0 {
		return 0
	}
	return int(pos)
}

// Save overwrites the persisted position.
func (s *PositionStore) Save(pos int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeInt(s.path, int64(pos))
}

// readInt reads a single integer from a text file. Fractional content
// (a legacy float timestamp) is truncated toward zero.
func readInt(path string) (int64, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn().Err(err).Str("file", path).Msg("Failed to read checkpoint file")
		}
		return 0, false
	}

	content := strings.TrimSpace(string(raw))
	if content == "" {
		return 0, false
	}

	if v, err := strconv.ParseInt(content, 10, 64); err == nil {
		return v, true
	}
	if f, err := strconv.ParseFloat(content, 64); err == nil {
		return int64(f), true
	}

	logging.Warn().Str("file", path).Str("content", content).Msg("Ignoring corrupt checkpoint file")
	return 0, false
}

// writeInt rewrites the whole file with a single integer, creating parent
// directories as needed.
func writeInt(path string, v int64) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(strconv.FormatInt(v, 10)), 0o644); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", path, err)
	}
	return nil
}
