// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

// Package registry persists the set of harvested public keys as a flat
// newline-delimited file. The file is the contract between the harvester,
// which appends discoveries, and the replication engine, which iterates it.
package registry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tomtom215/relaybridge/internal/logging"
	"github.com/tomtom215/relaybridge/internal/metrics"
)

// Load reads every non-empty line of the registry file. A missing file
// yields an empty set without error; callers that require an existing
// registry use MustLoad.
func Load(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer f.Close()

	keys := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		keys[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	return keys, nil
}

// MustLoad reads the registry and fails when the file does not exist.
// The replication side never invents an identity list.
func MustLoad(path string) ([]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	set, err := Load(path)
	if err != nil {
		return nil, err
	}
	return sortedKeys(set), nil
}

// Merge unions new keys into the on-disk registry and rewrites the whole
// file. Entries already present survive any order of concurrent harvests
// because the union is computed from a fresh read.
func Merge(path string, newKeys map[string]struct{}) (int, error) {
	existing, err := Load(path)
	if err != nil {
		return 0, err
	}

	added := 0
	for k := range newKeys {
		if _, ok := existing[k]; !ok {
			existing[k] = struct{}{}
			added++
		}
	}

	if err := write(path, existing); err != nil {
		return 0, err
	}

	metrics.RegistrySize.Set(float64(len(existing)))
	if added > 0 {
		logging.Info().
			Int("added", added).
			Int("total", len(existing)).
			Str("path", path).
			Msg("registry updated")
	}
	return len(existing), nil
}

func write(path string, keys map[string]struct{}) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create registry dir: %w", err)
		}
	}

	lines := sortedKeys(keys)
	var sb strings.Builder
	for _, k := range lines {
		sb.WriteString(k)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o640); err != nil {
		return fmt.Errorf("write registry %s: %w", path, err)
	}
	return nil
}

// Stats reports the registry's identity count and file size, for growth
// monitoring.
func Stats(path string) (count int, bytes int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, fmt.Errorf("stat registry: %w", err)
	}
	set, err := Load(path)
	if err != nil {
		return 0, 0, err
	}
	return len(set), info.Size(), nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
