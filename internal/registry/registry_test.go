// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	keys, err := Load(filepath.Join(t.TempDir(), "absent.txt"))
	if err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected empty set, got %d keys", len(keys))
	}
}

func TestMergeCreatesAndUnions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.txt")

	total, err := Merge(path, map[string]struct{}{"bbb": {}, "aaa": {}})
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 keys after first merge, got %d", total)
	}

	total, err = Merge(path, map[string]struct{}{"bbb": {}, "ccc": {}})
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 keys after union, got %d", total)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read registry: %v", err)
	}
	want := "aaa\nbbb\nccc\n"
	if string(data) != want {
		t.Fatalf("registry contents = %q, want %q", string(data), want)
	}
}

func TestMergeSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.txt")
	if err := os.WriteFile(path, []byte("aaa\n\n  \nbbb\n"), 0o640); err != nil {
		t.Fatalf("seed registry: %v", err)
	}

	keys, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
}

func TestMustLoadRequiresFile(t *testing.T) {
	if _, err := MustLoad(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatal("expected error for missing registry")
	}

	path := filepath.Join(t.TempDir(), "registry.txt")
	if err := os.WriteFile(path, []byte("key2\nkey1\n"), 0o640); err != nil {
		t.Fatalf("seed registry: %v", err)
	}
	keys, err := MustLoad(path)
	if err != nil {
		t.Fatalf("MustLoad: %v", err)
	}
	if len(keys) != 2 || keys[0] != "key1" || keys[1] != "key2" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
