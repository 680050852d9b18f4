// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

package harvest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBlocklist(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blocklist.csv")
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("write blocklist: %v", err)
	}
	return path
}

func TestLoadBlocklist(t *testing.T) {
	path := writeBlocklist(t, "bad.example,spam\nWORSE.example\n\nother.example,notes,extra\n")

	bl, err := LoadBlocklist(path)
	if err != nil {
		t.Fatalf("LoadBlocklist: %v", err)
	}
	if len(bl) != 3 {
		t.Fatalf("expected 3 domains, got %d", len(bl))
	}
	for _, domain := range []string{"bad.example", "worse.example", "other.example"} {
		if !bl.Blocked(domain) {
			t.Errorf("expected %s blocked", domain)
		}
	}
	if bl.Blocked("fine.example") {
		t.Error("unexpected block for fine.example")
	}
}

func TestLoadBlocklistMissingFile(t *testing.T) {
	if _, err := LoadBlocklist(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Fatal("expected error for missing blocklist")
	}
}

func TestBlockedIdentifier(t *testing.T) {
	bl := Blocklist{"bad.example": {}}

	if !bl.BlockedIdentifier("user@bad-example") {
		t.Error("expected dash-normalized identifier to be blocked")
	}
	if bl.BlockedIdentifier("user@good.example") {
		t.Error("unexpected block for good.example")
	}
	if bl.BlockedIdentifier("no-domain") {
		t.Error("identifier without domain must not be blocked")
	}
}
