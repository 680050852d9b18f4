// Relaybridge - Nostr Relay Harvesting and Replication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/relaybridge

package harvest

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// Blocklist is a set of domains whose identities are excluded from harvest.
type Blocklist map[string]struct{}

// LoadBlocklist reads domains from the first column of a CSV file. A header
// row is tolerated: rows are kept verbatim, so a literal "domain" header
// only blocks the (invalid) domain "domain". The file must exist; running
// without a blocklist is a configuration error, not a fallback.
func LoadBlocklist(path string) (Blocklist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blocklist: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse blocklist %s: %w", path, err)
	}

	bl := make(Blocklist, len(records))
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		domain := strings.TrimSpace(strings.ToLower(rec[0]))
		if domain == "" {
			continue
		}
		bl[domain] = struct{}{}
	}
	return bl, nil
}

// Blocked reports whether a normalized domain is on the list.
func (b Blocklist) Blocked(domain string) bool {
	_, ok := b[strings.ToLower(domain)]
	return ok
}

// BlockedIdentifier checks a raw user@domain identifier, applying the
// dash-to-dot domain normalization before lookup.
func (b Blocklist) BlockedIdentifier(identifier string) bool {
	domain, ok := ExtractDomain(identifier)
	if !ok {
		return false
	}
	return b.Blocked(domain)
}
