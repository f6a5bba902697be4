package forwarder

import (
	"sync"

	"github.com/chengyuegong/Computer-Networks/overlay"
)

// tableEntry is one forwarding-table row: a prefix and the link its traffic
// should egress on.
type tableEntry struct {
	prefix overlay.Prefix
	link   int
}

// Table is the Forwarder's longest-prefix-match forwarding table.
// It is mutated by the Router (AddRoute, on the router goroutine) and read
// by the Forwarder's main loop (Lookup); both operations take the same
// mutex so they are mutually exclusive.
type Table struct {
	mu      sync.RWMutex
	entries []tableEntry
}

// NewTable creates a forwarding table seeded with the default route
// (0.0.0.0/0 → link 0), which a forwarder always keeps present.
func NewTable() *Table {
	return &Table{
		entries: []tableEntry{{prefix: overlay.DefaultPrefix, link: 0}},
	}
}

// AddRoute installs prefix → link. If an entry for the exact same prefix
// already exists, its link is replaced in place (preserving insertion
// order for tie-breaking); otherwise a new entry is appended.
func (t *Table) AddRoute(prefix overlay.Prefix, link int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].prefix == prefix {
			t.entries[i].link = link
			return
		}
	}
	t.entries = append(t.entries, tableEntry{prefix: prefix, link: link})
}

// Lookup returns the link of the longest-matching prefix for ip. Ties
// between equal-length matching prefixes are broken by first insertion
// (the default route is always entry 0, so it is the natural fallback).
// Returns -1 only if the table has somehow been emptied of matching
// entries, which cannot happen while the default route remains installed.
func (t *Table) Lookup(ip uint32) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bestLink := -1
	bestLen := -1
	for _, e := range t.entries {
		if !e.prefix.Matches(ip) {
			continue
		}
		if e.prefix.Length > bestLen {
			bestLen = e.prefix.Length
			bestLink = e.link
		}
	}
	return bestLink
}

// Snapshot returns a copy of the table's entries for debug printing/export.
// The returned slice is safe to read without holding any lock.
func (t *Table) Snapshot() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, len(t.entries))
	for i, e := range t.entries {
		out[i] = Route{Prefix: e.prefix, Link: e.link}
	}
	return out
}

// Route is a read-only view of one forwarding-table row, used for
// debug/export purposes only.
type Route struct {
	Prefix overlay.Prefix
	Link   int
}
