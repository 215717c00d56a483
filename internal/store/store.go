// Package store defines the activity journal sinks for the engine.
// Implementations include PostgreSQL (durable export), Redis (recent-entry
// cache and pub/sub fan-out), and in-memory (for testing and the default
// server mode).
//
// The journal is export-only: the engine appends to it after every
// settled mutation and never reads it back to rebuild state.
package store

import (
	"context"

	"github.com/aptpay/defi-engine/internal/model"
)

// Filter narrows a journal listing. Zero fields match everything; a zero
// Limit returns all matching entries.
type Filter struct {
	Kind   string
	Symbol string
	Limit  int
}

// Matches reports whether e passes the kind and symbol filters.
func (f Filter) Matches(e model.JournalEntry) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Symbol != "" && e.Symbol != f.Symbol {
		return false
	}
	return true
}

// Journal is the append-only activity log.
type Journal interface {
	// Append records an immutable entry.
	Append(ctx context.Context, entry model.JournalEntry) error

	// List returns matching entries, newest first.
	List(ctx context.Context, filter Filter) ([]model.JournalEntry, error)
}
