package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/aptpay/defi-engine/internal/model"
)

// MemoryJournal implements Journal with an in-memory slice. Used for
// testing and development. Entries are lost on restart.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []model.JournalEntry
	seen    map[string]struct{}
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{seen: make(map[string]struct{})}
}

func (j *MemoryJournal) Append(_ context.Context, e model.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, dup := j.seen[e.ID]; dup {
		return fmt.Errorf("journal entry %s already exists", e.ID)
	}
	j.seen[e.ID] = struct{}{}
	j.entries = append(j.entries, e)
	return nil
}

func (j *MemoryJournal) List(_ context.Context, f Filter) ([]model.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]model.JournalEntry, 0)
	for i := len(j.entries) - 1; i >= 0; i-- {
		if !f.Matches(j.entries[i]) {
			continue
		}
		out = append(out, j.entries[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of entries recorded.
func (j *MemoryJournal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}
