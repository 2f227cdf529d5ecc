package store

import (
	"context"
	"sync"
)

type MemoryJournal struct {
	mu      sync.RWMutex
	entries []JournalEntry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(_ context.Context, entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

func (j *MemoryJournal) List(_ context.Context, userID, jobID string, limit int) ([]JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []JournalEntry
	for i := len(j.entries) - 1; i >= 0; i-- {
		e := j.entries[i]
		if e.UserID != userID || (jobID != "" && e.JobID != jobID) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
