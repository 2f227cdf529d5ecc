// Package interaction holds the per-session cache of saved/applied facts.
package interaction

import (
	"sort"
	"sync"

	"github.com/dunamismax/jobsync/internal/domain"
)

// Listener is called after every applied upsert with the updated record.
type Listener func(domain.InteractionRecord)

// Reader is the read side of the store that views depend on.
type Reader interface {
	Get(jobID string) domain.InteractionRecord
}

// Store maps job ids to interaction records. A record only accepts updates
// carrying a version greater than the one it holds, so responses that arrive
// out of order cannot regress newer state.
type Store struct {
	mu        sync.RWMutex
	records   map[string]domain.InteractionRecord
	clock     uint64
	listeners map[uint64]Listener
	nextSubID uint64
}

func NewStore() *Store {
	return &Store{
		records:   make(map[string]domain.InteractionRecord),
		listeners: make(map[uint64]Listener),
	}
}

// NextVersion reserves a version strictly greater than any version the store
// has handed out or accepted.
func (s *Store) NextVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock++
	return s.clock
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock
}

// Upsert merges patch into the record for jobID when version is newer than
// the stored version. It reports whether the merge applied.
func (s *Store) Upsert(jobID string, patch domain.Patch, version uint64) bool {
	s.mu.Lock()
	rec, ok := s.records[jobID]
	if !ok {
		rec = domain.NewInteractionRecord(jobID)
	}
	if version <= rec.Version {
		s.mu.Unlock()
		return false
	}

	merge(&rec, patch)
	rec.Version = version
	s.records[jobID] = rec
	if version > s.clock {
		s.clock = version
	}

	listeners := s.listenersLocked()
	out := rec.Clone()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(out.Clone())
	}
	return true
}

// Get returns a copy of the record for jobID, or an unknown record at
// version 0 if the job has not been seen.
func (s *Store) Get(jobID string) domain.InteractionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[jobID]
	if !ok {
		return domain.NewInteractionRecord(jobID)
	}
	return rec.Clone()
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is a no-op.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns copies of every record ordered by job id.
func (s *Store) Snapshot() []domain.InteractionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.InteractionRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// listenersLocked returns listeners in subscription order.
func (s *Store) listenersLocked() []Listener {
	if len(s.listeners) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}

func merge(rec *domain.InteractionRecord, p domain.Patch) {
	if p.Saved != nil {
		rec.Saved = *p.Saved
	}
	if p.Applied != nil {
		rec.Applied = *p.Applied
	}
	if p.ClearApplication {
		rec.Application = nil
	}
	if p.Application != nil {
		rec.Application = p.Application.Clone()
	}
	if p.ClearPending {
		rec.Pending = nil
	}
	if p.Pending != nil {
		pending := *p.Pending
		rec.Pending = &pending
	}
}
