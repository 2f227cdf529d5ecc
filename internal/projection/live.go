package projection

import (
	"sync"

	"github.com/dunamismax/jobsync/internal/domain"
	"github.com/dunamismax/jobsync/internal/interaction"
)

// LiveView keeps a projection current. It re-projects when a record of one of
// its jobs changes and whenever its filters or collection are replaced.
// After Close it ignores the store.
type LiveView struct {
	mu          sync.Mutex
	store       *interaction.Store
	jobs        []domain.JobRef
	members     map[string]struct{}
	filters     Filters
	current     *Projection
	onChange    func(*Projection)
	unsubscribe func()
	closed      bool
}

// NewLiveView projects immediately and subscribes to store. onChange may be
// nil; it runs on the goroutine that triggered the change.
func NewLiveView(store *interaction.Store, jobs []domain.JobRef, filters Filters, onChange func(*Projection)) *LiveView {
	v := &LiveView{
		store:    store,
		filters:  filters,
		onChange: onChange,
	}
	v.setJobsLocked(jobs)
	v.current = Project(v.jobs, store, filters)
	v.unsubscribe = store.Subscribe(v.handle)
	return v
}

func (v *LiveView) Projection() *Projection {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

func (v *LiveView) SetFilters(filters Filters) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.filters = filters
	p := v.reprojectLocked()
	v.mu.Unlock()
	v.notify(p)
}

// SetJobs replaces the collection, for example after the next page of a
// listing was fetched.
func (v *LiveView) SetJobs(jobs []domain.JobRef) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.setJobsLocked(jobs)
	p := v.reprojectLocked()
	v.mu.Unlock()
	v.notify(p)
}

// Close unsubscribes from the store. It is safe to call more than once.
func (v *LiveView) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	v.unsubscribe()
}

func (v *LiveView) handle(rec domain.InteractionRecord) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	if _, ok := v.members[rec.JobID]; !ok {
		v.mu.Unlock()
		return
	}
	p := v.reprojectLocked()
	v.mu.Unlock()
	v.notify(p)
}

func (v *LiveView) setJobsLocked(jobs []domain.JobRef) {
	v.jobs = append([]domain.JobRef(nil), jobs...)
	v.members = make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		v.members[job.ID] = struct{}{}
	}
}

func (v *LiveView) reprojectLocked() *Projection {
	v.current = Project(v.jobs, v.store, v.filters)
	return v.current
}

func (v *LiveView) notify(p *Projection) {
	if v.onChange != nil {
		v.onChange(p)
	}
}
