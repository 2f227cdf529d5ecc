package syncer

import (
	"errors"
	"sync"
)

type Collection string

const (
	CollectionJobs         Collection = "jobs"
	CollectionJob          Collection = "job"
	CollectionSavedJobs    Collection = "saved_jobs"
	CollectionApplications Collection = "applications"
	CollectionCheckSaved   Collection = "check_saved"
	CollectionCheckApplied Collection = "check_applied"
)

type Failure struct {
	Collection Collection `json:"collection"`
	JobID      string     `json:"job_id,omitempty"`
	Err        error      `json:"-"`
}

// Report describes a reconciliation that may have partly failed. Work that
// succeeded stays merged regardless of failures.
type Report struct {
	mu        sync.Mutex
	Succeeded int
	Failures  []Failure
}

func (r *Report) ok() {
	r.mu.Lock()
	r.Succeeded++
	r.mu.Unlock()
}

func (r *Report) fail(collection Collection, jobID string, err error) {
	r.mu.Lock()
	r.Failures = append(r.Failures, Failure{Collection: collection, JobID: jobID, Err: err})
	r.mu.Unlock()
}

func (r *Report) merge(other *Report) {
	if other == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Succeeded += other.Succeeded
	r.Failures = append(r.Failures, other.Failures...)
}

func (r *Report) OK() bool {
	return r == nil || len(r.Failures) == 0
}

// Err joins every failure, or returns nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}
