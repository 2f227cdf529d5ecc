// Package store keeps the append-only journal of optimistic mutation
// outcomes.
package store

import (
	"context"
	"time"

	"github.com/dunamismax/jobsync/internal/domain"
)

type Outcome string

const (
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeConflict   Outcome = "conflict"
	OutcomeInvalid    Outcome = "invalid"
)

type JournalEntry struct {
	RequestID  string              `json:"request_id"`
	UserID     string              `json:"user_id"`
	JobID      string              `json:"job_id"`
	Kind       domain.MutationKind `json:"kind"`
	Outcome    Outcome             `json:"outcome"`
	ErrorKind  domain.ErrorKind    `json:"error_kind,omitempty"`
	Message    string              `json:"message,omitempty"`
	Prior      domain.Tristate     `json:"prior"`
	Result     domain.Tristate     `json:"result"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

type Journal interface {
	Append(ctx context.Context, entry JournalEntry) error
	// List returns the newest entries first. An empty jobID matches every job.
	List(ctx context.Context, userID, jobID string, limit int) ([]JournalEntry, error)
}
