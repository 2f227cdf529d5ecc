// Package gateway is the boundary to the marketplace REST API. Everything
// that crosses it is normalized into domain types.
package gateway

import (
	"context"

	"github.com/dunamismax/jobsync/internal/domain"
)

// RemoteJobGateway is the marketplace API as the sync engine consumes it.
// Implementations report failures as *domain.Error values; a response body
// with success=false is a KindRejected error, never a zero response.
type RemoteJobGateway interface {
	ListJobs(ctx context.Context, query domain.JobQuery) (JobsResponse, error)
	GetJob(ctx context.Context, jobID string) (domain.JobRef, error)
	ListSavedJobs(ctx context.Context, page, pageSize int) (SavedJobsResponse, error)
	ListMyApplications(ctx context.Context, page, pageSize int) (ApplicationsResponse, error)
	CheckSaved(ctx context.Context, jobID string) (CheckSavedResponse, error)
	CheckApplied(ctx context.Context, jobID string) (CheckAppliedResponse, error)
	Save(ctx context.Context, jobID string) (SaveResponse, error)
	Unsave(ctx context.Context, jobID string) (MutationResponse, error)
	Apply(ctx context.Context, jobID string, draft domain.ApplicationDraft) (ApplyResponse, error)
	WithdrawApplication(ctx context.Context, jobID string) (MutationResponse, error)
}

type JobsResponse struct {
	Jobs       []domain.JobRef
	Total      int
	TotalPages int
}

type SavedJobsResponse struct {
	Jobs  []domain.JobRef
	Total int
}

type ApplicationEntry struct {
	Job         domain.JobRef
	Application domain.ApplicationSnapshot
}

type ApplicationsResponse struct {
	Applications []ApplicationEntry
	TotalPages   int
}

type CheckSavedResponse struct {
	IsSaved bool
}

type CheckAppliedResponse struct {
	HasApplied  bool
	Application *domain.ApplicationSnapshot
}

type SaveResponse struct {
	Success      bool
	AlreadySaved bool
}

type ApplyResponse struct {
	Success        bool
	AlreadyApplied bool
	Application    *domain.ApplicationSnapshot
}

type MutationResponse struct {
	Success bool
	Message string
}
