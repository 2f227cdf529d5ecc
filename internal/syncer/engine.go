// Package syncer keeps the interaction store consistent with the
// marketplace API. It is the only writer of the store.
package syncer

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dunamismax/jobsync/internal/domain"
	"github.com/dunamismax/jobsync/internal/gateway"
	"github.com/dunamismax/jobsync/internal/interaction"
	"github.com/dunamismax/jobsync/internal/store"
)

const tracerName = "github.com/dunamismax/jobsync/internal/syncer"

// maxCollectPages bounds a walk over every page of a remote collection.
const maxCollectPages = 500

type Config struct {
	UserID string
	// MaxConcurrentChecks bounds per-job enrichment fetches.
	MaxConcurrentChecks int
	Journal             store.Journal
	Metrics             *Metrics
	Logger              *log.Logger
	Now                 func() time.Time
}

// Listing is one page of a remote collection after it has been merged.
type Listing struct {
	Jobs       []domain.JobRef `json:"jobs"`
	Total      int             `json:"total"`
	TotalPages int             `json:"total_pages"`
}

// Engine reconciles fetched collections into the store and runs optimistic
// mutations. Store listeners must not call mutation methods synchronously.
type Engine struct {
	store      *interaction.Store
	gateway    gateway.RemoteJobGateway
	journal    store.Journal
	metrics    *Metrics
	logger     *log.Logger
	tracer     trace.Tracer
	userID     string
	checkLimit int
	now        func() time.Time

	// mu serializes the pending check-and-set that starts a mutation.
	mu sync.Mutex
}

func New(st *interaction.Store, gw gateway.RemoteJobGateway, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	journal := cfg.Journal
	if journal == nil {
		journal = store.NewMemoryJournal()
	}
	limit := cfg.MaxConcurrentChecks
	if limit < 1 {
		limit = 4
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Engine{
		store:      st,
		gateway:    gw,
		journal:    journal,
		metrics:    cfg.Metrics,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
		userID:     cfg.UserID,
		checkLimit: limit,
		now:        now,
	}
}

func (e *Engine) Store() *interaction.Store {
	return e.store
}

func (e *Engine) Journal() store.Journal {
	return e.journal
}

func (e *Engine) LoadSavedJobs(ctx context.Context, page, pageSize int) (Listing, error) {
	ctx, span := e.startSpan(ctx, "syncer.LoadSavedJobs")
	defer span.End()

	ticket := e.store.NextVersion()
	resp, err := e.gateway.ListSavedJobs(ctx, page, pageSize)
	e.metrics.fetch(CollectionSavedJobs, err)
	if err != nil {
		endSpan(span, err)
		return Listing{}, fmt.Errorf("load saved jobs: %w", err)
	}

	saved := domain.True
	for _, job := range resp.Jobs {
		e.merge(CollectionSavedJobs, job.ID, domain.Patch{Saved: &saved}, ticket)
	}
	span.SetAttributes(attribute.Int("jobs.count", len(resp.Jobs)))
	return Listing{Jobs: resp.Jobs, Total: resp.Total, TotalPages: pageCount(resp.Total, pageSize)}, nil
}

func (e *Engine) LoadApplications(ctx context.Context, page, pageSize int) (Listing, error) {
	ctx, span := e.startSpan(ctx, "syncer.LoadApplications")
	defer span.End()

	ticket := e.store.NextVersion()
	resp, err := e.gateway.ListMyApplications(ctx, page, pageSize)
	e.metrics.fetch(CollectionApplications, err)
	if err != nil {
		endSpan(span, err)
		return Listing{}, fmt.Errorf("load applications: %w", err)
	}

	applied := domain.True
	jobs := make([]domain.JobRef, 0, len(resp.Applications))
	for _, entry := range resp.Applications {
		app := entry.Application
		e.merge(CollectionApplications, entry.Job.ID, domain.Patch{Applied: &applied, Application: &app}, ticket)
		jobs = append(jobs, entry.Job)
	}
	span.SetAttributes(attribute.Int("jobs.count", len(jobs)))
	// The applications endpoint reports only a page count, so Total is left
	// zero. LoadAllApplications knows the real count.
	return Listing{Jobs: jobs, TotalPages: resp.TotalPages}, nil
}

// BrowseJobs lists postings. It writes nothing: browse results carry no
// interaction facts.
func (e *Engine) BrowseJobs(ctx context.Context, query domain.JobQuery) (Listing, error) {
	ctx, span := e.startSpan(ctx, "syncer.BrowseJobs")
	defer span.End()

	resp, err := e.gateway.ListJobs(ctx, query)
	e.metrics.fetch(CollectionJobs, err)
	if err != nil {
		endSpan(span, err)
		return Listing{}, fmt.Errorf("browse jobs: %w", err)
	}

	totalPages := resp.TotalPages
	if totalPages == 0 {
		totalPages = pageCount(resp.Total, query.PageSize)
	}
	return Listing{Jobs: resp.Jobs, Total: resp.Total, TotalPages: totalPages}, nil
}

// EnrichApplied checks the applied status of each job concurrently.
func (e *Engine) EnrichApplied(ctx context.Context, jobIDs []string) *Report {
	ctx, span := e.startSpan(ctx, "syncer.EnrichApplied", attribute.Int("jobs.count", len(jobIDs)))
	defer span.End()

	return e.fanOut(ctx, CollectionCheckApplied, jobIDs, func(ctx context.Context, jobID string) (domain.Patch, error) {
		resp, err := e.gateway.CheckApplied(ctx, jobID)
		if err != nil {
			return domain.Patch{}, err
		}
		return appliedPatch(resp), nil
	})
}

// EnrichSaved checks the saved status of each job concurrently.
func (e *Engine) EnrichSaved(ctx context.Context, jobIDs []string) *Report {
	ctx, span := e.startSpan(ctx, "syncer.EnrichSaved", attribute.Int("jobs.count", len(jobIDs)))
	defer span.End()

	return e.fanOut(ctx, CollectionCheckSaved, jobIDs, func(ctx context.Context, jobID string) (domain.Patch, error) {
		resp, err := e.gateway.CheckSaved(ctx, jobID)
		if err != nil {
			return domain.Patch{}, err
		}
		saved := domain.TristateOf(resp.IsSaved)
		return domain.Patch{Saved: &saved}, nil
	})
}

// ReconcileSavedView loads the saved listing and then resolves the applied
// status of every job on it.
func (e *Engine) ReconcileSavedView(ctx context.Context, page, pageSize int) (Listing, *Report, error) {
	listing, err := e.LoadSavedJobs(ctx, page, pageSize)
	if err != nil {
		return Listing{}, nil, err
	}
	report := e.EnrichApplied(ctx, jobIDs(listing.Jobs))
	report.ok()
	return listing, report, nil
}

// ReconcileApplicationsView loads the applications listing and then resolves
// the saved status of every job on it.
func (e *Engine) ReconcileApplicationsView(ctx context.Context, page, pageSize int) (Listing, *Report, error) {
	listing, err := e.LoadApplications(ctx, page, pageSize)
	if err != nil {
		return Listing{}, nil, err
	}
	report := e.EnrichSaved(ctx, jobIDs(listing.Jobs))
	report.ok()
	return listing, report, nil
}

// ReconcileAllSaved is ReconcileSavedView over every remote page.
func (e *Engine) ReconcileAllSaved(ctx context.Context, pageSize int) (Listing, *Report, error) {
	listing, err := e.LoadAllSavedJobs(ctx, pageSize)
	if err != nil {
		return Listing{}, nil, err
	}
	report := e.EnrichApplied(ctx, jobIDs(listing.Jobs))
	report.ok()
	return listing, report, nil
}

// ReconcileAllApplications is ReconcileApplicationsView over every remote
// page.
func (e *Engine) ReconcileAllApplications(ctx context.Context, pageSize int) (Listing, *Report, error) {
	listing, err := e.LoadAllApplications(ctx, pageSize)
	if err != nil {
		return Listing{}, nil, err
	}
	report := e.EnrichSaved(ctx, jobIDs(listing.Jobs))
	report.ok()
	return listing, report, nil
}

// LoadAllSavedJobs walks the saved listing until the reported total is
// reached. Pages merged before a failure stay merged.
func (e *Engine) LoadAllSavedJobs(ctx context.Context, pageSize int) (Listing, error) {
	return e.collect(ctx, pageSize, e.LoadSavedJobs)
}

// LoadAllApplications walks the applications listing until the reported
// page count is reached.
func (e *Engine) LoadAllApplications(ctx context.Context, pageSize int) (Listing, error) {
	return e.collect(ctx, pageSize, e.LoadApplications)
}

func (e *Engine) collect(ctx context.Context, pageSize int, load func(context.Context, int, int) (Listing, error)) (Listing, error) {
	var jobs []domain.JobRef
	seen := make(map[string]struct{})
	for page := 1; page <= maxCollectPages; page++ {
		listing, err := load(ctx, page, pageSize)
		if err != nil {
			return Listing{}, err
		}
		for _, job := range listing.Jobs {
			// Entries shift between pages when the collection changes mid-walk.
			if _, dup := seen[job.ID]; dup {
				continue
			}
			seen[job.ID] = struct{}{}
			jobs = append(jobs, job)
		}
		if len(listing.Jobs) == 0 || page >= listing.TotalPages {
			break
		}
	}
	return Listing{Jobs: jobs, Total: len(jobs), TotalPages: pageCount(len(jobs), pageSize)}, nil
}

// RefreshJob fetches a posting and both of its interaction facts in
// parallel. The facts are merged together under the version reserved before
// any request went out.
func (e *Engine) RefreshJob(ctx context.Context, jobID string) (domain.JobRef, *Report, error) {
	ctx, span := e.startSpan(ctx, "syncer.RefreshJob", attribute.String("job.id", jobID))
	defer span.End()

	ticket := e.store.NextVersion()
	report := &Report{}

	var (
		job        domain.JobRef
		jobErr     error
		savedResp  gateway.CheckSavedResponse
		savedErr   error
		appliedRsp gateway.CheckAppliedResponse
		appliedErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		job, jobErr = e.gateway.GetJob(ctx, jobID)
		e.metrics.fetch(CollectionJob, jobErr)
		return nil
	})
	g.Go(func() error {
		savedResp, savedErr = e.gateway.CheckSaved(ctx, jobID)
		e.metrics.fetch(CollectionCheckSaved, savedErr)
		return nil
	})
	g.Go(func() error {
		appliedRsp, appliedErr = e.gateway.CheckApplied(ctx, jobID)
		e.metrics.fetch(CollectionCheckApplied, appliedErr)
		return nil
	})
	_ = g.Wait()

	var patch domain.Patch
	if savedErr != nil {
		report.fail(CollectionCheckSaved, jobID, savedErr)
	} else {
		saved := domain.TristateOf(savedResp.IsSaved)
		patch.Saved = &saved
		report.ok()
	}
	if appliedErr != nil {
		report.fail(CollectionCheckApplied, jobID, appliedErr)
	} else {
		p := appliedPatch(appliedRsp)
		patch.Applied, patch.Application, patch.ClearApplication = p.Applied, p.Application, p.ClearApplication
		report.ok()
	}
	e.merge(CollectionJob, jobID, patch, ticket)

	if jobErr != nil {
		endSpan(span, jobErr)
		return domain.JobRef{}, report, fmt.Errorf("refresh job: %w", jobErr)
	}
	report.ok()
	return job, report, nil
}

func (e *Engine) fanOut(ctx context.Context, collection Collection, ids []string, fetch func(context.Context, string) (domain.Patch, error)) *Report {
	report := &Report{}

	var g errgroup.Group
	g.SetLimit(e.checkLimit)
	for _, jobID := range ids {
		g.Go(func() error {
			ticket := e.store.NextVersion()
			patch, err := fetch(ctx, jobID)
			e.metrics.fetch(collection, err)
			if err != nil {
				e.logger.Printf("enrichment failed collection=%s job_id=%s err=%v", collection, jobID, err)
				report.fail(collection, jobID, err)
				return nil
			}
			e.merge(collection, jobID, patch, ticket)
			report.ok()
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// merge writes a fetched patch. While a mutation is pending the field it
// governs belongs to the mutation and is left alone.
func (e *Engine) merge(collection Collection, jobID string, patch domain.Patch, ticket uint64) {
	if rec := e.store.Get(jobID); rec.Pending != nil {
		patch = patch.Without(rec.Pending.Kind.Field())
	}
	if patch.Empty() {
		return
	}
	if !e.store.Upsert(jobID, patch, ticket) {
		e.metrics.stale(collection)
	}
}

func appliedPatch(resp gateway.CheckAppliedResponse) domain.Patch {
	applied := domain.TristateOf(resp.HasApplied)
	patch := domain.Patch{Applied: &applied}
	switch {
	case !resp.HasApplied:
		patch.ClearApplication = true
	case resp.Application != nil:
		patch.Application = resp.Application.Clone()
	}
	return patch
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if e.userID != "" {
		attrs = append(attrs, attribute.String("user.id", e.userID))
	}
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func jobIDs(jobs []domain.JobRef) []string {
	out := make([]string, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.ID)
	}
	return out
}

func pageCount(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
