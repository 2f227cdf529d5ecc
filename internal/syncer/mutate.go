package syncer

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dunamismax/jobsync/internal/domain"
	"github.com/dunamismax/jobsync/internal/id"
	"github.com/dunamismax/jobsync/internal/store"
)

// remoteCall performs the server side of a mutation and returns the patch
// that reflects the server's answer.
type remoteCall func(ctx context.Context) (domain.Patch, error)

func (e *Engine) Save(ctx context.Context, jobID string) (domain.InteractionRecord, error) {
	return e.mutate(ctx, jobID, domain.MutationSave, func(ctx context.Context) (domain.Patch, error) {
		if _, err := e.gateway.Save(ctx, jobID); err != nil {
			return domain.Patch{}, err
		}
		return domain.Patch{Saved: domain.True.Ptr()}, nil
	})
}

func (e *Engine) Unsave(ctx context.Context, jobID string) (domain.InteractionRecord, error) {
	return e.mutate(ctx, jobID, domain.MutationUnsave, func(ctx context.Context) (domain.Patch, error) {
		if _, err := e.gateway.Unsave(ctx, jobID); err != nil {
			return domain.Patch{}, err
		}
		return domain.Patch{Saved: domain.False.Ptr()}, nil
	})
}

// Apply validates draft before touching the store; an invalid draft is a
// KindInvalid error and leaves the record as it was.
func (e *Engine) Apply(ctx context.Context, jobID string, draft domain.ApplicationDraft) (domain.InteractionRecord, error) {
	if err := draft.Validate(); err != nil {
		started := e.now()
		derr := domain.NewError(domain.KindInvalid, "apply", jobID, "application draft is invalid", err)
		rec := e.store.Get(jobID)
		e.finish(ctx, jobID, domain.MutationApply, id.New(), store.OutcomeInvalid, rec.Applied, rec.Applied, started, derr)
		return rec, derr
	}

	rec, err := e.mutate(ctx, jobID, domain.MutationApply, func(ctx context.Context) (domain.Patch, error) {
		resp, err := e.gateway.Apply(ctx, jobID, draft)
		if err != nil {
			return domain.Patch{}, err
		}
		patch := domain.Patch{Applied: domain.True.Ptr()}
		if resp.Application != nil {
			patch.Application = resp.Application.Clone()
		}
		return patch, nil
	})
	if err != nil || rec.Application != nil {
		return rec, err
	}

	// The server confirmed without returning the application; fetch it so
	// the detail view can show what was submitted.
	if report := e.EnrichApplied(context.WithoutCancel(ctx), []string{jobID}); !report.OK() {
		e.logger.Printf("application snapshot unavailable job_id=%s err=%v", jobID, report.Err())
	}
	return e.store.Get(jobID), nil
}

// Withdraw removes the application. The snapshot is cleared only once the
// server confirms.
func (e *Engine) Withdraw(ctx context.Context, jobID string) (domain.InteractionRecord, error) {
	return e.mutate(ctx, jobID, domain.MutationWithdraw, func(ctx context.Context) (domain.Patch, error) {
		if _, err := e.gateway.WithdrawApplication(ctx, jobID); err != nil {
			return domain.Patch{}, err
		}
		return domain.Patch{Applied: domain.False.Ptr(), ClearApplication: true}, nil
	})
}

// mutate runs the optimistic protocol: refuse if a mutation is already in
// flight, apply the optimistic value, call the server, then either confirm
// with the server's value or restore the prior value of the mutated field.
func (e *Engine) mutate(ctx context.Context, jobID string, kind domain.MutationKind, call remoteCall) (domain.InteractionRecord, error) {
	requestID := id.New()
	ctx, span := e.startSpan(ctx, "syncer."+string(kind),
		attribute.String("job.id", jobID),
		attribute.String("mutation.request_id", requestID),
	)
	defer span.End()

	field := kind.Field()
	started := e.now()

	e.mu.Lock()
	rec := e.store.Get(jobID)
	if rec.Pending != nil {
		e.mu.Unlock()
		err := domain.NewError(domain.KindConflict, string(kind), jobID,
			fmt.Sprintf("%s already in progress", rec.Pending.Kind), nil)
		endSpan(span, err)
		e.finish(ctx, jobID, kind, requestID, store.OutcomeConflict, rec.FieldValue(field), rec.FieldValue(field), started, err)
		return rec, err
	}

	prior := rec.FieldValue(field)
	optimistic := domain.Patch{
		Pending: &domain.PendingMutation{
			Kind:              kind,
			RequestID:         requestID,
			OptimisticApplied: true,
			Prior:             prior,
			StartedAt:         started,
		},
	}.WithField(field, kind.Optimistic())
	e.store.Upsert(jobID, optimistic, e.store.NextVersion())
	e.mu.Unlock()

	// Once issued a mutation runs to completion even if the caller goes away.
	confirmed, err := call(context.WithoutCancel(ctx))
	if err != nil {
		e.store.Upsert(jobID, domain.Patch{ClearPending: true}.WithField(field, prior), e.store.NextVersion())
		e.logger.Printf("mutation rolled back kind=%s job_id=%s request_id=%s err=%v", kind, jobID, requestID, err)
		endSpan(span, err)
		e.finish(ctx, jobID, kind, requestID, store.OutcomeRolledBack, prior, prior, started, err)
		return e.store.Get(jobID), err
	}

	confirmed.ClearPending = true
	e.store.Upsert(jobID, confirmed, e.store.NextVersion())
	after := e.store.Get(jobID)
	e.finish(ctx, jobID, kind, requestID, store.OutcomeSucceeded, prior, after.FieldValue(field), started, nil)
	return after, nil
}

func (e *Engine) finish(ctx context.Context, jobID string, kind domain.MutationKind, requestID string, outcome store.Outcome, prior, result domain.Tristate, started time.Time, err error) {
	finished := e.now()
	seconds := finished.Sub(started).Seconds()
	if outcome == store.OutcomeConflict || outcome == store.OutcomeInvalid {
		seconds = -1
	}
	e.metrics.mutation(string(kind), string(outcome), seconds)

	entry := store.JournalEntry{
		RequestID:  requestID,
		UserID:     e.userID,
		JobID:      jobID,
		Kind:       kind,
		Outcome:    outcome,
		ErrorKind:  domain.KindOf(err),
		Message:    domain.MessageOf(err),
		Prior:      prior,
		Result:     result,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if jerr := e.journal.Append(context.WithoutCancel(ctx), entry); jerr != nil {
		e.logger.Printf("journal append failed request_id=%s err=%v", requestID, jerr)
	}
}
