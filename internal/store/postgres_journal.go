package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dunamismax/jobsync/internal/domain"
	_ "github.com/lib/pq"
)

const journalSchemaSQL = `
CREATE TABLE IF NOT EXISTS mutation_journal (
	seq BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	prior SMALLINT NOT NULL,
	result SMALLINT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS mutation_journal_user_job_idx ON mutation_journal (user_id, job_id, seq DESC);
`

type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(ctx context.Context, dsn string) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	journal := &PostgresJournal{db: db}
	if err := journal.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return journal, nil
}

func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, journalSchemaSQL); err != nil {
		return fmt.Errorf("ensure mutation_journal schema: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Close() error {
	return j.db.Close()
}

func (j *PostgresJournal) Append(ctx context.Context, e JournalEntry) error {
	_, err := j.db.ExecContext(
		ctx,
		`INSERT INTO mutation_journal
		 (request_id, user_id, job_id, kind, outcome, error_kind, message, prior, result, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.RequestID,
		e.UserID,
		e.JobID,
		string(e.Kind),
		string(e.Outcome),
		string(e.ErrorKind),
		e.Message,
		int16(e.Prior),
		int16(e.Result),
		e.StartedAt,
		e.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

func (j *PostgresJournal) List(ctx context.Context, userID, jobID string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.db.QueryContext(
		ctx,
		`SELECT request_id, user_id, job_id, kind, outcome, error_kind, message, prior, result, started_at, finished_at
		 FROM mutation_journal
		 WHERE user_id = $1 AND ($2 = '' OR job_id = $2)
		 ORDER BY seq DESC
		 LIMIT $3`,
		userID,
		jobID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			e                      JournalEntry
			kind, outcome, errKind string
			prior, result          int16
		)
		if err := rows.Scan(
			&e.RequestID,
			&e.UserID,
			&e.JobID,
			&kind,
			&outcome,
			&errKind,
			&e.Message,
			&prior,
			&result,
			&e.StartedAt,
			&e.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Kind = domain.MutationKind(kind)
		e.Outcome = Outcome(outcome)
		e.ErrorKind = domain.ErrorKind(errKind)
		e.Prior = domain.Tristate(prior)
		e.Result = domain.Tristate(result)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}
