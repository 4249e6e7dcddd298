package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"docuflow/internal/models"
)

type jobRow struct {
	bun.BaseModel `bun:"table:ingest_jobs,alias:j"`

	JobID            string       `bun:"job_id,pk"`
	DocumentID       string       `bun:"document_id,notnull"`
	Category         string       `bun:"category,notnull"`
	StorageReference string       `bun:"storage_reference,notnull"`
	Status           string       `bun:"status,notnull"`
	AttemptCount     int          `bun:"attempt_count,notnull"`
	LastError        string       `bun:"last_error,nullzero"`
	DuplicateOf      string       `bun:"duplicate_of,nullzero"`
	CreatedAt        time.Time    `bun:"created_at,notnull"`
	UpdatedAt        time.Time    `bun:"updated_at,notnull"`
	CompletedAt      bun.NullTime `bun:"completed_at"`
}

func toJobRow(j models.IngestJob) *jobRow {
	row := &jobRow{
		JobID:            j.JobID,
		DocumentID:       j.DocumentID,
		Category:         string(j.Category),
		StorageReference: j.StorageReference,
		Status:           string(j.Status),
		AttemptCount:     j.AttemptCount,
		LastError:        j.LastError,
		DuplicateOf:      j.DuplicateOf,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
	}
	if !j.CompletedAt.IsZero() {
		row.CompletedAt = bun.NullTime{Time: j.CompletedAt}
	}
	return row
}

func (r *jobRow) job() models.IngestJob {
	return models.IngestJob{
		JobID:            r.JobID,
		DocumentID:       r.DocumentID,
		Category:         models.Category(r.Category),
		StorageReference: r.StorageReference,
		Status:           models.JobStatus(r.Status),
		AttemptCount:     r.AttemptCount,
		LastError:        r.LastError,
		DuplicateOf:      r.DuplicateOf,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		CompletedAt:      r.CompletedAt.Time,
	}
}

// JobStore implements ports.JobStore on the ingest_jobs table.
type JobStore struct {
	db         *bun.DB
	staleAfter time.Duration
}

// NewJobStore returns a store where a Processing job not updated for
// staleAfter can be claimed again.
func NewJobStore(db *bun.DB, staleAfter time.Duration) *JobStore {
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	return &JobStore{db: db, staleAfter: staleAfter}
}

func (s *JobStore) Create(ctx context.Context, job models.IngestJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobQueued
	}
	if _, err := s.db.NewInsert().Model(toJobRow(job)).Exec(ctx); err != nil {
		return unavailable("create job", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, jobID string) (models.IngestJob, error) {
	return s.get(ctx, s.db, jobID, false)
}

func (s *JobStore) get(ctx context.Context, db bun.IDB, jobID string, lock bool) (models.IngestJob, error) {
	row := new(jobRow)
	q := db.NewSelect().Model(row).Where("job_id = ?", jobID)
	if lock {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.IngestJob{}, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
		}
		return models.IngestJob{}, unavailable("get job", err)
	}
	return row.job(), nil
}

func (s *JobStore) Update(ctx context.Context, job models.IngestJob) error {
	return s.update(ctx, s.db, job)
}

func (s *JobStore) update(ctx context.Context, db bun.IDB, job models.IngestJob) error {
	job.UpdatedAt = time.Now().UTC()
	res, err := db.NewUpdate().Model(toJobRow(job)).WherePK().ExcludeColumn("created_at").Exec(ctx)
	if err != nil {
		return unavailable("update job", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", job.JobID, models.ErrNotFound)
	}
	return nil
}

// coveringJobQuery finds a job that makes job a duplicate: another one for
// the same document that is actively processing, or that completed after job
// was created.
func coveringJobQuery(db bun.IDB, job models.IngestJob, activeSince time.Time) *bun.SelectQuery {
	return db.NewSelect().Model((*jobRow)(nil)).
		Column("job_id").
		Where("document_id = ?", job.DocumentID).
		Where("job_id <> ?", job.JobID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("status = ? AND updated_at > ?", models.JobProcessing, activeSince).
				WhereOr("status = ? AND completed_at > ?", models.JobCompleted, job.CreatedAt)
		}).
		OrderExpr("updated_at DESC").
		Limit(1)
}

// releaseStaleQuery fails every other Processing job of the document. Claim
// runs it once no live job covers the document, so only stale claims match.
func releaseStaleQuery(db bun.IDB, job models.IngestJob, now time.Time) *bun.UpdateQuery {
	return db.NewUpdate().Model((*jobRow)(nil)).
		Set("status = ?", models.JobFailed).
		Set("last_error = ?", models.StaleClaimError(job.JobID)).
		Set("completed_at = ?", now).
		Set("updated_at = ?", now).
		Where("document_id = ?", job.DocumentID).
		Where("job_id <> ?", job.JobID).
		Where("status = ?", models.JobProcessing)
}

// Claim serialises claims per document with a transaction-scoped advisory
// lock; the partial unique index backs it up.
func (s *JobStore) Claim(ctx context.Context, jobID string) (models.ClaimResult, error) {
	var res models.ClaimResult
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		job, err := s.get(ctx, tx, jobID, true)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", job.DocumentID); err != nil {
			return unavailable("lock document", err)
		}

		now := time.Now().UTC()
		activeSince := now.Add(-s.staleAfter)
		switch {
		case job.Status.Terminal():
			res = models.ClaimResult{CoveredBy: job.DuplicateOf, Job: job}
			return nil
		case job.Status == models.JobProcessing && job.UpdatedAt.After(activeSince):
			res = models.ClaimResult{CoveredBy: job.JobID, Job: job}
			return nil
		}

		var covering string
		err = coveringJobQuery(tx, job, activeSince).Scan(ctx, &covering)
		switch {
		case err == nil:
			job.Status = models.JobDuplicate
			job.DuplicateOf = covering
			job.CompletedAt = now
			if err := s.update(ctx, tx, job); err != nil {
				return err
			}
			res = models.ClaimResult{CoveredBy: covering, Job: job}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return unavailable("find covering job", err)
		}

		if _, err := releaseStaleQuery(tx, job, now).Exec(ctx); err != nil {
			return unavailable("release stale claims", err)
		}
		job.Status = models.JobProcessing
		if err := s.update(ctx, tx, job); err != nil {
			return err
		}
		job.UpdatedAt = now
		res = models.ClaimResult{Claimed: true, Job: job}
		return nil
	})
	return res, err
}

func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
