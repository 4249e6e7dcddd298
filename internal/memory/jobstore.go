// Package memory holds process-local job store and queue implementations,
// used by single-process deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docuflow/internal/models"
)

// JobStore implements ports.JobStore in memory.
type JobStore struct {
	mu         sync.Mutex
	jobs       map[string]models.IngestJob
	staleAfter time.Duration
	now        func() time.Time
}

// NewJobStore returns an empty store. A Processing job not updated for
// staleAfter counts as abandoned and can be claimed again.
func NewJobStore(staleAfter time.Duration) *JobStore {
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	return &JobStore{
		jobs:       make(map[string]models.IngestJob),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

func (s *JobStore) Create(_ context.Context, job models.IngestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.JobID]; ok {
		return fmt.Errorf("job %s already exists: %w", job.JobID, models.ErrInvalidInput)
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobQueued
	}
	s.jobs[job.JobID] = job
	return nil
}

func (s *JobStore) Get(_ context.Context, jobID string) (models.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return models.IngestJob{}, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	return job, nil
}

func (s *JobStore) Update(_ context.Context, job models.IngestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.JobID]; !ok {
		return fmt.Errorf("job %s: %w", job.JobID, models.ErrNotFound)
	}
	job.UpdatedAt = s.now()
	s.jobs[job.JobID] = job
	return nil
}

func (s *JobStore) Claim(_ context.Context, jobID string) (models.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return models.ClaimResult{}, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	now := s.now()

	switch {
	case job.Status.Terminal():
		return models.ClaimResult{CoveredBy: job.DuplicateOf, Job: job}, nil
	case job.Status == models.JobProcessing && now.Sub(job.UpdatedAt) < s.staleAfter:
		return models.ClaimResult{CoveredBy: job.JobID, Job: job}, nil
	}

	for _, other := range s.jobs {
		if other.JobID == job.JobID || other.DocumentID != job.DocumentID {
			continue
		}
		active := other.Status == models.JobProcessing && now.Sub(other.UpdatedAt) < s.staleAfter
		newer := other.Status == models.JobCompleted && other.CompletedAt.After(job.CreatedAt)
		if active || newer {
			job.Status = models.JobDuplicate
			job.DuplicateOf = other.JobID
			job.UpdatedAt = now
			job.CompletedAt = now
			s.jobs[jobID] = job
			return models.ClaimResult{CoveredBy: other.JobID, Job: job}, nil
		}
	}

	for id, other := range s.jobs {
		if id != jobID && other.DocumentID == job.DocumentID && other.Status == models.JobProcessing {
			other.Status = models.JobFailed
			other.LastError = models.StaleClaimError(jobID)
			other.UpdatedAt = now
			other.CompletedAt = now
			s.jobs[id] = other
		}
	}

	job.Status = models.JobProcessing
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return models.ClaimResult{Claimed: true, Job: job}, nil
}

// Len returns the number of stored jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
