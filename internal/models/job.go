package models

import "time"

// JobStatus is the lifecycle state of an IngestJob.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	// JobDuplicate marks a delivery that was acknowledged and discarded
	// because another job already covers the same document.
	JobDuplicate JobStatus = "duplicate"
)

// Terminal reports whether no further transitions happen from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobDuplicate
}

// IngestJob tracks one upload through the ingestion pipeline.
type IngestJob struct {
	JobID            string    `json:"job_id"`
	DocumentID       string    `json:"document_id"`
	Category         Category  `json:"category"`
	StorageReference string    `json:"storage_reference"`
	Status           JobStatus `json:"status"`
	AttemptCount     int       `json:"attempt_count"`
	LastError        string    `json:"last_error,omitempty"`
	DuplicateOf      string    `json:"duplicate_of,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	CompletedAt      time.Time `json:"completed_at,omitempty"`
}

// Message is the queue payload for one job.
type Message struct {
	JobID            string   `json:"job_id"`
	DocumentID       string   `json:"document_id"`
	Category         Category `json:"category"`
	StorageReference string   `json:"storage_reference"`
}

// MessageFor builds the queue message for a job.
func MessageFor(job IngestJob) Message {
	return Message{
		JobID:            job.JobID,
		DocumentID:       job.DocumentID,
		Category:         job.Category,
		StorageReference: job.StorageReference,
	}
}

// StaleClaimError is the reason recorded on an abandoned Processing job when
// jobID takes over its document.
func StaleClaimError(jobID string) string {
	return "abandoned while processing, superseded by job " + jobID
}

// ClaimResult is the outcome of trying to move a job to Processing.
type ClaimResult struct {
	// Claimed is true when the caller now owns the job.
	Claimed bool
	// CoveredBy names the job that makes this one a duplicate when not claimed.
	CoveredBy string
	// Job is the job as stored after the claim attempt.
	Job IngestJob
}
