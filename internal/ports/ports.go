// Package ports declares the interfaces the pipelines depend on. Adapters
// live in their own packages; the ingest and rag packages only see these.
package ports

import (
	"context"

	"docuflow/internal/models"
)

// Embedder turns ordered text into same-length, same-order vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores chunk vectors and answers similarity queries.
//
// Insert is an upsert keyed by (document_id, ordinal). Query returns at most
// topK hits from the given categories (all when empty), by descending score,
// ties broken by document_id then ordinal.
type VectorIndex interface {
	Insert(ctx context.Context, v models.EmbeddingVector) error
	Query(ctx context.Context, vector []float32, topK int, categories []models.Category) ([]models.SearchHit, error)
	// Prune removes a document's entries with ordinal >= fromOrdinal.
	Prune(ctx context.Context, documentID string, fromOrdinal int) error
	// Count returns how many entries a document has.
	Count(ctx context.Context, documentID string) (int, error)
}

// Generator produces a completion for a system instruction and a user prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// ObjectStore holds uploaded document bytes.
type ObjectStore interface {
	// Fetch fails with models.ErrNotFound or models.ErrStorageUnavailable.
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Put(ctx context.Context, ref string, data []byte) error
}

// Delivery is one received queue message. Exactly one of Ack or Nack
// should be called; an unacknowledged delivery is redelivered later.
type Delivery interface {
	Message() models.Message
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

// Queue is an at-least-once job queue.
type Queue interface {
	Enqueue(ctx context.Context, msg models.Message) error
	// Receive waits for a message; it returns models.ErrReceiveTimeout when
	// its bound expires first.
	Receive(ctx context.Context) (Delivery, error)
}

// JobStore persists ingest job state.
type JobStore interface {
	Create(ctx context.Context, job models.IngestJob) error
	Get(ctx context.Context, jobID string) (models.IngestJob, error)
	// Claim atomically moves a job to Processing unless another job for the
	// same document is Processing or completed after this job was created.
	Claim(ctx context.Context, jobID string) (models.ClaimResult, error)
	Update(ctx context.Context, job models.IngestJob) error
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
