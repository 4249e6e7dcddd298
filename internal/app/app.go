// Package app is the entry point the CLI drives: uploads, queries, job
// status and health, over whichever backends the configuration selects.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"docuflow/internal/config"
	"docuflow/internal/helper"
	"docuflow/internal/ingest"
	"docuflow/internal/models"
	"docuflow/internal/ports"
	"docuflow/internal/rag"
	"docuflow/internal/storage"
)

var pdfMagic = []byte("%PDF-")

// Deps are the backends an App runs on.
type Deps struct {
	Store      ports.ObjectStore
	Jobs       ports.JobStore
	Queue      ports.Queue
	Index      ports.VectorIndex
	Embedder   ports.Embedder
	Generator  ports.Generator
	Fragmenter ingest.Fragmenter
}

type App struct {
	deps   Deps
	rag    *rag.RAG
	worker *ingest.Worker
	pool   *ingest.Pool

	closers []func() error
}

// New assembles the pipelines over deps.
func New(cfg config.Config, deps Deps) *App {
	worker := ingest.NewWorker(deps.Jobs, deps.Store, deps.Fragmenter, deps.Embedder, deps.Index, cfg.RAG, cfg.Worker)
	return &App{
		deps: deps,
		rag: rag.NewRAG(
			rag.NewRetriever(deps.Embedder, deps.Index, cfg.RAG),
			rag.NewAnswerGenerator(deps.Generator),
		),
		worker: worker,
		pool:   ingest.NewPool(deps.Queue, worker, cfg.Worker.Workers),
	}
}

// Upload stores a PDF under a new document id and queues its ingestion.
func (a *App) Upload(ctx context.Context, data []byte, category models.Category) (models.IngestJob, error) {
	if !category.Valid() {
		return models.IngestJob{}, fmt.Errorf("unknown category %q: %w", category, models.ErrInvalidInput)
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return models.IngestJob{}, fmt.Errorf("only PDF files are accepted: %w", models.ErrInvalidInput)
	}

	documentID, err := helper.GenerateUUID()
	if err != nil {
		return models.IngestJob{}, err
	}
	jobID, err := helper.GenerateUUID()
	if err != nil {
		return models.IngestJob{}, err
	}
	job := models.IngestJob{
		JobID:            jobID,
		DocumentID:       documentID,
		Category:         category,
		StorageReference: storage.ObjectKey(documentID),
		Status:           models.JobQueued,
		CreatedAt:        time.Now().UTC(),
	}
	logger := log.With().Str("job_id", jobID).Str("document_id", documentID).Logger()

	if err := a.deps.Store.Put(ctx, job.StorageReference, data); err != nil {
		return models.IngestJob{}, fmt.Errorf("store upload: %w", err)
	}
	if err := a.deps.Jobs.Create(ctx, job); err != nil {
		return models.IngestJob{}, fmt.Errorf("create job: %w", err)
	}
	if err := a.deps.Queue.Enqueue(ctx, models.MessageFor(job)); err != nil {
		job.Status = models.JobFailed
		job.LastError = "enqueue: " + err.Error()
		if uerr := a.deps.Jobs.Update(context.WithoutCancel(ctx), job); uerr != nil {
			logger.Error().Err(uerr).Msg("Marking job failed")
		}
		return models.IngestJob{}, fmt.Errorf("enqueue job: %w", err)
	}

	logger.Info().Str("category", string(category)).Int("bytes", len(data)).Msg("Upload queued")
	return job, nil
}

// Query answers a question from the indexed documents.
func (a *App) Query(ctx context.Context, req models.QueryRequest) (models.Answer, error) {
	return a.rag.Query(ctx, req)
}

// Status returns the stored state of a job.
func (a *App) Status(ctx context.Context, jobID string) (models.IngestJob, error) {
	return a.deps.Jobs.Get(ctx, jobID)
}

// Document returns the uploaded bytes of a document.
func (a *App) Document(ctx context.Context, documentID string) ([]byte, error) {
	if !helper.IsUUID(documentID) {
		return nil, fmt.Errorf("bad document id %q: %w", documentID, models.ErrInvalidInput)
	}
	return a.deps.Store.Fetch(ctx, storage.ObjectKey(documentID))
}

// Health pings every backend that supports it and reports failures by name.
func (a *App) Health(ctx context.Context) map[string]error {
	named := map[string]any{
		"storage":      a.deps.Store,
		"jobs":         a.deps.Jobs,
		"queue":        a.deps.Queue,
		"vector_index": a.deps.Index,
	}
	out := make(map[string]error, len(named))
	for name, dep := range named {
		if p, ok := dep.(ports.Pinger); ok {
			out[name] = p.Ping(ctx)
		}
	}
	return out
}

// RunWorkers processes the queue until ctx is cancelled.
func (a *App) RunWorkers(ctx context.Context) error {
	return a.pool.Run(ctx)
}

// Drain processes queued jobs until the queue stays empty.
func (a *App) Drain(ctx context.Context) error {
	return a.pool.Drain(ctx)
}

// Close releases the backends opened by Build.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
