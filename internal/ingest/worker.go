// Package ingest turns queued uploads into indexed chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"docuflow/internal/config"
	"docuflow/internal/models"
	"docuflow/internal/parser"
	"docuflow/internal/ports"
	"docuflow/internal/retry"
)

// Fragmenter splits a PDF payload into chunks.
type Fragmenter interface {
	Fragment(ctx context.Context, documentID string, category models.Category, data []byte) (*parser.Document, error)
}

// Worker runs the ingestion state machine for one delivery at a time:
// Queued -> Processing -> Completed | Failed, or Duplicate when another job
// already covers the document.
type Worker struct {
	jobs       ports.JobStore
	store      ports.ObjectStore
	fragmenter Fragmenter
	embedder   ports.Embedder
	index      ports.VectorIndex

	batchSize  int
	jobTimeout time.Duration
	jobRetry   retry.Policy
	fetchRetry retry.Policy
}

// NewWorker wires the collaborators. Embedding batch size and storage retry
// come from the RAG section, job timeout and job retry from the worker one.
func NewWorker(
	jobs ports.JobStore,
	store ports.ObjectStore,
	fragmenter Fragmenter,
	embedder ports.Embedder,
	index ports.VectorIndex,
	rag config.RAGConfig,
	cfg config.WorkerConfig,
) *Worker {
	w := &Worker{
		jobs:       jobs,
		store:      store,
		fragmenter: fragmenter,
		embedder:   embedder,
		index:      index,
		batchSize:  rag.BatchSize,
		jobTimeout: cfg.JobTimeout,
		jobRetry:   policy(cfg.Retry),
		fetchRetry: policy(rag.Retry),
	}
	if w.batchSize <= 0 {
		w.batchSize = config.DefaultBatchSize
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = time.Hour
	}
	return w
}

func policy(c config.RetryConfig) retry.Policy {
	return retry.Policy{MaxAttempts: c.MaxAttempts, BaseDelay: c.BaseDelay, MaxDelay: c.MaxDelay}
}

// Handle processes one delivery and settles it. It returns an error only
// when the delivery was left for redelivery.
func (w *Worker) Handle(ctx context.Context, d ports.Delivery) error {
	msg := d.Message()
	logger := log.With().Str("job_id", msg.JobID).Str("document_id", msg.DocumentID).Logger()

	claim, err := w.jobs.Claim(ctx, msg.JobID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		logger.Warn().Msg("Message for unknown job, dropped")
		return d.Ack(ctx)
	case err != nil:
		logger.Error().Err(err).Msg("Claim failed")
		return errors.Join(err, d.Nack(context.WithoutCancel(ctx)))
	case !claim.Claimed:
		logger.Info().Str("status", string(claim.Job.Status)).Str("covered_by", claim.CoveredBy).
			Msg("Job already covered, delivery acknowledged")
		return d.Ack(ctx)
	}

	job := claim.Job
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	start := time.Now()
	chunks, err := w.run(jobCtx, &job, logger)

	// keep settling the job even when ctx was cancelled by shutdown
	settleCtx := context.WithoutCancel(ctx)
	if ctx.Err() != nil {
		logger.Warn().Err(ctx.Err()).Msg("Shutting down, job returned to queue")
		job.Status = models.JobQueued
		return errors.Join(ctx.Err(), w.jobs.Update(settleCtx, job), d.Nack(settleCtx))
	}

	job.CompletedAt = time.Now().UTC()
	if err != nil {
		job.Status = models.JobFailed
		job.LastError = err.Error()
		logger.Error().Err(err).Int("attempts", job.AttemptCount).Msg("Ingestion failed")
	} else {
		job.Status = models.JobCompleted
		job.LastError = ""
		logger.Info().Int("chunks", chunks).Int("attempts", job.AttemptCount).Dur("took", time.Since(start)).Msg("Ingestion completed")
	}
	if err := w.jobs.Update(settleCtx, job); err != nil {
		logger.Error().Err(err).Msg("Saving job state failed, leaving message for redelivery")
		return errors.Join(err, d.Nack(settleCtx))
	}
	return d.Ack(settleCtx)
}

// run retries transient failures at job level, persisting every attempt.
func (w *Worker) run(ctx context.Context, job *models.IngestJob, logger zerolog.Logger) (int, error) {
	b := retry.New(w.jobRetry)
	var err error
	for b.Next() {
		job.AttemptCount++
		job.Status = models.JobProcessing
		if uerr := w.jobs.Update(ctx, *job); uerr != nil {
			logger.Warn().Err(uerr).Msg("Persisting attempt failed")
		}

		var chunks int
		chunks, err = w.ingest(ctx, *job, logger)
		if err == nil {
			return chunks, nil
		}
		if !models.IsTransient(err) || b.Exhausted() || ctx.Err() != nil {
			break
		}
		logger.Warn().Err(err).Int("attempt", job.AttemptCount).Dur("backoff", b.Delay()).Msg("Transient failure, retrying job")
		if werr := b.Wait(ctx); werr != nil {
			break
		}
	}
	return 0, err
}

// ingest runs one attempt: fetch, fragment, embed, insert, prune.
func (w *Worker) ingest(ctx context.Context, job models.IngestJob, logger zerolog.Logger) (int, error) {
	data, err := w.fetch(ctx, job.StorageReference, logger)
	if err != nil {
		return 0, err
	}

	doc, err := w.fragmenter.Fragment(ctx, job.DocumentID, job.Category, data)
	if err != nil {
		return 0, err
	}
	for _, warning := range doc.Warnings {
		logger.Warn().Msg(warning)
	}

	n, err := w.indexChunks(ctx, doc)
	if err != nil {
		return 0, err
	}
	if err := w.index.Prune(ctx, job.DocumentID, n); err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return n, nil
}

// fetch retries ErrStorageUnavailable; anything else is returned as is.
func (w *Worker) fetch(ctx context.Context, ref string, logger zerolog.Logger) ([]byte, error) {
	b := retry.New(w.fetchRetry)
	var err error
	for b.Next() {
		var data []byte
		data, err = w.store.Fetch(ctx, ref)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, models.ErrStorageUnavailable) || b.Exhausted() {
			break
		}
		logger.Warn().Err(err).Int("attempt", b.Attempt()).Msg("Fetch failed, retrying")
		if werr := b.Wait(ctx); werr != nil {
			return nil, werr
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", ref, err)
}

type embeddedBatch struct {
	chunks  []models.Chunk
	vectors [][]float32
}

// indexChunks embeds batch k+1 while batch k is written. Writes happen in
// ordinal order on a single goroutine. It returns the number of chunks.
func (w *Worker) indexChunks(ctx context.Context, doc *parser.Document) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan embeddedBatch, 1)

	g.Go(func() error {
		defer close(batches)
		var batch []models.Chunk
		flush := func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			vectors, err := w.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", batch[0].Ordinal, batch[len(batch)-1].Ordinal, err)
			}
			select {
			case batches <- embeddedBatch{chunks: batch, vectors: vectors}:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		for c := range doc.Chunks() {
			batch = append(batch, c)
			if len(batch) == w.batchSize {
				if err := flush(); err != nil {
					return err
				}
				batch = nil
			}
		}
		if len(batch) > 0 {
			return flush()
		}
		return nil
	})

	written := 0
	g.Go(func() error {
		for b := range batches {
			if len(b.vectors) != len(b.chunks) {
				return fmt.Errorf("%w: %d vectors for %d chunks", models.ErrFatalProvider, len(b.vectors), len(b.chunks))
			}
			for i, c := range b.chunks {
				if err := w.index.Insert(gctx, models.NewEmbeddingVector(c, b.vectors[i])); err != nil {
					return fmt.Errorf("insert chunk %d: %w", c.Ordinal, err)
				}
				written++
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return written, nil
}
