package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"docuflow/internal/config"
	"docuflow/internal/models"
	"docuflow/internal/ports"
)

// Retriever finds the chunks most similar to a question.
type Retriever struct {
	embedder ports.Embedder
	index    ports.VectorIndex
	topK     int
	minScore float32
}

// NewRetriever reads top_k and min_score from cfg. A min_score of zero or
// below keeps every hit.
func NewRetriever(embedder ports.Embedder, index ports.VectorIndex, cfg config.RAGConfig) *Retriever {
	r := &Retriever{embedder: embedder, index: index, topK: cfg.TopK, minScore: cfg.MinScore}
	if r.topK <= 0 {
		r.topK = config.DefaultTopK
	}
	return r
}

// Retrieve embeds the question and returns at most top_k hits from the
// given categories, best first. No match is an empty context, not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string, categories []models.Category) (models.RetrievedContext, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is empty: %w", models.ErrQueryFailed, models.ErrInvalidInput)
	}

	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: embed question: %w", models.ErrQueryFailed, err)
	}
	hits, err := r.index.Query(ctx, vector, r.topK, categories)
	if err != nil {
		return nil, fmt.Errorf("%w: search index: %w", models.ErrQueryFailed, err)
	}

	rc := make(models.RetrievedContext, 0, len(hits))
	seen := make(map[models.ChunkKey]bool, len(hits))
	for _, h := range hits {
		if r.minScore > 0 && h.Score < r.minScore {
			continue
		}
		if seen[h.Key()] {
			continue
		}
		seen[h.Key()] = true
		rc = append(rc, h)
	}

	log.Debug().Int("hits", len(hits)).Int("kept", len(rc)).Interface("categories", categories).Msg("Retrieved context")
	return rc, nil
}
