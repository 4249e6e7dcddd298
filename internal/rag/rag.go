// Package rag answers questions from the indexed documents: retrieval
// followed by grounded generation.
package rag

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"docuflow/internal/models"
)

type RAG struct {
	retriever *Retriever
	generator *AnswerGenerator
}

func NewRAG(retriever *Retriever, generator *AnswerGenerator) *RAG {
	return &RAG{retriever: retriever, generator: generator}
}

// Query validates req, retrieves context and generates the answer.
func (r *RAG) Query(ctx context.Context, req models.QueryRequest) (models.Answer, error) {
	if err := req.Validate(); err != nil {
		return models.Answer{}, err
	}

	start := time.Now()
	rc, err := r.retriever.Retrieve(ctx, req.Question, req.Categories)
	if err != nil {
		return models.Answer{}, err
	}
	answer, err := r.generator.Generate(ctx, req.Question, req.Categories, rc)
	if err != nil {
		return models.Answer{}, err
	}
	log.Info().Int("fragments", len(rc)).Strs("sources", answer.SourceDocumentIDs).
		Bool("grounded", answer.Grounded).Dur("took", time.Since(start)).Msg("Query answered")
	return answer, nil
}
