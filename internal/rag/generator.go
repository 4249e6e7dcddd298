package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docuflow/internal/models"
	"docuflow/internal/ports"
)

// AnswerGenerator turns retrieved context into a cited answer.
type AnswerGenerator struct {
	llm ports.Generator
}

func NewAnswerGenerator(llm ports.Generator) *AnswerGenerator {
	return &AnswerGenerator{llm: llm}
}

// Generate asks the model to answer from rc only. With an empty context the
// model is not called and the fixed no-context answer is returned.
func (g *AnswerGenerator) Generate(ctx context.Context, question string, categories []models.Category, rc models.RetrievedContext) (models.Answer, error) {
	if len(rc) == 0 {
		return models.Answer{Text: models.NoContextAnswer, SourceDocumentIDs: []string{}}, nil
	}

	text, err := g.llm.Generate(ctx, SystemPrompt(categories), BuildPrompt(question, rc))
	if err != nil {
		if !errors.Is(err, models.ErrGenerationFailed) {
			err = fmt.Errorf("%w: %w", models.ErrGenerationFailed, err)
		}
		return models.Answer{}, err
	}
	if strings.TrimSpace(text) == "" {
		return models.Answer{}, fmt.Errorf("%w: empty completion", models.ErrGenerationFailed)
	}
	return models.Answer{Text: text, SourceDocumentIDs: rc.DocumentIDs(), Grounded: true}, nil
}

// SystemPrompt picks the instruction for the searched categories: the
// contract prompt wins over the medical one, anything else is generic.
func SystemPrompt(categories []models.Category) string {
	req := models.QueryRequest{Categories: categories}
	switch {
	case req.Has(models.CategoryContract):
		return models.ContractPrompt
	case req.Has(models.CategoryMedical):
		return models.MedicalPrompt
	default:
		return models.GenericPrompt
	}
}

// BuildPrompt labels every fragment with its source so the answer can cite it.
func BuildPrompt(question string, rc models.RetrievedContext) string {
	parts := make([]string, len(rc))
	for i, h := range rc {
		parts[i] = fmt.Sprintf("[%s #%d]\n%s", h.DocumentID, h.Ordinal, h.Text)
	}
	return fmt.Sprintf(models.ContextPromptTemplate, strings.Join(parts, models.ContextSeparator), question)
}
