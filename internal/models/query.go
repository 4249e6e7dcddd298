package models

import (
	"fmt"
	"strings"
)

// QueryRequest is a question scoped to a set of categories.
// An empty Categories set searches everything.
type QueryRequest struct {
	Question   string     `json:"question"`
	Categories []Category `json:"categories_to_search"`
}

// Validate checks the request before any provider is called.
func (q QueryRequest) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("question is empty: %w", ErrInvalidInput)
	}
	for _, c := range q.Categories {
		if !c.Valid() {
			return fmt.Errorf("unknown category %q: %w", c, ErrInvalidInput)
		}
	}
	return nil
}

// Has reports whether c is explicitly requested.
func (q QueryRequest) Has(c Category) bool {
	for _, k := range q.Categories {
		if k == c {
			return true
		}
	}
	return false
}

// SearchHit is one entry returned by the vector index.
type SearchHit struct {
	DocumentID string   `json:"document_id"`
	Ordinal    int      `json:"ordinal"`
	Category   Category `json:"category"`
	Text       string   `json:"text"`
	Page       int      `json:"page"`
	Score      float32  `json:"score"`
}

// Key returns the chunk key of the hit.
func (h SearchHit) Key() ChunkKey {
	return ChunkKey{DocumentID: h.DocumentID, Ordinal: h.Ordinal}
}

// RetrievedContext is the ranked, de-duplicated context for one question.
type RetrievedContext []SearchHit

// DocumentIDs returns distinct document ids in first-seen order.
func (rc RetrievedContext) DocumentIDs() []string {
	ids := make([]string, 0, len(rc))
	seen := make(map[string]bool, len(rc))
	for _, h := range rc {
		if seen[h.DocumentID] {
			continue
		}
		seen[h.DocumentID] = true
		ids = append(ids, h.DocumentID)
	}
	return ids
}

// Answer is the grounded response to a query. It is never persisted.
type Answer struct {
	Text              string   `json:"answer"`
	SourceDocumentIDs []string `json:"source_files"`
	// Grounded is false when no context was available and the model was not asked.
	Grounded bool `json:"grounded"`
}
