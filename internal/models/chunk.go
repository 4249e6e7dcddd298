package models

import "fmt"

// Span is a half-open [Start, End) range of character (rune) offsets into
// the extracted document text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of characters covered.
func (s Span) Len() int { return s.End - s.Start }

// Chunk is one ordered, citation-bearing window of a document.
// Span is the part of the text the chunk owns; spans of consecutive chunks
// tile the document. Text is what gets embedded: Span plus the preceding
// overlap context.
type Chunk struct {
	DocumentID string   `json:"document_id"`
	Category   Category `json:"category"`
	Ordinal    int      `json:"ordinal"`
	Text       string   `json:"text"`
	Span       Span     `json:"span"`
	Page       int      `json:"page"`
}

// Key returns the chunk key.
func (c Chunk) Key() ChunkKey {
	return ChunkKey{DocumentID: c.DocumentID, Ordinal: c.Ordinal}
}

// ChunkKey identifies one index entry.
type ChunkKey struct {
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%s:%d", k.DocumentID, k.Ordinal)
}

// EmbeddingVector is one vector index entry.
type EmbeddingVector struct {
	Key      ChunkKey  `json:"chunk_key"`
	Vector   []float32 `json:"vector"`
	Category Category  `json:"category"`
	Text     string    `json:"text"`
	Span     Span      `json:"span"`
	Page     int       `json:"page"`
}

// NewEmbeddingVector pairs a chunk with its vector.
func NewEmbeddingVector(c Chunk, vector []float32) EmbeddingVector {
	return EmbeddingVector{
		Key:      c.Key(),
		Vector:   vector,
		Category: c.Category,
		Text:     c.Text,
		Span:     c.Span,
		Page:     c.Page,
	}
}
