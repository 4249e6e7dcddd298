package db

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"docuflow/internal/models"
)

type chunkRow struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	DocumentID string          `bun:"document_id,pk"`
	Ordinal    int             `bun:"ordinal,pk"`
	Category   string          `bun:"category,notnull"`
	Content    string          `bun:"content,notnull"`
	Page       int             `bun:"page,notnull"`
	SpanStart  int             `bun:"span_start,notnull"`
	SpanEnd    int             `bun:"span_end,notnull"`
	Embedding  pgvector.Vector `bun:"embedding,notnull,type:vector"`
}

type hitRow struct {
	DocumentID string  `bun:"document_id"`
	Ordinal    int     `bun:"ordinal"`
	Category   string  `bun:"category"`
	Content    string  `bun:"content"`
	Page       int     `bun:"page"`
	Score      float64 `bun:"score"`
}

// VectorIndex implements ports.VectorIndex on a pgvector column.
type VectorIndex struct {
	db   *bun.DB
	dims int
}

// NewVectorIndex returns an index whose vectors must have dims entries.
func NewVectorIndex(db *bun.DB, dims int) *VectorIndex {
	return &VectorIndex{db: db, dims: dims}
}

func (x *VectorIndex) checkDims(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: empty vector", models.ErrInvalidInput)
	}
	if x.dims > 0 && n != x.dims {
		return fmt.Errorf("%w: got %d, index has %d", models.ErrDimensionMismatch, n, x.dims)
	}
	return nil
}

func (x *VectorIndex) insertQuery(v models.EmbeddingVector) *bun.InsertQuery {
	row := &chunkRow{
		DocumentID: v.Key.DocumentID,
		Ordinal:    v.Key.Ordinal,
		Category:   string(v.Category),
		Content:    v.Text,
		Page:       v.Page,
		SpanStart:  v.Span.Start,
		SpanEnd:    v.Span.End,
		Embedding:  pgvector.NewVector(v.Vector),
	}
	return x.db.NewInsert().Model(row).
		On("CONFLICT (document_id, ordinal) DO UPDATE").
		Set("category = EXCLUDED.category").
		Set("content = EXCLUDED.content").
		Set("page = EXCLUDED.page").
		Set("span_start = EXCLUDED.span_start").
		Set("span_end = EXCLUDED.span_end").
		Set("embedding = EXCLUDED.embedding")
}

func (x *VectorIndex) Insert(ctx context.Context, v models.EmbeddingVector) error {
	if err := x.checkDims(len(v.Vector)); err != nil {
		return err
	}
	if _, err := x.insertQuery(v).Exec(ctx); err != nil {
		return unavailable("insert chunk", err)
	}
	return nil
}

func (x *VectorIndex) searchQuery(vector []float32, topK int, categories []models.Category) *bun.SelectQuery {
	v := pgvector.NewVector(vector)
	q := x.db.NewSelect().
		Model((*chunkRow)(nil)).
		Column("document_id", "ordinal", "category", "content", "page").
		ColumnExpr("1 - (embedding <=> ?) AS score", v).
		OrderExpr("embedding <=> ? ASC", v).
		OrderExpr("document_id ASC").
		OrderExpr("ordinal ASC").
		Limit(topK)
	if len(categories) > 0 {
		names := make([]string, len(categories))
		for i, c := range categories {
			names[i] = string(c)
		}
		q = q.Where("category IN (?)", bun.In(names))
	}
	return q
}

func (x *VectorIndex) Query(ctx context.Context, vector []float32, topK int, categories []models.Category) ([]models.SearchHit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", models.ErrInvalidInput)
	}
	if err := x.checkDims(len(vector)); err != nil {
		return nil, err
	}

	var rows []hitRow
	if err := x.searchQuery(vector, topK, categories).Scan(ctx, &rows); err != nil {
		return nil, unavailable("search chunks", err)
	}
	hits := make([]models.SearchHit, len(rows))
	for i, r := range rows {
		hits[i] = models.SearchHit{
			DocumentID: r.DocumentID,
			Ordinal:    r.Ordinal,
			Category:   models.Category(r.Category),
			Text:       r.Content,
			Page:       r.Page,
			Score:      float32(r.Score),
		}
	}
	return hits, nil
}

func (x *VectorIndex) Prune(ctx context.Context, documentID string, fromOrdinal int) error {
	_, err := x.db.NewDelete().Model((*chunkRow)(nil)).
		Where("document_id = ?", documentID).
		Where("ordinal >= ?", fromOrdinal).
		Exec(ctx)
	return unavailable("prune chunks", err)
}

func (x *VectorIndex) Count(ctx context.Context, documentID string) (int, error) {
	n, err := x.db.NewSelect().Model((*chunkRow)(nil)).Where("document_id = ?", documentID).Count(ctx)
	if err != nil {
		return 0, unavailable("count chunks", err)
	}
	return n, nil
}

func (x *VectorIndex) Ping(ctx context.Context) error {
	return x.db.PingContext(ctx)
}
