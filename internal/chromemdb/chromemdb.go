// Package chromemdb is the embedded vector index backed by chromem-go.
package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"docuflow/internal/config"
	"docuflow/internal/models"
)

// metadata keys stored next to every vector
const (
	metaDocumentID = "document_id"
	metaOrdinal    = "ordinal"
	metaCategory   = "category"
	metaPage       = "page"
	metaSpanStart  = "span_start"
	metaSpanEnd    = "span_end"
)

var errNoEmbeddingFunc = errors.New("chromemdb: vectors must be supplied by the caller")

// VectorDBManager implements ports.VectorIndex over one chromem collection.
type VectorDBManager struct {
	db         *chromem.DB
	collection *chromem.Collection
	dbPath     string

	mu  sync.Mutex
	dim int
}

// NewVectorDBManager opens the database and the configured collection.
func NewVectorDBManager(cfg config.VectorStoreConfig) (*VectorDBManager, error) {
	var db *chromem.DB
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{db: db, dbPath: cfg.Path, dim: max(cfg.Dimensions, 0)}
	if _, err := m.GetOrCreateCollection(cfg.Collection); err != nil {
		return nil, err
	}
	log.Info().Str("collection", cfg.Collection).Bool("in_memory", cfg.InMemory).
		Int("documents", m.collection.Count()).Int("dimensions", m.dim).Msg("Vector index ready")
	return m, nil
}

// GetOrCreateCollection selects the collection the manager works on.
func (m *VectorDBManager) GetOrCreateCollection(name string) (*chromem.Collection, error) {
	embed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbeddingFunc }
	c, err := m.db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

func documentKey(documentID string, ordinal int) string {
	return models.ChunkKey{DocumentID: documentID, Ordinal: ordinal}.String()
}

// pin fixes the index dimension on first use, unless configured, and
// rejects any other size.
func (m *VectorDBManager) pin(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dim == 0 {
		m.dim = n
	}
	if n != m.dim {
		return fmt.Errorf("%w: got %d, index has %d", models.ErrDimensionMismatch, n, m.dim)
	}
	return nil
}

// Insert upserts one vector keyed by (document_id, ordinal).
func (m *VectorDBManager) Insert(ctx context.Context, v models.EmbeddingVector) error {
	if len(v.Vector) == 0 {
		return fmt.Errorf("%w: empty vector for %s", models.ErrInvalidInput, v.Key)
	}
	if err := m.pin(len(v.Vector)); err != nil {
		return err
	}

	doc := chromem.Document{
		ID:      documentKey(v.Key.DocumentID, v.Key.Ordinal),
		Content: v.Text,
		Metadata: map[string]string{
			metaDocumentID: v.Key.DocumentID,
			metaOrdinal:    strconv.Itoa(v.Key.Ordinal),
			metaCategory:   string(v.Category),
			metaPage:       strconv.Itoa(v.Page),
			metaSpanStart:  strconv.Itoa(v.Span.Start),
			metaSpanEnd:    strconv.Itoa(v.Span.End),
		},
		// the caller keeps ownership of v.Vector
		Embedding: append([]float32(nil), v.Vector...),
	}
	if err := m.collection.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}
	return nil
}

// Query runs one search per requested category and merges the results.
func (m *VectorDBManager) Query(ctx context.Context, vector []float32, topK int, categories []models.Category) ([]models.SearchHit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", models.ErrInvalidInput)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", models.ErrInvalidInput)
	}
	if m.collection.Count() == 0 {
		return nil, nil
	}
	if err := m.pin(len(vector)); err != nil {
		return nil, err
	}

	var filters []map[string]string
	if len(categories) == 0 {
		filters = append(filters, nil)
	}
	seen := make(map[models.Category]bool, len(categories))
	for _, c := range categories {
		if seen[c] {
			continue
		}
		seen[c] = true
		filters = append(filters, map[string]string{metaCategory: string(c)})
	}

	// chromem picks its top n concurrently, so equal scores at the cutoff
	// come back in any order. Rank every match here instead.
	var hits []models.SearchHit
	for _, where := range filters {
		total := m.collection.Count()
		if total == 0 {
			break
		}
		results, err := m.collection.QueryEmbedding(ctx, vector, total, where, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to query by similarity: %w", err)
		}
		for _, r := range results {
			hit, err := toHit(r)
			if err != nil {
				return nil, err
			}
			hits = append(hits, hit)
		}
	}

	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func toHit(r chromem.Result) (models.SearchHit, error) {
	ordinal, err := strconv.Atoi(r.Metadata[metaOrdinal])
	if err != nil {
		return models.SearchHit{}, fmt.Errorf("entry %s has bad ordinal: %w", r.ID, err)
	}
	page, _ := strconv.Atoi(r.Metadata[metaPage])
	return models.SearchHit{
		DocumentID: r.Metadata[metaDocumentID],
		Ordinal:    ordinal,
		Category:   models.Category(r.Metadata[metaCategory]),
		Text:       r.Content,
		Page:       page,
		Score:      r.Similarity,
	}, nil
}

// sortHits orders by descending score, then document_id, then ordinal.
func sortHits(hits []models.SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.Ordinal < b.Ordinal
	})
}

// Prune deletes the entries of documentID from fromOrdinal on. Ordinals are
// contiguous, so the walk stops at the first missing one.
func (m *VectorDBManager) Prune(ctx context.Context, documentID string, fromOrdinal int) error {
	var ids []string
	for ord := fromOrdinal; ; ord++ {
		id := documentKey(documentID, ord)
		if _, err := m.collection.GetByID(ctx, id); err != nil {
			break
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := m.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to prune %s: %w", documentID, err)
	}
	log.Debug().Str("document_id", documentID).Int("from", fromOrdinal).Int("removed", len(ids)).Msg("Pruned stale chunks")
	return nil
}

// Count returns the number of stored chunks of documentID.
func (m *VectorDBManager) Count(ctx context.Context, documentID string) (int, error) {
	n := 0
	for {
		if _, err := m.collection.GetByID(ctx, documentKey(documentID, n)); err != nil {
			return n, nil
		}
		n++
	}
}

// Size returns the number of entries in the collection.
func (m *VectorDBManager) Size() int {
	return m.collection.Count()
}
