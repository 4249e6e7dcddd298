package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"docuflow/internal/chromemdb"
	"docuflow/internal/config"
	"docuflow/internal/db"
	"docuflow/internal/embedding"
	"docuflow/internal/helper"
	"docuflow/internal/llmservice"
	"docuflow/internal/memory"
	"docuflow/internal/parser"
	"docuflow/internal/ports"
	"docuflow/internal/storage"
)

// Build opens the configured backends and assembles an App.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	var (
		deps    Deps
		closers []func() error
		bunDB   *bun.DB
	)
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	if needsPostgres(cfg) {
		sqldb, err := db.ConnectDB(cfg.Database)
		if err != nil {
			return fail(fmt.Errorf("connect database: %w", err))
		}
		bunDB = db.NewDB(sqldb, cfg.Database.Debug)
		closers = append(closers, bunDB.Close)
		if err := db.InitDB(ctx, bunDB); err != nil {
			return fail(fmt.Errorf("init database: %w", err))
		}
	}

	deps.Store = storage.New(cfg.Storage)

	switch cfg.VectorStore.Type {
	case "pgvector":
		deps.Index = db.NewVectorIndex(bunDB, cfg.VectorStore.Dimensions)
	case "chromem":
		if !cfg.VectorStore.InMemory {
			if err := helper.CreateFolder(cfg.VectorStore.Path); err != nil {
				return fail(err)
			}
		}
		index, err := chromemdb.NewVectorDBManager(cfg.VectorStore)
		if err != nil {
			return fail(err)
		}
		deps.Index = index
	default:
		return fail(fmt.Errorf("unknown vector store %q", cfg.VectorStore.Type))
	}

	switch cfg.Worker.JobStore {
	case "postgres":
		deps.Jobs = db.NewJobStore(bunDB, cfg.Worker.JobTimeout)
	case "memory":
		deps.Jobs = memory.NewJobStore(cfg.Worker.JobTimeout)
	default:
		return fail(fmt.Errorf("unknown job store %q", cfg.Worker.JobStore))
	}

	switch cfg.Queue.Type {
	case "postgres":
		deps.Queue = db.NewQueue(bunDB, cfg.Queue.ReceiveTimeout, cfg.Queue.VisibilityTimeout)
	case "memory":
		q := memory.NewQueue(cfg.Queue.Capacity, cfg.Queue.ReceiveTimeout, cfg.Queue.VisibilityTimeout)
		closers = append(closers, func() error { q.Close(); return nil })
		deps.Queue = q
	default:
		return fail(fmt.Errorf("unknown queue %q", cfg.Queue.Type))
	}

	provider, err := embedding.NewProvider(cfg.EmbedLLM)
	if err != nil {
		return fail(err)
	}
	deps.Embedder = embedding.New(provider, cfg.EmbedLLM, cfg.RAG)

	model, err := llmservice.NewModel(cfg.InferenceLLM)
	if err != nil {
		return fail(err)
	}
	deps.Generator = llmservice.New(model, cfg.InferenceLLM)

	deps.Fragmenter = parser.New(parser.OptionsFrom(cfg.RAG), newOCR(cfg.OCR))

	a := New(cfg, deps)
	a.closers = closers
	log.Info().
		Str("vector_store", cfg.VectorStore.Type).
		Str("queue", cfg.Queue.Type).
		Str("job_store", cfg.Worker.JobStore).
		Str("storage", cfg.Storage.BaseURL).
		Msg("Application ready")
	return a, nil
}

func needsPostgres(cfg config.Config) bool {
	return cfg.VectorStore.Type == "pgvector" || cfg.Queue.Type == "postgres" || cfg.Worker.JobStore == "postgres"
}

// newOCR returns nil when OCR is off or its binaries are missing; scanned
// pages are then skipped with a warning.
func newOCR(cfg config.OCRConfig) parser.OCR {
	if !cfg.Enabled {
		return nil
	}
	if err := parser.CheckOCRAvailable(); err != nil {
		log.Warn().Err(err).Msg("OCR disabled")
		return nil
	}
	return parser.NewTesseractOCR(cfg)
}

var _ ports.VectorIndex = (*chromemdb.VectorDBManager)(nil)
var _ ports.VectorIndex = (*db.VectorIndex)(nil)
var _ ports.JobStore = (*db.JobStore)(nil)
var _ ports.JobStore = (*memory.JobStore)(nil)
var _ ports.Queue = (*db.Queue)(nil)
var _ ports.Queue = (*memory.Queue)(nil)
var _ ports.ObjectStore = (*storage.Store)(nil)
var _ ports.Embedder = (*embedding.Adapter)(nil)
var _ ports.Generator = (*llmservice.Client)(nil)
