// Package db holds the Postgres backends: the pgvector index, the job store
// and the durable job queue, all through bun.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"docuflow/internal/config"
	"docuflow/internal/models"
)

// ConnectDB opens a pool with the configured driver: pgdriver (default) or
// lib/pq registered as "postgres".
func ConnectDB(cfg config.DBConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is empty: %w", models.ErrInvalidInput)
	}
	dsn := withSSLMode(cfg.URL)
	switch cfg.Driver {
	case "", "pgdriver":
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), nil
	case "postgres":
		return sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// withSSLMode disables TLS unless the DSN chooses a mode itself.
func withSSLMode(dsn string) string {
	if strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&sslmode=disable"
	}
	return dsn + "?sslmode=disable"
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// InitDB creates the extension, tables and indexes when missing.
func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	for _, model := range []any{(*chunkRow)(nil), (*jobRow)(nil), (*queueRow)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	indexes := []*bun.CreateIndexQuery{
		db.NewCreateIndex().Model((*chunkRow)(nil)).Index("chunks_category_idx").Column("category").IfNotExists(),
		db.NewCreateIndex().Model((*jobRow)(nil)).Index("ingest_jobs_document_idx").Column("document_id").IfNotExists(),
		// at most one processing job per document
		db.NewCreateIndex().Model((*jobRow)(nil)).Index("ingest_jobs_processing_uniq").Unique().
			Column("document_id").Where("status = ?", models.JobProcessing).IfNotExists(),
		db.NewCreateIndex().Model((*queueRow)(nil)).Index("ingest_queue_visible_idx").Column("visible_at").IfNotExists(),
	}
	for _, q := range indexes {
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// DropTables removes everything InitDB created except the extension.
func DropTables(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{(*chunkRow)(nil), (*jobRow)(nil), (*queueRow)(nil)} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// unavailable marks connection-level failures as retryable.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", models.ErrStorageUnavailable, op, err)
}
