package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"docuflow/internal/models"
	"docuflow/internal/ports"
)

type queueRow struct {
	bun.BaseModel `bun:"table:ingest_queue,alias:q"`

	ID               int64     `bun:"id,pk,autoincrement"`
	JobID            string    `bun:"job_id,notnull"`
	DocumentID       string    `bun:"document_id,notnull"`
	Category         string    `bun:"category,notnull"`
	StorageReference string    `bun:"storage_reference,notnull"`
	Deliveries       int       `bun:"deliveries,notnull"`
	VisibleAt        time.Time `bun:"visible_at,notnull"`
	EnqueuedAt       time.Time `bun:"enqueued_at,notnull"`
}

const pollInterval = 250 * time.Millisecond

// Queue is an at-least-once queue on the ingest_queue table. Receiving a
// row hides it for the visibility timeout; a row that is neither acked nor
// nacked by then becomes visible again.
type Queue struct {
	db             *bun.DB
	receiveTimeout time.Duration
	visibility     time.Duration
}

func NewQueue(db *bun.DB, receiveTimeout, visibility time.Duration) *Queue {
	if receiveTimeout <= 0 {
		receiveTimeout = 5 * time.Second
	}
	if visibility <= 0 {
		visibility = time.Hour
	}
	return &Queue{db: db, receiveTimeout: receiveTimeout, visibility: visibility}
}

func (q *Queue) Enqueue(ctx context.Context, msg models.Message) error {
	now := time.Now().UTC()
	row := &queueRow{
		JobID:            msg.JobID,
		DocumentID:       msg.DocumentID,
		Category:         string(msg.Category),
		StorageReference: msg.StorageReference,
		VisibleAt:        now,
		EnqueuedAt:       now,
	}
	_, err := q.db.NewInsert().Model(row).Exec(ctx)
	return unavailable("enqueue", err)
}

// leaseQuery takes the oldest visible row, skipping rows locked by
// concurrent receivers.
func (q *Queue) leaseQuery(row *queueRow, now time.Time) *bun.UpdateQuery {
	next := q.db.NewSelect().Model((*queueRow)(nil)).
		Column("id").
		Where("visible_at <= ?", now).
		OrderExpr("id ASC").
		Limit(1).
		For("UPDATE SKIP LOCKED")
	return q.db.NewUpdate().Model(row).
		Set("visible_at = ?", now.Add(q.visibility)).
		Set("deliveries = deliveries + 1").
		Where("id = (?)", next).
		Returning("*")
}

func (q *Queue) Receive(ctx context.Context) (ports.Delivery, error) {
	deadline := time.Now().Add(q.receiveTimeout)
	for {
		row := new(queueRow)
		err := q.leaseQuery(row, time.Now().UTC()).Scan(ctx)
		if err == nil {
			return &pgDelivery{q: q, row: row}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, unavailable("receive", err)
		}

		wait := min(pollInterval, time.Until(deadline))
		if wait <= 0 {
			return nil, models.ErrReceiveTimeout
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// pgDelivery settles only its own lease: a row received again after the
// visibility timeout has a higher delivery count.
type pgDelivery struct {
	q   *Queue
	row *queueRow
}

func (d *pgDelivery) Message() models.Message {
	return models.Message{
		JobID:            d.row.JobID,
		DocumentID:       d.row.DocumentID,
		Category:         models.Category(d.row.Category),
		StorageReference: d.row.StorageReference,
	}
}

func (d *pgDelivery) Ack(ctx context.Context) error {
	_, err := d.q.db.NewDelete().Model((*queueRow)(nil)).
		Where("id = ?", d.row.ID).
		Where("deliveries = ?", d.row.Deliveries).
		Exec(ctx)
	return unavailable("ack", err)
}

func (d *pgDelivery) Nack(ctx context.Context) error {
	_, err := d.q.db.NewUpdate().Model((*queueRow)(nil)).
		Set("visible_at = ?", time.Now().UTC()).
		Where("id = ?", d.row.ID).
		Where("deliveries = ?", d.row.Deliveries).
		Exec(ctx)
	return unavailable("nack", err)
}
