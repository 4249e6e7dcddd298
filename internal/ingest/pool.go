package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"docuflow/internal/models"
	"docuflow/internal/ports"
)

// Pool runs workers that pull deliveries from a shared queue.
type Pool struct {
	queue  ports.Queue
	worker *Worker
	size   int

	// errorBackoff is the pause after a failed receive.
	errorBackoff time.Duration
}

func NewPool(queue ports.Queue, worker *Worker, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{queue: queue, worker: worker, size: size, errorBackoff: time.Second}
}

// Run blocks until ctx is cancelled and every worker has finished its
// current delivery.
func (p *Pool) Run(ctx context.Context) error {
	log.Info().Int("workers", p.size).Msg("Ingestion workers started")
	var wg sync.WaitGroup
	for i := range p.size {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, i)
		}()
	}
	wg.Wait()
	log.Info().Msg("Ingestion workers stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, id int) {
	for ctx.Err() == nil {
		d, err := p.queue.Receive(ctx)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrReceiveTimeout):
			continue
		case ctx.Err() != nil:
			return
		default:
			log.Error().Err(err).Int("worker", id).Msg("Receive failed")
			t := time.NewTimer(p.errorBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			continue
		}

		if err := p.worker.Handle(ctx, d); err != nil {
			log.Warn().Err(err).Int("worker", id).Str("job_id", d.Message().JobID).Msg("Delivery not settled")
		}
	}
}

// Drain processes deliveries until the queue stays empty for one receive
// timeout. Used by one-shot ingestion.
func (p *Pool) Drain(ctx context.Context) error {
	for {
		d, err := p.queue.Receive(ctx)
		if errors.Is(err, models.ErrReceiveTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := p.worker.Handle(ctx, d); err != nil {
			return err
		}
	}
}
