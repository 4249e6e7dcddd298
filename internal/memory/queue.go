package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"docuflow/internal/models"
	"docuflow/internal/ports"
)

// ErrQueueClosed is returned by operations on a closed Queue.
var ErrQueueClosed = errors.New("queue closed")

// Queue is an at-least-once channel queue. A received message that is not
// acknowledged within the visibility timeout is delivered again.
type Queue struct {
	ready          chan *entry
	receiveTimeout time.Duration
	visibility     time.Duration

	mu       sync.Mutex
	inflight map[*delivery]*time.Timer
	closed   chan struct{}
	once     sync.Once
}

type entry struct {
	msg        models.Message
	deliveries int
}

// NewQueue returns a queue holding up to capacity ready messages.
func NewQueue(capacity int, receiveTimeout, visibility time.Duration) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	if receiveTimeout <= 0 {
		receiveTimeout = 5 * time.Second
	}
	if visibility <= 0 {
		visibility = time.Hour
	}
	return &Queue{
		ready:          make(chan *entry, capacity),
		receiveTimeout: receiveTimeout,
		visibility:     visibility,
		inflight:       make(map[*delivery]*time.Timer),
		closed:         make(chan struct{}),
	}
}

// Enqueue blocks while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, msg models.Message) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	select {
	case q.ready <- &entry{msg: msg}:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits at most the receive timeout for a message.
func (q *Queue) Receive(ctx context.Context) (ports.Delivery, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	t := time.NewTimer(q.receiveTimeout)
	defer t.Stop()

	select {
	case e := <-q.ready:
		e.deliveries++
		d := &delivery{q: q, e: e}
		q.mu.Lock()
		q.inflight[d] = time.AfterFunc(q.visibility, func() { q.redeliver(d, "visibility timeout") })
		q.mu.Unlock()
		return d, nil
	case <-t.C:
		return nil, models.ErrReceiveTimeout
	case <-q.closed:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle removes d from the in-flight set. It reports false when d was
// already settled, so a late Ack of an expired delivery does not touch the
// redelivered copy.
func (q *Queue) settle(d *delivery) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.inflight[d]
	if !ok {
		return false
	}
	t.Stop()
	delete(q.inflight, d)
	return true
}

func (q *Queue) redeliver(d *delivery, reason string) {
	if !q.settle(d) {
		return
	}
	e := d.e
	log.Debug().Str("job_id", e.msg.JobID).Int("deliveries", e.deliveries).Str("reason", reason).Msg("Redelivering message")
	go func() {
		select {
		case q.ready <- e:
		case <-q.closed:
		}
	}()
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Len returns the number of ready messages.
func (q *Queue) Len() int { return len(q.ready) }

// InFlight returns the number of received, unsettled messages.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Close stops all pending redeliveries. Messages still queued are dropped.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.closed)
		q.mu.Lock()
		for d, t := range q.inflight {
			t.Stop()
			delete(q.inflight, d)
		}
		q.mu.Unlock()
	})
}

type delivery struct {
	q *Queue
	e *entry
}

func (d *delivery) Message() models.Message { return d.e.msg }

func (d *delivery) Ack(context.Context) error {
	d.q.settle(d)
	return nil
}

func (d *delivery) Nack(context.Context) error {
	d.q.redeliver(d, "nack")
	return nil
}
