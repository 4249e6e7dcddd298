package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuflow/internal/memory"
	"docuflow/internal/models"
)

func TestPool_RunProcessesQueue(t *testing.T) {
	h := newHarness(t)
	q := memory.NewQueue(16, 20*time.Millisecond, time.Minute)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const jobs = 5
	for i := range jobs {
		d := h.submit(t, fmt.Sprintf("j%d", i), fmt.Sprintf("doc%d", i), "%PDF"+longText(30))
		require.NoError(t, q.Enqueue(ctx, d.msg))
	}

	done := make(chan error, 1)
	go func() { done <- NewPool(q, h.worker, 3).Run(ctx) }()

	require.Eventually(t, func() bool {
		for i := range jobs {
			job, err := h.jobs.Get(ctx, fmt.Sprintf("j%d", i))
			if err != nil || job.Status != models.JobCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
	assert.Zero(t, q.InFlight())
}

func TestPool_DrainRedelivery(t *testing.T) {
	h := newHarness(t)
	q := memory.NewQueue(16, 20*time.Millisecond, time.Minute)
	defer q.Close()
	ctx := context.Background()

	d := h.submit(t, "j1", "doc", "%PDF"+longText(30))
	// at-least-once: the same message delivered twice
	require.NoError(t, q.Enqueue(ctx, d.msg))
	require.NoError(t, q.Enqueue(ctx, d.msg))

	require.NoError(t, NewPool(q, h.worker, 1).Drain(ctx))
	job := h.job(t, "j1")
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Zero(t, q.Len())
	assert.Zero(t, q.InFlight())
}
