package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuflow/internal/config"
	"docuflow/internal/memory"
	"docuflow/internal/models"
	"docuflow/internal/parser"
)

// pageExtractor treats the payload as form-feed separated pages.
type pageExtractor struct{}

func (pageExtractor) ExtractPages(data []byte) ([]string, error) {
	if !strings.HasPrefix(string(data), "%PDF") {
		return nil, errors.New("not a pdf")
	}
	return strings.Split(strings.TrimPrefix(string(data), "%PDF"), "\f"), nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	errs    []error
	fetches int
}

func (s *fakeStore) Fetch(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.fetches
	s.fetches++
	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	data, ok := s.objects[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, models.ErrNotFound)
	}
	return data, nil
}

func (s *fakeStore) Put(_ context.Context, ref string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[ref] = data
	return nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	texts int
	errs  []error
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	call := e.calls
	e.calls++
	e.mu.Unlock()
	if call < len(e.errs) && e.errs[call] != nil {
		return nil, e.errs[call]
	}
	e.mu.Lock()
	e.texts += len(texts)
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

// fakeIndex records inserts in order.
type fakeIndex struct {
	mu      sync.Mutex
	entries map[models.ChunkKey]models.EmbeddingVector
	order   []models.ChunkKey
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[models.ChunkKey]models.EmbeddingVector)}
}

func (x *fakeIndex) Insert(_ context.Context, v models.EmbeddingVector) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[v.Key] = v
	x.order = append(x.order, v.Key)
	return nil
}

func (x *fakeIndex) Query(context.Context, []float32, int, []models.Category) ([]models.SearchHit, error) {
	return nil, nil
}

func (x *fakeIndex) Prune(_ context.Context, documentID string, from int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for k := range x.entries {
		if k.DocumentID == documentID && k.Ordinal >= from {
			delete(x.entries, k)
		}
	}
	return nil
}

func (x *fakeIndex) Count(_ context.Context, documentID string) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for k := range x.entries {
		if k.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (x *fakeIndex) snapshot(documentID string) map[models.ChunkKey]models.EmbeddingVector {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[models.ChunkKey]models.EmbeddingVector)
	for k, v := range x.entries {
		if k.DocumentID == documentID {
			out[k] = v
		}
	}
	return out
}

// settled records how a delivery was settled.
type settled struct {
	msg   models.Message
	acks  int
	nacks int
}

func (d *settled) Message() models.Message { return d.msg }
func (d *settled) Ack(context.Context) error { d.acks++; return nil }
func (d *settled) Nack(context.Context) error { d.nacks++; return nil }

type harness struct {
	jobs     *memory.JobStore
	store    *fakeStore
	embedder *fakeEmbedder
	index    *fakeIndex
	worker   *Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		jobs:     memory.NewJobStore(time.Hour),
		store:    &fakeStore{objects: make(map[string][]byte)},
		embedder: &fakeEmbedder{},
		index:    newFakeIndex(),
	}
	fragmenter := parser.NewWithExtractor(parser.Options{ChunkSize: 60, ChunkOverlap: 20, MinPageChars: 1}, pageExtractor{}, nil)
	h.worker = NewWorker(h.jobs, h.store, fragmenter, h.embedder, h.index,
		config.RAGConfig{
			BatchSize: 3,
			Retry:     config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		},
		config.WorkerConfig{
			JobTimeout: 5 * time.Second,
			Retry:      config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		})
	return h
}

func longText(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = fmt.Sprintf("term%d", i)
	}
	return strings.Join(parts, " ")
}

// submit stores the payload and creates a queued job for it.
func (h *harness) submit(t *testing.T, jobID, docID, payload string) *settled {
	t.Helper()
	ref := docID + ".pdf"
	h.store.objects[ref] = []byte(payload)
	job := models.IngestJob{JobID: jobID, DocumentID: docID, Category: models.CategoryContract, StorageReference: ref}
	require.NoError(t, h.jobs.Create(context.Background(), job))
	return &settled{msg: models.MessageFor(job)}
}

func (h *harness) job(t *testing.T, id string) models.IngestJob {
	t.Helper()
	job, err := h.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestHandle_Completes(t *testing.T) {
	h := newHarness(t)
	d := h.submit(t, "j1", "doc", "%PDF"+longText(40)+"\f"+longText(30))

	require.NoError(t, h.worker.Handle(context.Background(), d))

	job := h.job(t, "j1")
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Empty(t, job.LastError)
	assert.False(t, job.CompletedAt.IsZero())
	assert.Equal(t, 1, d.acks)
	assert.Zero(t, d.nacks)

	require.NotEmpty(t, h.index.order)
	for i, k := range h.index.order {
		assert.Equal(t, models.ChunkKey{DocumentID: "doc", Ordinal: i}, k, "inserts must follow ordinal order")
	}
	n, _ := h.index.Count(context.Background(), "doc")
	assert.Equal(t, len(h.index.order), n)
	assert.Greater(t, h.embedder.calls, 1, "chunks are embedded in batches")
}

func TestHandle_IdempotentReingest(t *testing.T) {
	h := newHarness(t)
	payload := "%PDF" + longText(50)
	require.NoError(t, h.worker.Handle(context.Background(), h.submit(t, "j1", "doc", payload)))
	first := h.index.snapshot("doc")

	time.Sleep(time.Millisecond)
	require.NoError(t, h.worker.Handle(context.Background(), h.submit(t, "j2", "doc", payload)))
	assert.Equal(t, models.JobCompleted, h.job(t, "j2").Status)
	assert.Equal(t, first, h.index.snapshot("doc"))
}

func TestHandle_ShorterReingestPrunesTail(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.worker.Handle(context.Background(), h.submit(t, "j1", "doc", "%PDF"+longText(80))))
	before, _ := h.index.Count(context.Background(), "doc")

	time.Sleep(time.Millisecond)
	require.NoError(t, h.worker.Handle(context.Background(), h.submit(t, "j2", "doc", "%PDF"+longText(10))))
	after, _ := h.index.Count(context.Background(), "doc")
	assert.Less(t, after, before)
	for k := range h.index.snapshot("doc") {
		assert.Less(t, k.Ordinal, after)
	}
}

func TestHandle_RedeliveryAfterCompletion(t *testing.T) {
	h := newHarness(t)
	d := h.submit(t, "j1", "doc", "%PDF"+longText(20))
	require.NoError(t, h.worker.Handle(context.Background(), d))
	calls := h.embedder.calls

	again := &settled{msg: d.msg}
	require.NoError(t, h.worker.Handle(context.Background(), again))
	assert.Equal(t, 1, again.acks)
	assert.Equal(t, calls, h.embedder.calls, "redelivered job must not be reprocessed")
	assert.Equal(t, models.JobCompleted, h.job(t, "j1").Status)
}

func TestHandle_DuplicateWhileProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.submit(t, "j1", "doc", "%PDF"+longText(20))
	d2 := h.submit(t, "j2", "doc", "%PDF"+longText(20))

	res, err := h.jobs.Claim(ctx, "j1")
	require.NoError(t, err)
	require.True(t, res.Claimed)

	require.NoError(t, h.worker.Handle(ctx, d2))
	assert.Equal(t, 1, d2.acks)
	assert.Zero(t, h.embedder.calls)

	job := h.job(t, "j2")
	assert.Equal(t, models.JobDuplicate, job.Status)
	assert.Equal(t, "j1", job.DuplicateOf)
}

func TestHandle_TransientRetriedAtJobLevel(t *testing.T) {
	h := newHarness(t)
	h.embedder.errs = []error{fmt.Errorf("%w: 503", models.ErrTransientProvider)}
	d := h.submit(t, "j1", "doc", "%PDF"+longText(10))

	require.NoError(t, h.worker.Handle(context.Background(), d))
	job := h.job(t, "j1")
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 2, job.AttemptCount)
}

func TestHandle_TransientExhausted(t *testing.T) {
	h := newHarness(t)
	transient := fmt.Errorf("%w: 503", models.ErrTransientProvider)
	h.embedder.errs = []error{transient, transient, transient}
	d := h.submit(t, "j1", "doc", "%PDF"+longText(10))

	require.NoError(t, h.worker.Handle(context.Background(), d))
	job := h.job(t, "j1")
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, 3, job.AttemptCount)
	assert.Contains(t, job.LastError, "transient provider error")
	assert.Equal(t, 1, d.acks)
}

func TestHandle_FatalFailures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		embed   error
		want    string
	}{
		{name: "unreadable", payload: "GIF89a", want: "document unreadable"},
		{name: "empty", payload: "%PDF \f \f", want: "document empty"},
		{name: "fatal provider", payload: "%PDF" + longText(10), embed: fmt.Errorf("%w: 401", models.ErrFatalProvider), want: "fatal provider error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			if tc.embed != nil {
				h.embedder.errs = []error{tc.embed}
			}
			d := h.submit(t, "j1", "doc", tc.payload)

			require.NoError(t, h.worker.Handle(context.Background(), d))
			job := h.job(t, "j1")
			assert.Equal(t, models.JobFailed, job.Status)
			assert.Equal(t, 1, job.AttemptCount)
			assert.Contains(t, job.LastError, tc.want)
			assert.Equal(t, 1, d.acks)

			n, _ := h.index.Count(context.Background(), "doc")
			assert.Zero(t, n)
		})
	}
}

func TestHandle_StorageErrors(t *testing.T) {
	h := newHarness(t)
	d := h.submit(t, "j1", "doc", "%PDF"+longText(10))
	h.store.errs = []error{models.ErrStorageUnavailable, models.ErrStorageUnavailable}

	require.NoError(t, h.worker.Handle(context.Background(), d))
	assert.Equal(t, models.JobCompleted, h.job(t, "j1").Status)
	assert.Equal(t, 3, h.store.fetches)

	h = newHarness(t)
	d = h.submit(t, "j2", "doc", "%PDF"+longText(10))
	delete(h.store.objects, "doc.pdf")
	require.NoError(t, h.worker.Handle(context.Background(), d))
	job := h.job(t, "j2")
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.LastError, "not found")
}

func TestHandle_UnknownJob(t *testing.T) {
	h := newHarness(t)
	d := &settled{msg: models.Message{JobID: "ghost", DocumentID: "doc"}}
	require.NoError(t, h.worker.Handle(context.Background(), d))
	assert.Equal(t, 1, d.acks)
}

func TestHandle_ShutdownRequeues(t *testing.T) {
	h := newHarness(t)
	d := h.submit(t, "j1", "doc", "%PDF"+longText(10))
	ctx, cancel := context.WithCancel(context.Background())
	h.embedder.errs = []error{fmt.Errorf("%w: 503", models.ErrTransientProvider)}
	h.worker.jobRetry.BaseDelay = time.Hour
	h.worker.jobRetry.MaxDelay = time.Hour

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := h.worker.Handle(ctx, d)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, d.nacks)
	assert.Equal(t, models.JobQueued, h.job(t, "j1").Status)
}
