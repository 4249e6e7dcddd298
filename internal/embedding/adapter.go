// Package embedding wraps a langchaingo embedder with batching, bounded
// retries, error classification and client-side throttling.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/time/rate"

	"docuflow/internal/config"
	"docuflow/internal/models"
	"docuflow/internal/retry"
)

// Adapter implements ports.Embedder.
type Adapter struct {
	provider  embeddings.Embedder
	batchSize int
	timeout   time.Duration
	policy    retry.Policy
	limiter   *rate.Limiter

	mu  sync.Mutex
	dim int
}

// New wraps provider. Batch size and retry policy come from the RAG section,
// the per-call timeout and rate limit from the provider's LLM section.
func New(provider embeddings.Embedder, llm config.LLMConfig, rag config.RAGConfig) *Adapter {
	a := &Adapter{
		provider:  provider,
		batchSize: rag.BatchSize,
		timeout:   llm.Timeout,
		policy: retry.Policy{
			MaxAttempts: rag.Retry.MaxAttempts,
			BaseDelay:   rag.Retry.BaseDelay,
			MaxDelay:    rag.Retry.MaxDelay,
		},
	}
	if a.batchSize <= 0 {
		a.batchSize = config.DefaultBatchSize
	}
	if a.timeout <= 0 {
		a.timeout = time.Minute
	}
	if a.policy.MaxAttempts <= 0 {
		a.policy.MaxAttempts = 1
	}
	if llm.RequestsPerSecond > 0 {
		burst := llm.Burst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(llm.RequestsPerSecond), burst)
	}
	return a
}

// BatchSize is the largest number of texts sent in one provider call.
func (a *Adapter) BatchSize() int { return a.batchSize }

// Dimension returns the vector size seen so far, 0 before the first call.
func (a *Adapter) Dimension() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dim
}

// Embed returns one vector per text, in input order.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += a.batchSize {
		end := min(start+a.batchSize, len(texts))
		vecs, err := a.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single question.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := a.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (a *Adapter) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	b := retry.New(a.policy)
	var lastErr error
	for b.Next() {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		vecs, err := a.provider.EmbedDocuments(callCtx, batch)
		cancel()
		if err == nil {
			if err := a.check(batch, vecs); err != nil {
				return nil, err
			}
			return vecs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		err = Classify(err)
		if errors.Is(err, models.ErrFatalProvider) {
			return nil, err
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", b.Attempt()).Int("batch", len(batch)).Msg("Embedding call failed")
		if b.Exhausted() {
			break
		}
		if err := b.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("embedding gave up after %d attempts: %w", b.Attempt(), lastErr)
}

// check enforces same-length output and one dimension per adapter.
func (a *Adapter) check(batch []string, vecs [][]float32) error {
	if len(vecs) != len(batch) {
		return fmt.Errorf("%w: %d vectors for %d texts", models.ErrFatalProvider, len(vecs), len(batch))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector at %d", models.ErrFatalProvider, i)
		}
		if a.dim == 0 {
			a.dim = len(v)
		}
		if len(v) != a.dim {
			return fmt.Errorf("%w: got %d, want %d", models.ErrDimensionMismatch, len(v), a.dim)
		}
	}
	return nil
}

// quota exhaustion arrives as a 429 on some providers, so it is matched first
var quotaMarkers = []string{"insufficient_quota", "exceeded your current quota", "billing"}

var fatalMarkers = []string{
	"status code: 400", "status code: 401", "status code: 403", "status code: 404",
	"invalid_api_key", "incorrect api key", "unauthorized", "forbidden",
	"invalid_request_error", "model not found",
}

var transientMarkers = []string{
	"status code: 429", "rate limit", "too many requests",
	"status code: 500", "status code: 502", "status code: 503", "status code: 504",
	"timeout", "connection reset", "connection refused", "broken pipe", "eof", "overloaded",
}

// Classify wraps a provider error in models.ErrFatalProvider or
// models.ErrTransientProvider. Unrecognised errors count as transient, so the
// retry bound still applies.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrFatalProvider) || errors.Is(err, models.ErrTransientProvider) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", models.ErrTransientProvider, err)
	}

	msg := strings.ToLower(err.Error())
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", models.ErrFatalProvider, err)
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", models.ErrTransientProvider, err)
		}
	}
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", models.ErrFatalProvider, err)
		}
	}
	return fmt.Errorf("%w: %w", models.ErrTransientProvider, err)
}
