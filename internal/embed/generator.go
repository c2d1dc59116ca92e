package embed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	cieerrors "github.com/kodecortex/cie/internal/errors"
)

// ModelIdentity is the (name, dim, revision) triple the store tags every
// vector with, per spec.md §3's Embedding Record and §4.3's "model
// identity is reported and never silently changes mid-session" guarantee.
type ModelIdentity struct {
	Name     string
	Dim      int
	Revision string
}

// Equal reports whether two identities name the same model at the same
// dimensionality; Revision differences alone do not force re-embedding.
func (m ModelIdentity) Equal(other ModelIdentity) bool {
	return m.Name == other.Name && m.Dim == other.Dim
}

// Result is one text's outcome: either a normalized vector, or a reason
// it was excluded (spec.md §4.3(b)).
type Result struct {
	Index        int
	Vector       []float32
	ZeroNorm     bool
	Err          error
}

// RetryPolicy configures the Generator's bounded exponential backoff with
// jitter, grounded on the teacher's ingestion.RetryConfig/
// computeBackoffWithJitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, Jitter: true}
}

// BatchLimits bounds a single request to the provider, per spec.md §4.3(c).
type BatchLimits struct {
	MaxItems int
	MaxBytes int
}

func DefaultBatchLimits() BatchLimits {
	return BatchLimits{MaxItems: 1000, MaxBytes: 2 * 1024 * 1024}
}

// Generator is the Embedding Service's concrete implementation of
// embed(texts, model_requirement) -> [vector]. Grounded on the teacher's
// EmbeddingGenerator: worker-pool fan-out, per-item retry with classified
// errors, summary (not per-item) logging.
type Generator struct {
	provider Provider
	identity ModelIdentity
	workers  int
	retry    RetryPolicy
	limits   BatchLimits
	logger   *slog.Logger
}

func NewGenerator(provider Provider, workers int, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Generator{
		provider: provider,
		identity: ModelIdentity{Name: provider.Name(), Dim: provider.Dim()},
		workers:  workers,
		retry:    DefaultRetryPolicy(),
		limits:   DefaultBatchLimits(),
		logger:   logger,
	}
}

func (g *Generator) SetRetryPolicy(p RetryPolicy) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Second
	}
	g.retry = p
}

func (g *Generator) SetBatchLimits(l BatchLimits) {
	if l.MaxItems <= 0 {
		l.MaxItems = 1000
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = 2 * 1024 * 1024
	}
	g.limits = l
}

// Identity returns the model identity this Generator's provider reports.
func (g *Generator) Identity() ModelIdentity { return g.identity }

// Embed generates embeddings for texts, honoring output-order-matches-
// input-order (spec.md §4.3(a)) and batching per g.limits(c). Chunking by
// MaxItems/MaxBytes is transparent to the caller: Embed always returns
// len(texts) results.
func (g *Generator) Embed(ctx context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([]Result, len(texts))
	batches := g.chunk(texts)

	offset := 0
	for _, batch := range batches {
		batchResults := g.embedBatch(ctx, batch, offset)
		copy(results[offset:offset+len(batch)], batchResults)
		offset += len(batch)
	}

	return results, nil
}

// chunk splits texts into batches respecting MaxItems and MaxBytes.
func (g *Generator) chunk(texts []string) [][]string {
	var batches [][]string
	var current []string
	currentBytes := 0

	for _, t := range texts {
		if len(current) >= g.limits.MaxItems || (currentBytes+len(t) > g.limits.MaxBytes && len(current) > 0) {
			batches = append(batches, current)
			current = nil
			currentBytes = 0
		}
		current = append(current, t)
		currentBytes += len(t)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func (g *Generator) embedBatch(ctx context.Context, texts []string, indexOffset int) []Result {
	results := make([]Result, len(texts))

	if g.workers <= 1 {
		for i, t := range texts {
			results[i] = g.embedOne(ctx, indexOffset+i, t)
		}
		return results
	}

	jobs := make(chan int, len(texts))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for w := 0; w < g.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				r := g.embedOne(ctx, indexOffset+i, texts[i])
				mu.Lock()
				results[i] = r
				mu.Unlock()
			}
		}()
	}
	for i := range texts {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

func (g *Generator) embedOne(ctx context.Context, index int, text string) Result {
	var vec []float32
	var err error

	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		vec, err = g.provider.Embed(ctx, text)
		if err == nil {
			break
		}
		retryable := isRetryableError(err)
		if !retryable || attempt == g.retry.MaxAttempts-1 {
			break
		}
		sleep := computeBackoffWithJitter(g.retry.BaseDelay, attempt, g.retry.MaxDelay, g.retry.Jitter)
		g.logger.Warn("embedding_service.retry", "attempt", attempt+1, "sleep_ms", sleep.Milliseconds(), "err", err)
		select {
		case <-ctx.Done():
			return Result{Index: index, Err: ctx.Err()}
		case <-time.After(sleep):
		}
	}

	if err != nil {
		wrapped := cieerrors.New(cieerrors.KindProviderUnavailable, fmt.Sprintf("embedding provider %s failed", g.provider.Name()), cieerrors.Context{}, nil, err)
		return Result{Index: index, Err: wrapped}
	}

	if len(vec) != g.identity.Dim {
		mismatch := cieerrors.New(cieerrors.KindDimensionMismatch,
			fmt.Sprintf("provider returned dim %d, model identity declares %d", len(vec), g.identity.Dim),
			cieerrors.Context{}, nil, nil)
		return Result{Index: index, Err: mismatch}
	}

	norm := l2Norm(vec)
	if norm == 0 {
		return Result{Index: index, ZeroNorm: true}
	}
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = float32(float64(v) / norm)
	}
	return Result{Index: index, Vector: normalized}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	retrySubstr := []string{"timeout", "temporarily unavailable", "connection refused", "connection reset", "deadline exceeded", "eof"}
	for _, s := range retrySubstr {
		if strings.Contains(msg, s) {
			return true
		}
	}
	httpRetry := []string{" 429", " 500", " 502", " 503", " 504"}
	for _, s := range httpRetry {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// computeBackoffWithJitter returns exponential backoff, optionally with
// full jitter in [0, d], capped at maxDelay. Grounded on the teacher's
// computeBackoffWithJitter, using math/rand instead of the teacher's
// hand-rolled LCG since math/rand is already an ambient stdlib dependency
// with no ecosystem replacement in the pack for this narrow use.
func computeBackoffWithJitter(base time.Duration, attempt int, maxDelay time.Duration, jitter bool) time.Duration {
	exp := float64(base) * math.Pow(2, float64(attempt))
	d := time.Duration(exp)
	if d > maxDelay {
		d = maxDelay
	}
	if d <= 0 {
		return base
	}
	if !jitter {
		return d
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}
