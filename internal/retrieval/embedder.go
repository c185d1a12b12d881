package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ecoreturns/internal/engine"
	"github.com/kalambet/ecoreturns/internal/faults"
)

// ErrRetrievalUnavailable is returned when the embedding capability fails or
// times out.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// EmbedderOptions tunes an Embedder.
type EmbedderOptions struct {
	// Timeout bounds each embedding call. Zero disables the bound.
	Timeout time.Duration
	// CacheSize is the number of query vectors kept; zero disables caching.
	CacheSize int
	CacheTTL  time.Duration
}

// Embedder wraps an engine.Embedder with per-call timeouts, dimension checks
// and a query vector cache.
type Embedder struct {
	engine  engine.Embedder
	timeout time.Duration
	cache   *expirable.LRU[string, []float32]
}

// NewEmbedder creates an Embedder on top of e.
func NewEmbedder(e engine.Embedder, opts EmbedderOptions) *Embedder {
	em := &Embedder{engine: e, timeout: opts.Timeout}
	if opts.CacheSize > 0 {
		em.cache = expirable.NewLRU[string, []float32](opts.CacheSize, nil, opts.CacheTTL)
	}
	return em
}

// Name and Dimensions describe the underlying backend.
func (e *Embedder) Name() string    { return e.engine.Name() }
func (e *Embedder) Dimensions() int { return e.engine.Dimensions() }

// Embed returns the embedding vector for a query, consulting the cache
// first. The returned slice is shared and must not be modified.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if vec, ok := e.cache.Get(text); ok {
			return vec, nil
		}
	}
	vec, err := e.embedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Add(text, vec)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the backend.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.embedOne(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// embedOne calls the backend under the configured timeout. Backend failures
// wrap ErrRetrievalUnavailable; a wrong vector length is a ConfigError.
func (e *Embedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vec, err := e.engine.Embed(callCtx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
	}
	if want := e.engine.Dimensions(); want > 0 && len(vec) != want {
		return nil, faults.Configf("embedding", "%s returned %d dimensions, declared %d", e.engine.Name(), len(vec), want)
	}
	return vec, nil
}
