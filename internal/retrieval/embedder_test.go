package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/ecoreturns/internal/faults"
)

// mockEmbedder implements engine.Embedder for testing.
type mockEmbedder struct {
	dims    int
	calls   atomic.Int32
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	return m.embedFn(ctx, text)
}
func (m *mockEmbedder) Dimensions() int { return m.dims }
func (m *mockEmbedder) Name() string    { return "mock" }

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) * 0.001
	}
	return v
}

func fixedEmbedder(dim int) *mockEmbedder {
	return &mockEmbedder{dims: dim, embedFn: func(context.Context, string) ([]float32, error) {
		return makeVector(dim), nil
	}}
}

func TestEmbed_ReturnsDimension(t *testing.T) {
	e := NewEmbedder(fixedEmbedder(384), EmbedderOptions{})

	vec, err := e.Embed(context.Background(), "hola")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("got %d dimensions, want 384", len(vec))
	}
}

func TestEmbed_BackendErrorIsUnavailable(t *testing.T) {
	mock := &mockEmbedder{dims: 4, embedFn: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}}
	e := NewEmbedder(mock, EmbedderOptions{})

	_, err := e.Embed(context.Background(), "hola")
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Fatalf("got %v, want ErrRetrievalUnavailable", err)
	}
}

func TestEmbed_Timeout(t *testing.T) {
	mock := &mockEmbedder{dims: 4, embedFn: func(ctx context.Context, _ string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	e := NewEmbedder(mock, EmbedderOptions{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := e.Embed(context.Background(), "hola")
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Fatalf("got %v, want ErrRetrievalUnavailable", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout was not applied")
	}
}

func TestEmbed_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := &mockEmbedder{dims: 4, embedFn: func(ctx context.Context, _ string) ([]float32, error) {
		return nil, ctx.Err()
	}}

	_, err := NewEmbedder(mock, EmbedderOptions{}).Embed(ctx, "hola")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrRetrievalUnavailable) {
		t.Error("cancellation must not be reported as unavailability")
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	mock := &mockEmbedder{dims: 8, embedFn: func(context.Context, string) ([]float32, error) {
		return makeVector(4), nil
	}}
	_, err := NewEmbedder(mock, EmbedderOptions{}).Embed(context.Background(), "x")
	if !faults.IsConfig(err) {
		t.Fatalf("got %v, want ConfigError", err)
	}
}

func TestEmbed_Cache(t *testing.T) {
	mock := fixedEmbedder(4)
	e := NewEmbedder(mock, EmbedderOptions{CacheSize: 8, CacheTTL: time.Minute})

	for i := 0; i < 3; i++ {
		if _, err := e.Embed(context.Background(), "misma consulta"); err != nil {
			t.Fatalf("Embed: %v", err)
		}
	}
	if got := mock.calls.Load(); got != 1 {
		t.Errorf("backend called %d times, want 1", got)
	}
}

func TestEmbedBatch_CountMatches(t *testing.T) {
	e := NewEmbedder(fixedEmbedder(16), EmbedderOptions{})

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	vecs, err := NewEmbedder(fixedEmbedder(4), EmbedderOptions{}).EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", vecs, err)
	}
}

func TestEmbedBatch_PropagatesError(t *testing.T) {
	mock := &mockEmbedder{dims: 4, embedFn: func(_ context.Context, text string) ([]float32, error) {
		if strings.Contains(text, "bad") {
			return nil, errors.New("boom")
		}
		return makeVector(4), nil
	}}
	_, err := NewEmbedder(mock, EmbedderOptions{}).EmbedBatch(context.Background(), []string{"ok", "bad", "ok"})
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Fatalf("got %v, want ErrRetrievalUnavailable", err)
	}
}
