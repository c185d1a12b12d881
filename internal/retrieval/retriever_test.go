package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/ecoreturns/internal/engine"
	"github.com/kalambet/ecoreturns/internal/faults"
)

var testDocs = []Document{
	{ID: "politicas", Kind: "policy", Title: "Políticas", Text: "Los electrónicos tienen un plazo de devolución de 30 días. Las tablets tienen 7 días."},
	{ID: "calidad", Kind: "procedure", Title: "Calidad", Text: "La inspección de calidad revisa el estado físico y el empaque original del producto."},
	{ID: "soporte", Kind: "support", Title: "Soporte", Text: "El horario de atención telefónica es de lunes a viernes de 8:00 a 20:00."},
}

func newHashRetriever(t *testing.T, opts ...Option) *Retriever {
	t.Helper()
	opts = append([]Option{WithChunker(Chunker{Size: 60, Overlap: 10})}, opts...)
	r, err := NewRetriever(NewEmbedder(engine.NewHashEmbedder(128), EmbedderOptions{}), opts...)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	return r
}

func TestSearch_BeforeBuild(t *testing.T) {
	r := newHashRetriever(t)
	if _, err := r.Search(context.Background(), "plazo", 3); !errors.Is(err, ErrIndexNotBuilt) {
		t.Fatalf("got %v, want ErrIndexNotBuilt", err)
	}
}

func TestSearch_InvalidK(t *testing.T) {
	r := newHashRetriever(t)
	r.BuildIndex(context.Background(), testDocs)
	for _, k := range []int{0, -2} {
		if _, err := r.Search(context.Background(), "plazo", k); !errors.Is(err, ErrInvalidK) {
			t.Errorf("k=%d: got %v, want ErrInvalidK", k, err)
		}
	}
}

func TestSearch_OrderingAndBound(t *testing.T) {
	r := newHashRetriever(t)
	st, err := r.BuildIndex(context.Background(), testDocs)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if st.Documents != 3 || st.Chunks < 3 || st.Dimensions != 128 {
		t.Errorf("unexpected stats %+v", st)
	}

	res, err := r.Search(context.Background(), "¿Cuál es el plazo de devolución de electrónicos?", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d results, want 2", len(res))
	}
	for i := 1; i < len(res); i++ {
		if res[i].Score > res[i-1].Score {
			t.Errorf("results not sorted: %v > %v", res[i].Score, res[i-1].Score)
		}
		if res[i].Score == res[i-1].Score && res[i].Ordinal < res[i-1].Ordinal {
			t.Errorf("tie not broken by corpus order")
		}
	}
	if res[0].DocID != "politicas" {
		t.Errorf("top result from %s, want politicas", res[0].DocID)
	}
}

func TestSearch_LargeKReturnsWholeCorpus(t *testing.T) {
	r := newHashRetriever(t)
	st, _ := r.BuildIndex(context.Background(), testDocs)

	res, err := r.Search(context.Background(), "producto", 1000)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != st.Chunks {
		t.Errorf("got %d results, want all %d chunks", len(res), st.Chunks)
	}
}

func TestSearch_Deterministic(t *testing.T) {
	r := newHashRetriever(t)
	r.BuildIndex(context.Background(), testDocs)

	first, _ := r.Search(context.Background(), "inspección del empaque", 3)
	for i := 0; i < 5; i++ {
		again, _ := r.Search(context.Background(), "inspección del empaque", 3)
		for j := range first {
			if again[j].Ordinal != first[j].Ordinal || again[j].Score != first[j].Score {
				t.Fatalf("run %d differs at %d", i, j)
			}
		}
	}
}

func TestSearch_TiesInCorpusOrder(t *testing.T) {
	flat := &mockEmbedder{dims: 2, embedFn: func(context.Context, string) ([]float32, error) {
		return []float32{1, 0}, nil
	}}
	r, _ := NewRetriever(NewEmbedder(flat, EmbedderOptions{}), WithChunker(Chunker{Size: 5, Overlap: 0}))
	r.BuildIndex(context.Background(), []Document{{ID: "a", Kind: "k", Text: "aaaaabbbbbccccc"}})

	res, _ := r.Search(context.Background(), "q", 3)
	for i, sc := range res {
		if sc.Ordinal != i {
			t.Errorf("position %d holds chunk %d", i, sc.Ordinal)
		}
	}
}

func TestSearchKinds(t *testing.T) {
	r := newHashRetriever(t)
	r.BuildIndex(context.Background(), testDocs)

	res, err := r.SearchKinds(context.Background(), "horario de atención", 10, "policy")
	if err != nil {
		t.Fatalf("SearchKinds: %v", err)
	}
	if len(res) == 0 {
		t.Fatal("expected policy chunks")
	}
	for _, sc := range res {
		if sc.DocKind != "policy" {
			t.Errorf("got chunk of kind %s", sc.DocKind)
		}
	}
}

func TestBuildIndex_EmbedderDown(t *testing.T) {
	var fail bool
	var mu sync.Mutex
	mock := &mockEmbedder{dims: 3, embedFn: func(context.Context, string) ([]float32, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("down")
		}
		return []float32{1, 2, 3}, nil
	}}
	r, _ := NewRetriever(NewEmbedder(mock, EmbedderOptions{}))
	if _, err := r.BuildIndex(context.Background(), testDocs[:1]); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	mu.Lock()
	fail = true
	mu.Unlock()

	_, err := r.BuildIndex(context.Background(), testDocs)
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Fatalf("got %v, want ErrRetrievalUnavailable", err)
	}
	st, ok := r.Stats()
	if !ok || st.Documents != 1 {
		t.Errorf("previous index should stay in place, got %+v", st)
	}

	if _, err := r.Search(context.Background(), "q", 1); !errors.Is(err, ErrRetrievalUnavailable) {
		t.Errorf("Search with embedder down: got %v", err)
	}
}

func TestBuildIndex_DimensionMismatch(t *testing.T) {
	mock := &mockEmbedder{dims: 0, embedFn: func(_ context.Context, text string) ([]float32, error) {
		if strings.Contains(text, "tablets") {
			return []float32{1, 2}, nil
		}
		return []float32{1, 2, 3}, nil
	}}
	r, _ := NewRetriever(NewEmbedder(mock, EmbedderOptions{}))
	_, err := r.BuildIndex(context.Background(), testDocs)
	if !faults.IsConfig(err) {
		t.Fatalf("got %v, want ConfigError", err)
	}
	if _, ok := r.Stats(); ok {
		t.Error("no index should be installed after a failed build")
	}
}

func TestBuildIndex_Idempotent(t *testing.T) {
	mock := fixedEmbedder(4)
	r, _ := NewRetriever(NewEmbedder(mock, EmbedderOptions{}))

	first, err := r.BuildIndex(context.Background(), testDocs)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	calls := mock.calls.Load()

	second, err := r.BuildIndex(context.Background(), testDocs)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if !second.Reused || second.Fingerprint != first.Fingerprint {
		t.Errorf("expected reuse, got %+v", second)
	}
	if mock.calls.Load() != calls {
		t.Error("rebuilding the same corpus should not embed again")
	}

	third, _ := r.BuildIndex(context.Background(), testDocs[:2])
	if third.Fingerprint == first.Fingerprint || third.Documents != 2 {
		t.Errorf("changed corpus should produce a new generation, got %+v", third)
	}
}

func TestBuildIndex_UsesVectorCache(t *testing.T) {
	db := openTestDB(t)
	store := NewSQLiteStore(db)

	mock := fixedEmbedder(4)
	r1, _ := NewRetriever(NewEmbedder(mock, EmbedderOptions{}), WithVectorCache(store))
	if _, err := r1.BuildIndex(context.Background(), testDocs); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	calls := mock.calls.Load()

	r2, _ := NewRetriever(NewEmbedder(mock, EmbedderOptions{}), WithVectorCache(store))
	st, err := r2.BuildIndex(context.Background(), testDocs)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if !st.Cached {
		t.Errorf("expected cached build, got %+v", st)
	}
	if mock.calls.Load() != calls {
		t.Error("cached build should not call the embedder")
	}
}

func TestBuildIndex_ConcurrentReaders(t *testing.T) {
	r := newHashRetriever(t)
	r.BuildIndex(context.Background(), testDocs[:1])

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res, err := r.Search(context.Background(), "plazo", 50)
				if err != nil {
					t.Errorf("Search: %v", err)
					return
				}
				// Every result set comes from exactly one generation.
				docs := map[string]bool{}
				for _, sc := range res {
					docs[sc.DocID] = true
				}
				if len(docs) != 1 && len(docs) != 3 {
					t.Errorf("observed partial index with %d documents", len(docs))
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		r.BuildIndex(context.Background(), testDocs)
		r.BuildIndex(context.Background(), testDocs[:1])
	}
	close(stop)
	wg.Wait()
}
