package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kalambet/ecoreturns/internal/faults"
)

var (
	// ErrIndexNotBuilt is returned by searches before the first BuildIndex.
	ErrIndexNotBuilt = errors.New("knowledge index not built")
	// ErrInvalidK is returned for a non-positive result count.
	ErrInvalidK = errors.New("k must be at least 1")
)

// IndexStats describes the current index generation.
type IndexStats struct {
	Documents   int       `json:"documents"`
	Chunks      int       `json:"chunks"`
	Dimensions  int       `json:"dimensions"`
	Embedder    string    `json:"embedder"`
	Fingerprint string    `json:"fingerprint"`
	BuiltAt     time.Time `json:"built_at"`
	// Reused is set when the build was a no-op because the corpus was
	// unchanged; Cached when vectors came from the vector cache.
	Reused bool `json:"reused,omitempty"`
	Cached bool `json:"cached,omitempty"`
}

// Retriever chunks and embeds a document corpus and answers similarity
// queries against it. Readers always see a complete index generation.
type Retriever struct {
	embedder *Embedder
	chunker  Chunker
	cache    VectorCache

	current atomic.Pointer[Index]
	buildMu sync.Mutex
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithChunker overrides the default chunking parameters.
func WithChunker(c Chunker) Option {
	return func(r *Retriever) { r.chunker = c }
}

// WithVectorCache persists embedded generations.
func WithVectorCache(c VectorCache) Option {
	return func(r *Retriever) { r.cache = c }
}

// NewRetriever creates a Retriever backed by the given Embedder.
func NewRetriever(embedder *Embedder, opts ...Option) (*Retriever, error) {
	r := &Retriever{
		embedder: embedder,
		chunker:  Chunker{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap},
	}
	for _, o := range opts {
		o(r)
	}
	if err := r.chunker.Validate(); err != nil {
		return nil, faults.Config("retrieval", err)
	}
	return r, nil
}

// BuildIndex chunks and embeds docs and atomically replaces the current
// index. Building the corpus that is already indexed is a no-op. On any
// failure the previous index stays in place.
func (r *Retriever) BuildIndex(ctx context.Context, docs []Document) (IndexStats, error) {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	dims := r.embedder.Dimensions()
	fp := fingerprint(r.embedder.Name(), dims, r.chunker, docs)

	if cur := r.current.Load(); cur != nil && cur.fingerprint == fp {
		st := r.stats(cur)
		st.Reused = true
		return st, nil
	}

	if chunks := r.loadCached(ctx, fp); chunks != nil {
		if err := checkDimensions(chunks, dims); err == nil {
			ix := newIndex(chunks, dims, len(docs), fp)
			r.current.Store(ix)
			st := r.stats(ix)
			st.Cached = true
			log.Info().Int("chunks", ix.Len()).Str("fingerprint", fp).Msg("knowledge index loaded from cache")
			return st, nil
		}
	}

	var chunks []Chunk
	for _, d := range docs {
		for _, sp := range r.chunker.Split(d.Text) {
			chunks = append(chunks, Chunk{
				DocID:   d.ID,
				DocKind: d.Kind,
				Title:   d.Title,
				Text:    sp.Text,
				Start:   sp.Start,
				End:     sp.End,
				Ordinal: len(chunks),
			})
		}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return IndexStats{}, fmt.Errorf("building index: %w", err)
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}
	if err := checkDimensions(chunks, dims); err != nil {
		return IndexStats{}, err
	}
	if dims == 0 && len(chunks) > 0 {
		dims = len(chunks[0].Embedding)
	}

	ix := newIndex(chunks, dims, len(docs), fp)
	r.current.Store(ix)
	log.Info().Int("documents", len(docs)).Int("chunks", ix.Len()).Str("embedder", r.embedder.Name()).
		Msg("knowledge index built")

	if r.cache != nil {
		if err := r.cache.Save(ctx, fp, chunks); err != nil {
			log.Warn().Err(err).Msg("saving index to vector cache failed")
		}
	}
	return r.stats(ix), nil
}

func (r *Retriever) loadCached(ctx context.Context, fp string) []Chunk {
	if r.cache == nil {
		return nil
	}
	chunks, err := r.cache.Load(ctx, fp)
	if err != nil {
		log.Warn().Err(err).Msg("reading vector cache failed, re-embedding")
		return nil
	}
	if len(chunks) == 0 {
		return nil
	}
	return chunks
}

// checkDimensions verifies every vector has the declared length, or, when
// nothing is declared, that all vectors agree.
func checkDimensions(chunks []Chunk, dims int) error {
	for _, c := range chunks {
		if dims == 0 {
			dims = len(c.Embedding)
		}
		if len(c.Embedding) != dims {
			return faults.Configf("embedding", "chunk %d of %s has %d dimensions, want %d",
				c.Ordinal, c.DocID, len(c.Embedding), dims)
		}
	}
	return nil
}

// Search returns up to k chunks most similar to query, by descending cosine
// similarity with ties broken by corpus order.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	return r.SearchKinds(ctx, query, k)
}

// SearchKinds is Search restricted to documents of the given kinds. No kinds
// means no restriction.
func (r *Retriever) SearchKinds(ctx context.Context, query string, k int, kinds ...string) ([]ScoredChunk, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	ix := r.current.Load()
	if ix == nil {
		return nil, ErrIndexNotBuilt
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if ix.dims > 0 && len(vec) != ix.dims {
		return nil, faults.Configf("embedding", "query vector has %d dimensions, index has %d", len(vec), ix.dims)
	}
	return ix.search(vec, k, kinds), nil
}

// Stats describes the current index. ok is false before the first build.
func (r *Retriever) Stats() (IndexStats, bool) {
	ix := r.current.Load()
	if ix == nil {
		return IndexStats{}, false
	}
	return r.stats(ix), true
}

func (r *Retriever) stats(ix *Index) IndexStats {
	return IndexStats{
		Documents:   ix.documents,
		Chunks:      ix.Len(),
		Dimensions:  ix.dims,
		Embedder:    r.embedder.Name(),
		Fingerprint: ix.fingerprint,
		BuiltAt:     ix.builtAt,
	}
}
