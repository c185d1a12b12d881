package retrieval

import "context"

// VectorCache persists the embedded chunks of an index generation keyed by
// its fingerprint, so a restart with an unchanged corpus and embedder skips
// re-embedding.
type VectorCache interface {
	// Load returns the chunks stored under fingerprint in ordinal order, or
	// nil when nothing is stored for it.
	Load(ctx context.Context, fingerprint string) ([]Chunk, error)

	// Save replaces the cache contents with the given generation.
	Save(ctx context.Context, fingerprint string, chunks []Chunk) error
}

// Document is an input to BuildIndex.
type Document struct {
	ID    string
	Kind  string
	Title string
	Text  string
}

// Chunk is an embedded span of a document. Chunks are immutable and owned
// by one index generation.
type Chunk struct {
	DocID     string    `json:"doc_id"`
	DocKind   string    `json:"doc_kind"`
	Title     string    `json:"title,omitempty"`
	Text      string    `json:"text"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	Ordinal   int       `json:"ordinal"`
	Embedding []float32 `json:"-"`
}

// ScoredChunk is a Chunk with its cosine similarity to a query.
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}
