package retrieval

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
	"time"
)

// Index is one immutable generation of embedded chunks. Searches read it
// without locking.
type Index struct {
	chunks      []Chunk
	norms       []float64
	dims        int
	fingerprint string
	documents   int
	builtAt     time.Time
}

func newIndex(chunks []Chunk, dims, documents int, fingerprint string) *Index {
	norms := make([]float64, len(chunks))
	for i, c := range chunks {
		norms[i] = norm(c.Embedding)
	}
	return &Index{
		chunks:      chunks,
		norms:       norms,
		dims:        dims,
		fingerprint: fingerprint,
		documents:   documents,
		builtAt:     time.Now().UTC(),
	}
}

// Len returns the number of chunks.
func (ix *Index) Len() int { return len(ix.chunks) }

// search scores every chunk whose kind is allowed (all when kinds is empty),
// orders by score descending with ties in corpus order, and keeps k.
func (ix *Index) search(vec []float32, k int, kinds []string) []ScoredChunk {
	allowed := make(map[string]bool, len(kinds))
	for _, kind := range kinds {
		allowed[kind] = true
	}

	qn := norm(vec)
	scored := make([]ScoredChunk, 0, len(ix.chunks))
	for i, c := range ix.chunks {
		if len(allowed) > 0 && !allowed[c.DocKind] {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: c, Score: cosine(vec, qn, c.Embedding, ix.norms[i])})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes dot(a,b) / (aNorm * bNorm). Zero vectors score 0.
func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float32 {
	if len(a) != len(b) || aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (aNorm * bNorm))
}

// fingerprint identifies a corpus as embedded by a given backend and
// chunking configuration.
func fingerprint(embedder string, dims int, c Chunker, docs []Document) string {
	h := sha256.New()
	writeField := func(s string) {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	writeInt := func(v int) {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(v))
		h.Write(n[:])
	}

	writeField(embedder)
	writeInt(dims)
	writeInt(c.Size)
	writeInt(c.Overlap)
	for _, d := range docs {
		writeField(d.ID)
		writeField(d.Kind)
		writeField(d.Title)
		writeField(d.Text)
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
