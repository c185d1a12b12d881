package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/kalambet/ecoreturns/internal/textnorm"
)

var _ Embedder = (*HashEmbedder)(nil)

// DefaultHashDimensions is the vector length used when none is configured.
const DefaultHashDimensions = 256

// stemLength truncates tokens so inflections share a bucket
// ("devolver", "devolucion", "devoluciones" -> "devol").
const stemLength = 5

// HashEmbedder is a deterministic, dependency-free embedder based on feature
// hashing of accent-folded tokens and token bigrams. It never fails, so the
// assistant can index and search without any external service.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns an embedder producing vectors of length dims.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Name() string { return fmt.Sprintf("hash/fnv1a-%d", h.dims) }

func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed returns an L2-normalized vector. Text without any token maps to the
// zero vector, which scores 0 against everything.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dims)

	var prev string
	for _, tok := range textnorm.Tokens(text) {
		if len([]rune(tok)) < 2 {
			continue
		}
		stem := stemOf(tok)
		h.add(vec, stem, 1)
		if prev != "" {
			h.add(vec, prev+" "+stem, 0.5)
		}
		prev = stem
	}

	var sum float64
	for _, f := range vec {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

// add folds a feature into its bucket; a second hash bit picks the sign so
// collisions cancel out on average.
func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func stemOf(tok string) string {
	r := []rune(tok)
	if len(r) > stemLength {
		return string(r[:stemLength])
	}
	return tok
}
