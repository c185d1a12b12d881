// Package reranking re-scores retrieved knowledge chunks with a generator
// before they are used to answer a customer.
package reranking

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kalambet/ecoreturns/internal/engine"
	"github.com/kalambet/ecoreturns/internal/retrieval"
)

const (
	defaultConcurrency = 3
	defaultTimeout     = 5 * time.Second
)

// Reranker re-scores retrieved chunks by query relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []retrieval.ScoredChunk) ([]retrieval.ScoredChunk, error)
}

// Options tunes an LLMReranker.
type Options struct {
	Timeout time.Duration
	// Threshold drops chunks scored below it.
	Threshold float64
	// TopK returns as soon as this many chunks are scored; 0 scores all.
	TopK int
}

// New returns an LLMReranker over gen, or a NoOpReranker when gen is nil.
func New(gen engine.Generator, opts Options) Reranker {
	if gen == nil {
		return NoOpReranker{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &LLMReranker{
		gen:       gen,
		timeout:   opts.Timeout,
		threshold: opts.Threshold,
		topK:      opts.TopK,
	}
}

// LLMReranker asks a generator to score (query, chunk) pairs. Scoring runs
// concurrently, bounded to defaultConcurrency calls. Results are filtered
// by threshold and sorted by score descending.
type LLMReranker struct {
	gen       engine.Generator
	timeout   time.Duration
	threshold float64
	topK      int
}

// Rerank scores each chunk against the query. If the timeout fires before
// any chunk is scored, the original order is returned unchanged.
func (r *LLMReranker) Rerank(ctx context.Context, query string, chunks []retrieval.ScoredChunk) ([]retrieval.ScoredChunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	earlyReturnAt := r.topK
	if earlyReturnAt <= 0 || earlyReturnAt >= len(chunks) {
		earlyReturnAt = 0
	}

	// Buffered so workers never block on send after collection stops.
	results := make(chan retrieval.ScoredChunk, len(chunks))
	sem := make(chan struct{}, defaultConcurrency)

	var wg sync.WaitGroup
	for _, ch := range chunks {
		wg.Add(1)
		go func(chunk retrieval.ScoredChunk) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-timeoutCtx.Done():
				return
			}
			defer func() { <-sem }()

			score, err := r.scoreChunk(timeoutCtx, query, chunk)
			if err != nil {
				if timeoutCtx.Err() != nil {
					return
				}
				log.Debug().Err(err).Str("doc_id", chunk.DocID).Msg("rerank score failed, keeping retrieval score")
				results <- chunk
				return
			}
			chunk.Score = float32(score)
			results <- chunk
		}(ch)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	scored := make([]retrieval.ScoredChunk, 0, len(chunks))
collect:
	for {
		select {
		case ch, ok := <-results:
			if !ok {
				break collect
			}
			scored = append(scored, ch)
			if earlyReturnAt > 0 && len(scored) >= earlyReturnAt {
				cancel()
				break collect
			}
		case <-timeoutCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Dur("timeout", r.timeout).Int("scored", len(scored)).Msg("rerank timed out, keeping retrieval order")
			return chunks, nil
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(scored) == 0 {
		return chunks, nil
	}

	filtered := make([]retrieval.ScoredChunk, 0, len(scored))
	for _, ch := range scored {
		if float64(ch.Score) >= r.threshold {
			filtered = append(filtered, ch)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})
	return filtered, nil
}

var scoreSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"score": {Type: "number", Description: "Relevance score between 0.0 and 1.0"},
	},
	Required: []string{"score"},
}

func (r *LLMReranker) scoreChunk(ctx context.Context, query string, chunk retrieval.ScoredChunk) (float64, error) {
	prompt := "Rate how useful the following passage from the EcoTech knowledge base is for answering the customer question, on a scale of 0.0 to 1.0.\n" +
		"Question: " + query + "\n" +
		"Passage: " + chunk.Text + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	resp, err := r.gen.Chat(ctx, []engine.Message{
		{Role: engine.RoleUser, Content: prompt},
	}, scoreSchema)
	if err != nil {
		return float64(chunk.Score), err
	}

	score, err := parseScore(resp, chunk.Score)
	if err != nil {
		log.Debug().Err(err).Str("response", resp).Msg("rerank parse failed, keeping retrieval score")
		return float64(chunk.Score), nil
	}
	return score, nil
}

// parseScore extracts {"score": x} from a model response, tolerating
// markdown code fences and surrounding prose. On failure it returns
// originalScore so the chunk is not penalised.
func parseScore(resp string, originalScore float32) (float64, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return float64(originalScore), fmt.Errorf("no JSON object in response")
	}

	var obj struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return float64(originalScore), fmt.Errorf("unmarshal score: %w", err)
	}
	if obj.Score < 0 || obj.Score > 1 {
		return float64(originalScore), fmt.Errorf("score %v out of range", obj.Score)
	}
	return obj.Score, nil
}

// NoOpReranker passes chunks through unchanged.
type NoOpReranker struct{}

func (NoOpReranker) Rerank(_ context.Context, _ string, chunks []retrieval.ScoredChunk) ([]retrieval.ScoredChunk, error) {
	return chunks, nil
}
