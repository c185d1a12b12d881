// Package answer produces answers grounded in retrieved knowledge chunks.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kalambet/ecoreturns/internal/composer"
	"github.com/kalambet/ecoreturns/internal/engine"
	"github.com/kalambet/ecoreturns/internal/retrieval"
)

// Mode says how the answer text was produced.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeGenerated Mode = "generated"
)

// SimulatedPrefix opens every answer assembled from verbatim chunks.
const SimulatedPrefix = "Según nuestras políticas:\n\n"

// NoContextText is returned when nothing could be retrieved.
const NoContextText = "No encontré información relevante en nuestra base de conocimiento para responder tu consulta. " +
	"Puedes escribir a soporte@ecotech.com o llamar al +1-800-ECO-TECH."

const (
	defaultTopK         = 4
	defaultAnswerChunks = 2
	defaultTimeout      = 20 * time.Second
)

// Answer is a grounded answer with the chunks it was built from.
type Answer struct {
	Text       string                  `json:"text"`
	Supporting []retrieval.ScoredChunk `json:"supporting"`
	Mode       Mode                    `json:"mode"`
	Degraded   bool                    `json:"degraded,omitempty"`
}

// Searcher is the retrieval capability.
type Searcher interface {
	SearchKinds(ctx context.Context, query string, k int, kinds ...string) ([]retrieval.ScoredChunk, error)
}

// Reranker reorders retrieved chunks before they are answered from.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []retrieval.ScoredChunk) ([]retrieval.ScoredChunk, error)
}

// Options tunes an Answerer. Zero values pick defaults.
type Options struct {
	TopK             int
	AnswerChunks     int
	Timeout          time.Duration
	MaxContextTokens int
	Reranker         Reranker
}

// Answerer retrieves supporting chunks and phrases an answer from them,
// through the generator when one is configured.
type Answerer struct {
	search   Searcher
	gen      engine.Generator
	composer *composer.Composer
	rerank   Reranker
	topK     int
	chunks   int
	timeout  time.Duration
}

// New creates an Answerer. gen may be nil, in which case every answer is
// simulated.
func New(search Searcher, gen engine.Generator, opts Options) *Answerer {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.AnswerChunks <= 0 {
		opts.AnswerChunks = defaultAnswerChunks
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Answerer{
		search:   search,
		gen:      gen,
		composer: composer.New(opts.MaxContextTokens),
		rerank:   opts.Reranker,
		topK:     opts.TopK,
		chunks:   opts.AnswerChunks,
		timeout:  opts.Timeout,
	}
}

// Answer answers query from documents of the given kinds (all kinds when
// none are given). Unavailable retrieval yields a degraded answer, not an
// error; errors are returned for cancellation and misconfiguration.
func (a *Answerer) Answer(ctx context.Context, query string, kinds ...string) (Answer, error) {
	chunks, err := a.search.SearchKinds(ctx, query, a.topK, kinds...)
	if err != nil {
		if ctx.Err() != nil {
			return Answer{}, ctx.Err()
		}
		if errors.Is(err, retrieval.ErrRetrievalUnavailable) || errors.Is(err, retrieval.ErrIndexNotBuilt) {
			log.Warn().Err(err).Msg("retrieval unavailable, answering without context")
			return Answer{Text: NoContextText, Mode: ModeSimulated, Degraded: true}, nil
		}
		return Answer{}, fmt.Errorf("retrieving context: %w", err)
	}
	if len(chunks) == 0 {
		return Answer{Text: NoContextText, Mode: ModeSimulated, Degraded: true}, nil
	}

	// Supporting is always the retrieved set; reranking only picks the
	// context the answer is phrased from.
	retrieved := chunks
	if a.rerank != nil {
		reranked, err := a.rerank.Rerank(ctx, query, retrieved)
		switch {
		case ctx.Err() != nil:
			return Answer{}, ctx.Err()
		case err != nil:
			log.Warn().Err(err).Msg("rerank failed, keeping retrieval order")
		case len(reranked) > 0:
			chunks = reranked
		}
	}

	if a.gen != nil {
		text, err := a.generate(ctx, query, chunks)
		if err == nil {
			return Answer{Text: text, Supporting: retrieved, Mode: ModeGenerated}, nil
		}
		if ctx.Err() != nil {
			return Answer{}, ctx.Err()
		}
		log.Warn().Err(err).Str("generator", a.gen.Name()).Msg("generation failed, using simulated answer")
	}
	return Answer{Text: Simulated(chunks, a.chunks), Supporting: retrieved, Mode: ModeSimulated}, nil
}

func (a *Answerer) generate(ctx context.Context, query string, chunks []retrieval.ScoredChunk) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text, err := a.gen.Chat(ctx, a.composer.Compose(query, chunks), nil)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", engine.ErrUnavailable)
	}
	return text, nil
}

// Simulated joins the texts of the first n chunks under SimulatedPrefix.
func Simulated(chunks []retrieval.ScoredChunk, n int) string {
	if n > len(chunks) {
		n = len(chunks)
	}
	texts := make([]string, 0, n)
	for _, c := range chunks[:n] {
		texts = append(texts, c.Text)
	}
	return SimulatedPrefix + strings.Join(texts, "\n\n")
}
