package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/ecoreturns/internal/engine"
	"github.com/kalambet/ecoreturns/internal/retrieval"
)

const defaultMaxContextTokens = 2000

const systemPrompt = `Eres el asistente de devoluciones de EcoTech. Responde en español, de forma breve,
usando únicamente la información del contexto recuperado. Si el contexto no contiene
la respuesta, dilo claramente y sugiere contactar a soporte@ecotech.com.`

// Composer assembles grounded prompts from retrieved knowledge chunks and the
// customer's question.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (2000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose builds the message list for a grounded answer: a system message
// carrying the instructions and the retrieved context, followed by the user
// question unchanged.
func (c *Composer) Compose(query string, chunks []retrieval.ScoredChunk) []engine.Message {
	system := systemPrompt
	if ctx := c.buildContext(chunks); ctx != "" {
		system += "\n\n" + ctx
	}
	return []engine.Message{
		{Role: engine.RoleSystem, Content: system},
		{Role: engine.RoleUser, Content: query},
	}
}

// Selected returns the chunks that fit the budget, best first.
func (c *Composer) Selected(chunks []retrieval.ScoredChunk) []retrieval.ScoredChunk {
	sorted := make([]retrieval.ScoredChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	remaining := c.MaxContextTokens - EstimateTokens(contextHeader)
	var out []retrieval.ScoredChunk
	for _, ch := range sorted {
		tokens := EstimateTokens(formatChunk(ch))
		if tokens > remaining {
			continue
		}
		out = append(out, ch)
		remaining -= tokens
	}
	return out
}

const contextHeader = "[Contexto recuperado]\n"

// buildContext renders the selected chunks, dropping lowest-scoring chunks
// first once the budget is spent.
func (c *Composer) buildContext(chunks []retrieval.ScoredChunk) string {
	selected := c.Selected(chunks)
	if len(selected) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(contextHeader)
	for _, ch := range selected {
		sb.WriteString(formatChunk(ch))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatChunk(ch retrieval.ScoredChunk) string {
	source := ch.DocID
	if ch.Title != "" {
		source = ch.Title
	}
	return fmt.Sprintf("(Relevancia: %.2f, Fuente: %s)\n%s\n\n", ch.Score, source, ch.Text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
