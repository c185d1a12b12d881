package engine

import "fmt"

// Provider names accepted in configuration.
const (
	ProviderNone   = "none"
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Options selects and configures the generation and embedding backends.
type Options struct {
	Generation string
	Embedding  string
	Dimensions int
	Ollama     OllamaOptions
	OpenAI     OpenAIOptions
}

// Select builds the configured backends. The returned Generator is nil when
// generation is disabled, which puts the assistant in simulated mode.
func Select(opts Options) (Generator, Embedder, error) {
	var (
		ollama *Ollama
		oai    *OpenAI
	)
	ollamaBackend := func() *Ollama {
		if ollama == nil {
			o := opts.Ollama
			o.Dimensions = opts.Dimensions
			ollama = NewOllama(o)
		}
		return ollama
	}
	openaiBackend := func() (*OpenAI, error) {
		if oai == nil {
			o := opts.OpenAI
			o.Dimensions = opts.Dimensions
			b, err := NewOpenAI(o)
			if err != nil {
				return nil, err
			}
			oai = b
		}
		return oai, nil
	}

	var gen Generator
	switch opts.Generation {
	case "", ProviderNone:
	case ProviderOllama:
		gen = ollamaBackend()
	case ProviderOpenAI:
		b, err := openaiBackend()
		if err != nil {
			return nil, nil, err
		}
		gen = b
	default:
		return nil, nil, fmt.Errorf("unknown generation provider %q", opts.Generation)
	}

	var emb Embedder
	switch opts.Embedding {
	case "", ProviderHash:
		emb = NewHashEmbedder(opts.Dimensions)
	case ProviderOllama:
		emb = ollamaBackend()
	case ProviderOpenAI:
		b, err := openaiBackend()
		if err != nil {
			return nil, nil, err
		}
		emb = b
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", opts.Embedding)
	}

	return gen, emb, nil
}
