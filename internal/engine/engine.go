// Package engine provides the text generation and embedding backends the
// assistant can run against: a local Ollama server, an OpenAI-compatible API,
// or a deterministic in-process hashing embedder.
package engine

import (
	"context"

	"github.com/kalambet/ecoreturns/internal/faults"
)

// ErrUnavailable is wrapped by every backend error caused by the remote side
// being unreachable, slow, or returning an unusable response. Callers use it
// to take their degraded path.
var ErrUnavailable = faults.ErrUnavailable

// Generator produces assistant text from a conversation.
type Generator interface {
	// Chat sends messages and returns the assistant's response. When
	// jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, messages []Message, jsonSchema *Schema) (string, error)

	// Name identifies the backend and model, e.g. "ollama/llama3.2".
	Name() string
}

// Embedder maps text to fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions is the declared vector length. Every vector returned by
	// Embed must have exactly this length.
	Dimensions() int

	// Name identifies the backend and model; it is part of the index
	// fingerprint, so two embedders with the same name must agree.
	Name() string
}

// ModelManager is implemented by backends that host their own models.
type ModelManager interface {
	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
