package engine

import "testing"

func TestSelect_Defaults(t *testing.T) {
	gen, emb, err := Select(Options{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if gen != nil {
		t.Errorf("expected no generator by default, got %s", gen.Name())
	}
	if _, ok := emb.(*HashEmbedder); !ok {
		t.Errorf("expected hash embedder, got %T", emb)
	}
}

func TestSelect_SharesOllamaBackend(t *testing.T) {
	gen, emb, err := Select(Options{
		Generation: ProviderOllama,
		Embedding:  ProviderOllama,
		Dimensions: 768,
		Ollama:     OllamaOptions{BaseURL: "http://localhost:11434", ChatModel: "llama3.2", EmbedModel: "nomic-embed-text"},
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if gen.(*Ollama) != emb.(*Ollama) {
		t.Error("expected a single Ollama backend for both roles")
	}
	if emb.Dimensions() != 768 {
		t.Errorf("Dimensions() = %d, want 768", emb.Dimensions())
	}
}

func TestSelect_Errors(t *testing.T) {
	if _, _, err := Select(Options{Generation: "mlx"}); err == nil {
		t.Error("expected error for unknown generation provider")
	}
	if _, _, err := Select(Options{Embedding: "word2vec"}); err == nil {
		t.Error("expected error for unknown embedding provider")
	}
	if _, _, err := Select(Options{Generation: ProviderOpenAI}); err == nil {
		t.Error("expected error for openai without api key")
	}
}
