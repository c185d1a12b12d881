// Package config loads the assistant configuration from the YAML config
// file and ECORETURNS_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
	Generation GenerationConfig
	Embedding  EmbeddingConfig
	Ollama     OllamaConfig
	OpenAI     OpenAIConfig
	Retrieval  RetrievalConfig
	Router     RouterConfig
	Catalog    FileConfig
	Policy     FileConfig
	Recorder   RecorderConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type GenerationConfig struct {
	Provider string
	Timeout  time.Duration

	// MaxContextTokens caps the knowledge excerpt sent with a prompt.
	MaxContextTokens int
}

type EmbeddingConfig struct {
	Provider   string
	Dimensions int
	Timeout    time.Duration
	CacheSize  int
	CacheTTL   time.Duration
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type RetrievalConfig struct {
	TopK         int
	ChunkSize    int
	ChunkOverlap int
	AnswerChunks int

	// Rerank re-scores retrieved chunks with the generator before answering.
	Rerank          bool
	RerankTimeout   time.Duration
	RerankThreshold float64
}

type RouterConfig struct {
	MaxSteps          int
	ClassifierEnabled bool
}

// FileConfig points at an optional YAML override file. Empty means the
// built-in data is used.
type FileConfig struct {
	File string
}

type RecorderConfig struct {
	JSONLPath string
}

// Provider names.
const (
	ProviderNone   = "none"
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Generation: GenerationConfig{
			Provider:         ProviderNone,
			Timeout:          20 * time.Second,
			MaxContextTokens: 2000,
		},
		Embedding: EmbeddingConfig{
			Provider:  ProviderHash,
			Timeout:   10 * time.Second,
			CacheSize: 512,
			CacheTTL:  time.Hour,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		OpenAI: OpenAIConfig{
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
		Retrieval: RetrievalConfig{
			TopK:         4,
			ChunkSize:    500,
			ChunkOverlap: 50,
			AnswerChunks: 2,

			RerankTimeout:   5 * time.Second,
			RerankThreshold: 0.3,
		},
		Router: RouterConfig{
			MaxSteps: 3,
		},
	}
}

// Load reads configuration from the YAML file at FilePath, then applies
// environment overrides.
//
// Secrets (server.api_token, openai.api_key) are never read from the file;
// they come from ECORETURNS_SERVER_API_TOKEN and ECORETURNS_OPENAI_API_KEY,
// the latter falling back to OPENAI_API_KEY.
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()))
}

// LoadFile is Load against an explicit config file path.
func LoadFile(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks provider names and the settings they require.
func (c Config) Validate() error {
	switch c.Generation.Provider {
	case ProviderNone, ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("invalid generation.provider %q: want none, ollama or openai", c.Generation.Provider)
	}
	switch c.Embedding.Provider {
	case ProviderHash, ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("invalid embedding.provider %q: want hash, ollama or openai", c.Embedding.Provider)
	}
	if (c.Generation.Provider == ProviderOpenAI || c.Embedding.Provider == ProviderOpenAI) && c.OpenAI.APIKey == "" {
		return fmt.Errorf("missing required config: OpenAI API key. " +
			"Set it via environment variable ECORETURNS_OPENAI_API_KEY or OPENAI_API_KEY")
	}
	if c.Retrieval.ChunkSize <= 0 || c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("invalid retrieval chunking: size=%d overlap=%d", c.Retrieval.ChunkSize, c.Retrieval.ChunkOverlap)
	}
	if c.Retrieval.RerankThreshold < 0 || c.Retrieval.RerankThreshold > 1 {
		return fmt.Errorf("retrieval.rerank_threshold must be within [0, 1], got %v", c.Retrieval.RerankThreshold)
	}
	if c.Router.MaxSteps <= 0 {
		return fmt.Errorf("router.max_steps must be positive, got %d", c.Router.MaxSteps)
	}
	return nil
}
