package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ECORETURNS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "ECORETURNS_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ECORETURNS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "ECORETURNS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.pretty", typ: kBool, env: "ECORETURNS_LOG_PRETTY",
		apply:   func(cfg *Config, v any) { cfg.Log.Pretty = v.(bool) },
		extract: func(cfg Config) any { return cfg.Log.Pretty },
	},
	{
		key: "generation.provider", typ: kString, env: "ECORETURNS_GENERATION_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Generation.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Provider },
	},
	{
		key: "generation.timeout", typ: kDuration, env: "ECORETURNS_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "generation.max_context_tokens", typ: kInt, env: "ECORETURNS_GENERATION_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxContextTokens },
	},
	{
		key: "embedding.provider", typ: kString, env: "ECORETURNS_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.dimensions", typ: kInt, env: "ECORETURNS_EMBEDDING_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimensions },
	},
	{
		key: "embedding.timeout", typ: kDuration, env: "ECORETURNS_EMBEDDING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Embedding.Timeout },
	},
	{
		key: "embedding.cache_size", typ: kInt, env: "ECORETURNS_EMBEDDING_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Embedding.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.CacheSize },
	},
	{
		key: "embedding.cache_ttl", typ: kDuration, env: "ECORETURNS_EMBEDDING_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Embedding.CacheTTL },
	},
	{
		key: "ollama.base_url", typ: kString, env: "ECORETURNS_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "ECORETURNS_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "ECORETURNS_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "openai.api_key", typ: kString, env: "ECORETURNS_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "ECORETURNS_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.chat_model", typ: kString, env: "ECORETURNS_OPENAI_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.ChatModel },
	},
	{
		key: "openai.embed_model", typ: kString, env: "ECORETURNS_OPENAI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedModel },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "ECORETURNS_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.chunk_size", typ: kInt, env: "ECORETURNS_RETRIEVAL_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ChunkSize },
	},
	{
		key: "retrieval.chunk_overlap", typ: kInt, env: "ECORETURNS_RETRIEVAL_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ChunkOverlap },
	},
	{
		key: "retrieval.answer_chunks", typ: kInt, env: "ECORETURNS_RETRIEVAL_ANSWER_CHUNKS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.AnswerChunks = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.AnswerChunks },
	},
	{
		key: "retrieval.rerank", typ: kBool, env: "ECORETURNS_RETRIEVAL_RERANK",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Rerank = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.Rerank },
	},
	{
		key: "retrieval.rerank_timeout", typ: kDuration, env: "ECORETURNS_RETRIEVAL_RERANK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankTimeout },
	},
	{
		key: "retrieval.rerank_threshold", typ: kFloat, env: "ECORETURNS_RETRIEVAL_RERANK_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankThreshold },
	},
	{
		key: "router.max_steps", typ: kInt, env: "ECORETURNS_ROUTER_MAX_STEPS",
		apply:   func(cfg *Config, v any) { cfg.Router.MaxSteps = v.(int) },
		extract: func(cfg Config) any { return cfg.Router.MaxSteps },
	},
	{
		key: "router.classifier_enabled", typ: kBool, env: "ECORETURNS_ROUTER_CLASSIFIER_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Router.ClassifierEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Router.ClassifierEnabled },
	},
	{
		key: "catalog.file", typ: kString, env: "ECORETURNS_CATALOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Catalog.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.File },
	},
	{
		key: "policy.file", typ: kString, env: "ECORETURNS_POLICY_FILE",
		apply:   func(cfg *Config, v any) { cfg.Policy.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Policy.File },
	},
	{
		key: "recorder.jsonl_path", typ: kString, env: "ECORETURNS_RECORDER_JSONL_PATH",
		apply:   func(cfg *Config, v any) { cfg.Recorder.JSONLPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Recorder.JSONLPath },
	},
}

// parse converts a raw string into the spec's value type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			log.Warn().Err(err).Str("key", s.key).Str("value", raw).Msg("could not parse config value, using default")
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			log.Warn().Err(err).Str("env", s.env).Str("value", raw).Msg("could not parse environment override, using default")
			continue
		}
		s.apply(cfg, v)
	}
}
