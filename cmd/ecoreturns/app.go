package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kalambet/ecoreturns/internal/answer"
	"github.com/kalambet/ecoreturns/internal/catalog"
	"github.com/kalambet/ecoreturns/internal/config"
	"github.com/kalambet/ecoreturns/internal/eligibility"
	"github.com/kalambet/ecoreturns/internal/engine"
	"github.com/kalambet/ecoreturns/internal/faults"
	"github.com/kalambet/ecoreturns/internal/intent"
	"github.com/kalambet/ecoreturns/internal/knowledge"
	"github.com/kalambet/ecoreturns/internal/label"
	"github.com/kalambet/ecoreturns/internal/logx"
	"github.com/kalambet/ecoreturns/internal/orchestrator"
	"github.com/kalambet/ecoreturns/internal/recorder"
	"github.com/kalambet/ecoreturns/internal/reranking"
	"github.com/kalambet/ecoreturns/internal/retrieval"
	"github.com/kalambet/ecoreturns/internal/storage"
)

// loadConfig reads the config file named by --config, or the default one.
// The flag is exported through ECORETURNS_CONFIG so config set and unset
// write to the same file.
func loadConfig() (config.Config, error) {
	if configPath != "" {
		os.Setenv(config.EnvConfigPath, configPath)
	}
	return config.Load()
}

// initLogging merges the LOG_* environment with the config file settings.
func initLogging(cfg config.Config) {
	lc, err := logx.FromEnv()
	if err != nil {
		logx.Init()
		log.Warn().Err(err).Msg("invalid LOG_* environment, using defaults")
		lc = logx.Config{}
	}
	if cfg.Log.Level != "" {
		lc.Level = cfg.Log.Level
	}
	lc.PrettyFormat = lc.PrettyFormat || cfg.Log.Pretty
	logx.Init(lc)
}

// rulesFromConfig builds the catalog, eligibility engine and label
// generator. They need neither storage nor any model backend.
func rulesFromConfig(cfg config.Config) (*catalog.Store, *eligibility.Engine, *label.Generator, error) {
	cat := catalog.Default()
	if cfg.Catalog.File != "" {
		c, err := catalog.Load(cfg.Catalog.File)
		if err != nil {
			return nil, nil, nil, err
		}
		cat = c
	}

	policy := eligibility.DefaultPolicy()
	if cfg.Policy.File != "" {
		p, err := eligibility.LoadPolicy(cfg.Policy.File)
		if err != nil {
			return nil, nil, nil, err
		}
		policy = p
	}

	rules := eligibility.New(cat, policy)
	return cat, rules, label.New(cat, rules), nil
}

// app is the assembled assistant.
type app struct {
	cfg       config.Config
	store     *storage.Store
	catalog   *catalog.Store
	rules     *eligibility.Engine
	labels    *label.Generator
	retriever *retrieval.Retriever
	knowledge *knowledge.Base
	answerer  *answer.Answerer
	orch      *orchestrator.Orchestrator
	stats     *recorder.Stats
	generator string

	closers []io.Closer
}

// buildApp wires every component from cfg and builds the knowledge index.
// Progress of model pulls is written to progress.
func buildApp(ctx context.Context, cfg config.Config, progress io.Writer) (*app, error) {
	a := &app{cfg: cfg}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var err error
	a.catalog, a.rules, a.labels, err = rulesFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	a.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, a.store)

	gen, emb, err := engine.Select(engine.Options{
		Generation: cfg.Generation.Provider,
		Embedding:  cfg.Embedding.Provider,
		Dimensions: cfg.Embedding.Dimensions,
		Ollama: engine.OllamaOptions{
			BaseURL:    cfg.Ollama.BaseURL,
			ChatModel:  cfg.Ollama.ChatModel,
			EmbedModel: cfg.Ollama.EmbedModel,
		},
		OpenAI: engine.OpenAIOptions{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			ChatModel:  cfg.OpenAI.ChatModel,
			EmbedModel: cfg.OpenAI.EmbedModel,
		},
	})
	if err != nil {
		return nil, err
	}
	ensureOllama(ctx, cfg, progress)

	a.generator = "simulated"
	if gen != nil {
		a.generator = gen.Name()
	}

	embedder := retrieval.NewEmbedder(emb, retrieval.EmbedderOptions{
		Timeout:   cfg.Embedding.Timeout,
		CacheSize: cfg.Embedding.CacheSize,
		CacheTTL:  cfg.Embedding.CacheTTL,
	})
	a.retriever, err = retrieval.NewRetriever(embedder,
		retrieval.WithChunker(retrieval.Chunker{Size: cfg.Retrieval.ChunkSize, Overlap: cfg.Retrieval.ChunkOverlap}),
		retrieval.WithVectorCache(retrieval.NewSQLiteStore(a.store.DB())),
	)
	if err != nil {
		return nil, err
	}

	a.knowledge = knowledge.New(a.store, a.retriever)
	st, err := a.knowledge.Rebuild(ctx)
	switch {
	case faults.IsConfig(err):
		return nil, err
	case err != nil:
		log.Warn().Err(err).Msg("knowledge index unavailable, answers will be degraded")
	default:
		log.Info().Int("documents", st.Documents).Int("chunks", st.Chunks).
			Str("embedder", st.Embedder).Bool("cached", st.Cached).Msg("knowledge index ready")
	}

	var rr answer.Reranker
	if cfg.Retrieval.Rerank {
		if gen == nil {
			log.Warn().Msg("retrieval.rerank needs a generation provider, keeping retrieval order")
		} else {
			rr = reranking.New(gen, reranking.Options{
				Timeout:   cfg.Retrieval.RerankTimeout,
				Threshold: cfg.Retrieval.RerankThreshold,
				TopK:      cfg.Retrieval.TopK,
			})
		}
	}

	a.answerer = answer.New(a.retriever, gen, answer.Options{
		TopK:             cfg.Retrieval.TopK,
		AnswerChunks:     cfg.Retrieval.AnswerChunks,
		Timeout:          cfg.Generation.Timeout,
		MaxContextTokens: cfg.Generation.MaxContextTokens,
		Reranker:         rr,
	})

	var planner orchestrator.Planner = orchestrator.KeywordPlanner{}
	if cfg.Router.ClassifierEnabled {
		if gen == nil {
			log.Warn().Msg("router.classifier_enabled needs a generation provider, using keyword routing")
		} else {
			planner = orchestrator.NewLLMPlanner(intent.NewExtractor(gen, orchestrator.CapabilityNames(), 0))
		}
	}

	a.stats = recorder.NewStats(a.generator, time.Now())
	rec := recorder.Multi{recorder.NewSQLite(a.store), a.stats}
	if cfg.Recorder.JSONLPath != "" {
		j, err := recorder.OpenJSONL(cfg.Recorder.JSONLPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, j)
		rec = append(rec, j)
	}

	a.orch, err = orchestrator.New(orchestrator.Dependencies{
		Rules:    a.rules,
		Labels:   a.labels,
		Answerer: a.answerer,
		Planner:  planner,
		Recorder: rec,
		Metrics:  orchestrator.DefaultMetrics(),
		MaxSteps: cfg.Router.MaxSteps,
	})
	if err != nil {
		return nil, err
	}
	ready = true
	return a, nil
}

// ensureOllama checks a self-hosted backend and pulls missing models. A
// failure only degrades the assistant, so it is logged rather than returned.
func ensureOllama(ctx context.Context, cfg config.Config, progress io.Writer) {
	var models []string
	if cfg.Generation.Provider == config.ProviderOllama {
		models = append(models, cfg.Ollama.ChatModel)
	}
	if cfg.Embedding.Provider == config.ProviderOllama {
		models = append(models, cfg.Ollama.EmbedModel)
	}
	if len(models) == 0 {
		return
	}
	m := engine.NewOllama(engine.OllamaOptions{BaseURL: cfg.Ollama.BaseURL})
	if err := engine.EnsureReady(ctx, m, models, progress); err != nil {
		log.Warn().Err(err).Str("base_url", cfg.Ollama.BaseURL).Msg("ollama not ready")
	}
}

// Close releases storage and log files in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
