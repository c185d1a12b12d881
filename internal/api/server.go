// Package api exposes the return assistant over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/kalambet/ecoreturns/internal/orchestrator"
	"github.com/kalambet/ecoreturns/internal/recorder"
	"github.com/kalambet/ecoreturns/internal/retrieval"
	"github.com/kalambet/ecoreturns/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	slowRequest        = 5 * time.Second
)

// QueryProcessor answers free-text customer queries.
type QueryProcessor interface {
	ProcessQuery(ctx context.Context, text string) (orchestrator.Result, error)
}

// StatsReporter reports run statistics.
type StatsReporter interface {
	Snapshot() recorder.Snapshot
}

// IndexReporter reports the state of the knowledge index.
type IndexReporter interface {
	Stats() (retrieval.IndexStats, bool)
}

// Deps wires the HTTP handler. Queries and Store are required.
type Deps struct {
	Queries  QueryProcessor
	Store    *storage.Store
	Stats    StatsReporter       // optional
	Index    IndexReporter       // optional
	Gatherer prometheus.Gatherer // optional; defaults to the global registry
	Token    string
	Timeout  time.Duration // per-query bound; zero means none
}

// NewHandler returns the REST API. /health and /metrics are public; every
// other route requires the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(AccessLog(slowRequest))

	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/query", handleQuery(deps))
		r.Get("/v1/stats", handleStats(deps))
		r.Get("/v1/interactions", handleListInteractions(deps))
		r.Get("/v1/interactions/{id}", handleGetInteraction(deps))
		r.Post("/v1/knowledge", handleIngest(deps))
		r.Get("/v1/knowledge", handleListKnowledge(deps))
		r.Get("/v1/knowledge/{id}", handleGetKnowledge(deps))
		r.Delete("/v1/knowledge/{id}", handleDeleteKnowledge(deps))
		r.Post("/v1/knowledge/rebuild", handleRebuild(deps))
	})

	return r
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Query string `json:"query"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if deps.Index != nil {
			if st, ok := deps.Index.Stats(); ok {
				body["index"] = st
			} else {
				body["index"] = nil
			}
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		ctx := r.Context()
		if deps.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, deps.Timeout)
			defer cancel()
		}

		res, err := deps.Queries.ProcessQuery(ctx, req.Query)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			httpError(w, http.StatusGatewayTimeout, "timeout_error", "query timed out")
			return
		case errors.Is(err, context.Canceled):
			log.Debug().Msg("query cancelled by client")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "processing query: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Session  *recorder.Snapshot    `json:"session,omitempty"`
	ByStatus map[string]int        `json:"by_status"`
	Index    *retrieval.IndexStats `json:"index,omitempty"`
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.CountInteractionsByStatus(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count interactions: %v", err)
			return
		}
		resp := StatsResponse{ByStatus: counts}
		if deps.Stats != nil {
			snap := deps.Stats.Snapshot()
			resp.Session = &snap
		}
		if deps.Index != nil {
			if st, ok := deps.Index.Stats(); ok {
				resp.Index = &st
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("writing response")
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
