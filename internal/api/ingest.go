package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ecoreturns/internal/ingest"
	"github.com/kalambet/ecoreturns/internal/knowledge"
	"github.com/kalambet/ecoreturns/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB

// IngestRequest is the body of POST /v1/knowledge. Content holds text,
// HTML or base64 file bytes depending on Type.
type IngestRequest struct {
	Source   string `json:"source"`
	Type     string `json:"type"`
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

var ingestKinds = map[string]bool{
	"":                      true,
	knowledge.KindPolicy:    true,
	knowledge.KindProcedure: true,
	knowledge.KindProduct:   true,
	knowledge.KindSupport:   true,
	knowledge.KindIngested:  true,
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Source == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "source is required")
			return
		}
		if req.Content == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}
		if !ingestKinds[req.Kind] {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown kind %q", req.Kind)
			return
		}
		if req.Type == "" && req.Content == "" {
			req.Type = ingest.SourceURL
		}

		docID, jobID, err := ingest.EnqueueIngest(r.Context(), deps.Store, ingest.Payload{
			Kind:     req.Kind,
			Title:    req.Title,
			Source:   req.Source,
			Type:     req.Type,
			Content:  req.Content,
			URL:      req.URL,
			Filename: req.Filename,
		})
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     docID,
			"job_id": jobID,
			"status": "queued",
		})
	}
}

func handleRebuild(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := ingest.EnqueueRebuild(r.Context(), deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue rebuild: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "queued"})
	}
}

// KnowledgeDocView is the listing form of an ingested document.
type KnowledgeDocView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	Length    int       `json:"length"`
	CreatedAt time.Time `json:"created_at"`
	Content   string    `json:"content,omitempty"`
}

func handleListKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListKnowledgeDocs(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list knowledge docs: %v", err)
			return
		}

		views := make([]KnowledgeDocView, len(docs))
		for i, d := range docs {
			views[i] = KnowledgeDocView{
				ID:        d.ID,
				Kind:      d.Kind,
				Title:     d.Title,
				Source:    d.Source,
				Length:    len(d.Content),
				CreatedAt: d.CreatedAt,
			}
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Store.GetKnowledgeDoc(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "knowledge doc not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get knowledge doc: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, KnowledgeDocView{
			ID:        d.ID,
			Kind:      d.Kind,
			Title:     d.Title,
			Source:    d.Source,
			Length:    len(d.Content),
			CreatedAt: d.CreatedAt,
			Content:   d.Content,
		})
	}
}

func handleDeleteKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteKnowledgeDoc(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "knowledge doc not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete knowledge doc: %v", err)
			return
		}

		jobID, err := ingest.EnqueueRebuild(r.Context(), deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleted but failed to enqueue rebuild: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "job_id": jobID})
	}
}

// InteractionView is the API form of a recorded interaction.
type InteractionView struct {
	ID            string          `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	Query         string          `json:"query"`
	Route         string          `json:"route,omitempty"`
	Status        string          `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Mode          string          `json:"mode,omitempty"`
	Answer        string          `json:"answer"`
	LatencyMS     int64           `json:"latency_ms"`
	Trace         json.RawMessage `json:"trace,omitempty"`
}

func interactionView(ix storage.Interaction, withTrace bool) InteractionView {
	v := InteractionView{
		ID:            ix.ID,
		CreatedAt:     ix.CreatedAt,
		Query:         ix.Query,
		Route:         ix.Route,
		Status:        ix.Status,
		FailureReason: ix.FailureReason,
		Mode:          ix.Mode,
		Answer:        ix.Answer,
		LatencyMS:     ix.LatencyMS,
	}
	if withTrace && json.Valid([]byte(ix.TraceJSON)) {
		v.Trace = json.RawMessage(ix.TraceJSON)
	}
	return v
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		status := r.URL.Query().Get("status")

		interactions, err := deps.Store.GetRecentInteractions(r.Context(), limit, status)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}

		views := make([]InteractionView, len(interactions))
		for i, ix := range interactions {
			views[i] = interactionView(ix, false)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		interaction, err := deps.Store.GetInteraction(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, interactionView(interaction, true))
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
