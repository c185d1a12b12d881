// Package ingest runs the background jobs that grow the knowledge base:
// extracting submitted documents and rebuilding the search index.
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kalambet/ecoreturns/internal/extract"
	"github.com/kalambet/ecoreturns/internal/retrieval"
	"github.com/kalambet/ecoreturns/internal/storage"
)

// Job types handled by the Worker.
const (
	JobIngest  = "knowledge_ingest"
	JobRebuild = "index_rebuild"
)

// Payload source types.
const (
	SourceText = "text"
	SourceHTML = "html"
	SourceFile = "file"
	SourceURL  = "url"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// KnowledgeBase stores documents and rebuilds the index over them.
type KnowledgeBase interface {
	Add(ctx context.Context, doc storage.KnowledgeDoc) error
	Rebuild(ctx context.Context) (retrieval.IndexStats, error)
}

// URLFetcher downloads a page and returns its text.
type URLFetcher interface {
	URL(ctx context.Context, url string) (string, error)
}

// Payload describes a document submitted for ingestion. Content is plain
// text, HTML, or base64 file bytes depending on Type.
type Payload struct {
	DocID    string `json:"doc_id"`
	Kind     string `json:"kind,omitempty"`
	Title    string `json:"title,omitempty"`
	Source   string `json:"source"`
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Validate checks the fields a worker needs and fills defaults.
func (p *Payload) Validate() error {
	if p.Type == "" {
		p.Type = SourceText
	}
	switch p.Type {
	case SourceText, SourceHTML, SourceFile:
		if p.Content == "" {
			return fmt.Errorf("content is required for type %q", p.Type)
		}
	case SourceURL:
		if p.URL == "" {
			return fmt.Errorf("url is required for type %q", p.Type)
		}
	default:
		return fmt.Errorf("unknown type %q", p.Type)
	}
	if p.Source == "" {
		p.Source = p.Type
	}
	if p.DocID == "" {
		p.DocID = uuid.NewString()
	}
	return nil
}

// EnqueueIngest validates p and queues it. It returns the document id the
// ingested text will be stored under and the job id.
func EnqueueIngest(ctx context.Context, q JobStore, p Payload) (docID, jobID string, err error) {
	if err := p.Validate(); err != nil {
		return "", "", err
	}
	if p.Type == SourceFile {
		if _, err := base64.StdEncoding.DecodeString(p.Content); err != nil {
			return "", "", fmt.Errorf("invalid base64 content: %w", err)
		}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("marshalling payload: %w", err)
	}
	jobID = uuid.NewString()
	if err := q.EnqueueJob(ctx, storage.Job{ID: jobID, Type: JobIngest, PayloadJSON: string(raw)}); err != nil {
		return "", "", fmt.Errorf("enqueueing ingest job: %w", err)
	}
	return p.DocID, jobID, nil
}

// EnqueueRebuild queues an index rebuild.
func EnqueueRebuild(ctx context.Context, q JobStore) (string, error) {
	jobID := uuid.NewString()
	if err := q.EnqueueJob(ctx, storage.Job{ID: jobID, Type: JobRebuild, PayloadJSON: "{}"}); err != nil {
		return "", fmt.Errorf("enqueueing rebuild job: %w", err)
	}
	return jobID, nil
}

// Worker processes ingest and rebuild jobs from the SQLite job queue.
type Worker struct {
	store JobStore
	kb    KnowledgeBase
	fetch URLFetcher
	poll  time.Duration
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, kb KnowledgeBase, fetch URLFetcher, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store: store,
		kb:    kb,
		fetch: fetch,
		poll:  pollInterval,
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("worker iteration failed")
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobIngest, JobRebuild})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Str("type", job.Type).Msg("job failed")
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			log.Error().Err(failErr).Str("job_id", job.ID).Msg("failed to mark job as failed")
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	if job.Type == JobIngest {
		var p Payload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		if err := w.ingest(ctx, p); err != nil {
			return err
		}
	}

	stats, err := w.kb.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	log.Info().Str("job_id", job.ID).Int("documents", stats.Documents).Int("chunks", stats.Chunks).
		Bool("reused", stats.Reused).Msg("knowledge index rebuilt")
	return nil
}

func (w *Worker) ingest(ctx context.Context, p Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}

	var (
		text string
		err  error
	)
	switch p.Type {
	case SourceURL:
		if w.fetch == nil {
			return fmt.Errorf("url ingestion is not configured")
		}
		text, err = w.fetch.URL(ctx, p.URL)
		if p.Title == "" {
			p.Title = p.URL
		}
	case SourceFile:
		var data []byte
		data, err = base64.StdEncoding.DecodeString(p.Content)
		if err == nil {
			text, err = extract.Text(extract.Detect(p.Filename, "", data), data)
		}
		if p.Title == "" {
			p.Title = p.Filename
		}
	case SourceHTML:
		text, err = extract.Text(extract.FormatHTML, []byte(p.Content))
	default:
		text, err = extract.Text(extract.FormatText, []byte(p.Content))
	}
	if err != nil {
		return fmt.Errorf("extracting %s document: %w", p.Type, err)
	}

	return w.kb.Add(ctx, storage.KnowledgeDoc{
		ID:        p.DocID,
		Kind:      p.Kind,
		Title:     p.Title,
		Content:   text,
		Source:    p.Source,
		CreatedAt: time.Now().UTC(),
	})
}
