// Package recorder persists and aggregates orchestrator traces. Every
// implementation serialises its appends so traces are written whole and in
// order.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kalambet/ecoreturns/internal/orchestrator"
	"github.com/kalambet/ecoreturns/internal/storage"
)

// InteractionStore persists interactions.
type InteractionStore interface {
	SaveInteraction(ctx context.Context, i storage.Interaction) error
}

// SQLite records traces in the interactions table.
type SQLite struct {
	mu    sync.Mutex
	store InteractionStore
}

// NewSQLite creates a SQLite recorder.
func NewSQLite(store InteractionStore) *SQLite {
	return &SQLite{store: store}
}

func (s *SQLite) Record(ctx context.Context, t orchestrator.Trace) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshalling trace %s: %w", t.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SaveInteraction(ctx, storage.Interaction{
		ID:            t.ID,
		CreatedAt:     t.StartedAt,
		Query:         t.Query,
		Route:         string(t.Route),
		Status:        string(t.Status),
		FailureReason: t.FailureReason,
		Mode:          t.Mode,
		Answer:        t.Answer,
		LatencyMS:     t.LatencyMS,
		TraceJSON:     string(raw),
	})
}

// Entry is one line of the JSONL log.
type Entry struct {
	Timestamp time.Time          `json:"timestamp"`
	Query     string             `json:"query"`
	Status    string             `json:"status"`
	Trace     orchestrator.Trace `json:"trace"`
}

// JSONL appends one JSON object per trace to a writer.
type JSONL struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

// NewJSONL writes to w. The caller owns w.
func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{w: bufio.NewWriter(w)}
}

// OpenJSONL appends to the file at path, creating it and its directory.
func OpenJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening interaction log: %w", err)
	}
	j := NewJSONL(f)
	j.closer = f
	return j, nil
}

func (j *JSONL) Record(_ context.Context, t orchestrator.Trace) error {
	line, err := json.Marshal(Entry{Timestamp: t.StartedAt, Query: t.Query, Status: string(t.Status), Trace: t})
	if err != nil {
		return fmt.Errorf("marshalling trace %s: %w", t.ID, err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.w.Write(line); err != nil {
		return fmt.Errorf("writing interaction log: %w", err)
	}
	return j.w.Flush()
}

// Close flushes and closes the underlying file, if the recorder opened it.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	err := j.w.Flush()
	if j.closer != nil {
		err = errors.Join(err, j.closer.Close())
	}
	return err
}

// Snapshot is a point-in-time copy of the run statistics.
type Snapshot struct {
	TotalInteractions      int            `json:"total_interactions"`
	SuccessfulInteractions int            `json:"successful_interactions"`
	PartialInteractions    int            `json:"partial_interactions"`
	Errors                 int            `json:"errors"`
	ToolsUsed              map[string]int `json:"tools_used"`
	ErrorRate              float64        `json:"error_rate"`
	ModelType              string         `json:"model_type"`
	Since                  time.Time      `json:"since"`
}

// Stats aggregates traces in memory.
type Stats struct {
	mu    sync.Mutex
	snap  Snapshot
	model string
}

// NewStats creates an empty aggregate. model names the generation mode
// reported alongside the counters.
func NewStats(model string, since time.Time) *Stats {
	return &Stats{model: model, snap: Snapshot{ToolsUsed: map[string]int{}, Since: since.UTC()}}
}

func (s *Stats) Record(_ context.Context, t orchestrator.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.TotalInteractions++
	switch t.Status {
	case orchestrator.StatusSuccess:
		s.snap.SuccessfulInteractions++
	case orchestrator.StatusPartial:
		s.snap.PartialInteractions++
	default:
		s.snap.Errors++
	}
	for _, inv := range t.Invocations {
		s.snap.ToolsUsed[string(inv.Capability)]++
	}
	return nil
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap
	out.ToolsUsed = make(map[string]int, len(s.snap.ToolsUsed))
	for k, v := range s.snap.ToolsUsed {
		out.ToolsUsed[k] = v
	}
	if out.TotalInteractions > 0 {
		out.ErrorRate = float64(out.Errors) / float64(out.TotalInteractions)
	}
	out.ModelType = s.model
	return out
}

// Multi fans a trace out to several recorders in order. Every recorder is
// called; their errors are joined.
type Multi []orchestrator.Recorder

func (m Multi) Record(ctx context.Context, t orchestrator.Trace) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
