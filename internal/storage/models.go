package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one recorded query with its serialized trace.
type Interaction struct {
	ID            string
	CreatedAt     time.Time
	Query         string
	Route         string
	Status        string // "success", "partial", "failure"
	FailureReason string
	Mode          string // "deterministic", "simulated", "generated"
	Answer        string
	LatencyMS     int64
	TraceJSON     string
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// KnowledgeDoc is a document added to the knowledge base at runtime.
type KnowledgeDoc struct {
	ID        string
	Kind      string
	Title     string
	Content   string
	Source    string
	CreatedAt time.Time
}
