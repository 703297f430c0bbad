package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDocumentBusy is returned when another caller holds a live claim on a document.
	ErrDocumentBusy = errors.New("document is already being processed")
)

// Document lifecycle states.
const (
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// Document is an uploaded file and its extraction state.
type Document struct {
	ID             string
	Title          string
	Filename       string
	MimeType       string
	Type           string
	FileSize       int64
	IsDownloadable bool
	Status         string
	StoragePath    string
	PublicURL      string
	Content        string
	ContentPreview string
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FailureReason returns the recorded error for a failed document, if any.
func (d Document) FailureReason() string {
	if msg, ok := d.Metadata["error"].(string); ok {
		return msg
	}
	return ""
}

// Chunk is one persisted slice of a document's text, correlated to a vector by EmbeddingID.
type Chunk struct {
	ID          string
	DocumentID  string
	ChunkIndex  int
	Content     string
	EmbeddingID string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// ResolvedChunk is a chunk row joined with its parent document.
// HasDocument is false when the parent row could not be joined.
type ResolvedChunk struct {
	EmbeddingID    string
	DocumentID     string
	ChunkIndex     int
	Content        string
	HasDocument    bool
	DocumentTitle  string
	IsDownloadable bool
	PublicURL      string
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

type ChatSession struct {
	ID        string
	Token     string
	CreatedAt time.Time
}

type ChatMessage struct {
	ID        string
	SessionID string
	Role      string // "user" or "assistant"
	Content   string
	Grounded  bool
	CreatedAt time.Time
}

// AnalyticsEvent is an anonymized record of one chat turn.
type AnalyticsEvent struct {
	ID              string
	SessionID       string
	QueryAnonymized string
	Category        string
	ContextChunks   int
	Grounded        bool
	ResponseTime    time.Duration
	CreatedAt       time.Time
}
