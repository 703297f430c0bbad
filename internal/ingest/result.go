package ingest

import (
	"fmt"
)

// Stage names the pipeline step an ingestion failure came from.
type Stage string

const (
	StageExtraction      Stage = "extraction"
	StageUnsupportedType Stage = "unsupported_type"
	StageChunking        Stage = "chunking"
	StageEmbedding       Stage = "embedding"
	StageVectorIndex     Stage = "vector_index"
	StagePersistence     Stage = "persistence"
	StageStatusUpdate    Stage = "status_update"
)

// StageError is a pipeline failure tagged with its stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Stats summarizes a successful ingestion.
type Stats struct {
	TextLength        int `json:"textLength"`
	AvgTokensPerChunk int `json:"avgTokensPerChunk"`
	TotalTokens       int `json:"totalTokens"`
}

// Result is the outcome of ProcessDocument. Pipeline failures are reported
// here rather than as Go errors.
type Result struct {
	Success             bool   `json:"success"`
	DocumentID          string `json:"documentId"`
	ChunksCreated       int    `json:"chunksCreated"`
	EmbeddingsGenerated int    `json:"embeddingsGenerated"`
	// Skipped is set when the document was already processed and nothing ran.
	Skipped bool `json:"skipped,omitempty"`
	// InProgress is set when another run holds the document; this call did nothing.
	InProgress bool   `json:"inProgress,omitempty"`
	Stage      Stage  `json:"stage,omitempty"`
	Error      string `json:"error,omitempty"`
	Stats      *Stats `json:"stats,omitempty"`
}
