// Package retrieval stores chunk vectors in a nearest-neighbor index and
// assembles grounding context for chat queries.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrIndex wraps failures reported by a vector index backend.
var ErrIndex = errors.New("vector index")

// Index is a nearest-neighbor store of chunk vectors keyed by embedding id.
type Index interface {
	// Upsert inserts or replaces records by id.
	Upsert(ctx context.Context, records []Record) error
	// Query returns up to topK matches ordered by descending similarity.
	Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]Match, error)
	// DeleteMany removes records by id. Unknown ids are ignored.
	DeleteMany(ctx context.Context, ids []string) error
}

// Metadata is the denormalized copy of chunk and document fields stored with
// each vector, so retrieval can degrade gracefully when the relational join misses.
type Metadata struct {
	DocumentID     string `json:"document_id"`
	DocumentTitle  string `json:"document_title"`
	DocumentType   string `json:"document_type"`
	ChunkIndex     int    `json:"chunk_index"`
	TotalChunks    int    `json:"total_chunks"`
	IsDownloadable bool   `json:"is_downloadable"`
	DownloadURL    string `json:"download_url,omitempty"`
	ContentPreview string `json:"content_preview"`
}

// Record is one vector to store.
type Record struct {
	ID       string
	Values   []float32
	Metadata Metadata
}

// Match is one query result. Metadata is nil when not requested or not stored.
type Match struct {
	ID       string
	Score    float32
	Metadata *Metadata
}

// EmbeddingID is the key correlating a chunk row to its vector.
func EmbeddingID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, chunkIndex)
}

// DownloadURL is the public download route for a document.
func DownloadURL(baseURL, documentID string) string {
	return strings.TrimRight(baseURL, "/") + "/api/documents/download/" + documentID
}
