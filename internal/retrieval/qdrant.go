package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

var _ Index = (*QdrantIndex)(nil)

// QdrantConfig points at one Qdrant collection.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// QdrantIndex talks to the Qdrant REST API. Qdrant point ids must be UUIDs or
// integers, so each embedding id maps to a UUIDv5 and the original id travels
// in the payload.
type QdrantIndex struct {
	rest       restClient
	collection string
}

func NewQdrantIndex(cfg QdrantConfig) *QdrantIndex {
	return &QdrantIndex{
		rest:       newRESTClient(cfg.URL, cfg.Timeout, map[string]string{"api-key": cfg.APIKey}),
		collection: url.PathEscape(cfg.Collection),
	}
}

// PointID is the Qdrant point id for an embedding id.
func PointID(embeddingID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(embeddingID)).String()
}

// EnsureCollection creates the collection with cosine distance when missing.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid vector dimension")
	}
	status, err := q.rest.do(ctx, http.MethodGet, "/collections/"+q.collection, nil, nil)
	if err == nil {
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("checking collection: %w", err)
	}
	body := map[string]any{"vectors": map[string]any{"size": dimension, "distance": "Cosine"}}
	if _, err := q.rest.do(ctx, http.MethodPut, "/collections/"+q.collection, body, nil); err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}
	return nil
}

type qdrantPayload struct {
	EmbeddingID string `json:"embedding_id"`
	Metadata
}

type qdrantPoint struct {
	ID      string        `json:"id"`
	Vector  []float32     `json:"vector"`
	Payload qdrantPayload `json:"payload"`
}

func (q *QdrantIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]qdrantPoint, len(records))
	for i, r := range records {
		points[i] = qdrantPoint{
			ID:      PointID(r.ID),
			Vector:  r.Values,
			Payload: qdrantPayload{EmbeddingID: r.ID, Metadata: r.Metadata},
		}
	}
	path := "/collections/" + q.collection + "/points?wait=true"
	if _, err := q.rest.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("upserting %d points: %w", len(records), err)
	}
	return nil
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      string         `json:"id"`
		Score   float32        `json:"score"`
		Payload *qdrantPayload `json:"payload"`
	} `json:"result"`
}

// Query always fetches the payload, since the embedding id lives there.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]Match, error) {
	req := map[string]any{"vector": vector, "limit": topK, "with_payload": true}
	var resp qdrantSearchResponse
	if _, err := q.rest.do(ctx, http.MethodPost, "/collections/"+q.collection+"/points/search", req, &resp); err != nil {
		return nil, fmt.Errorf("searching points: %w", err)
	}

	matches := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		id := r.ID
		if r.Payload != nil && r.Payload.EmbeddingID != "" {
			id = r.Payload.EmbeddingID
		}
		m := Match{ID: id, Score: r.Score}
		if includeMetadata && r.Payload != nil {
			meta := r.Payload.Metadata
			m.Metadata = &meta
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (q *QdrantIndex) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = PointID(id)
	}
	path := "/collections/" + q.collection + "/points/delete?wait=true"
	if _, err := q.rest.do(ctx, http.MethodPost, path, map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("deleting %d points: %w", len(ids), err)
	}
	return nil
}
