package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

var _ Index = (*PineconeIndex)(nil)

const (
	pineconeAPIVersion = "2025-01"
	// pineconeDeleteBatch is the most ids Pinecone accepts in one delete call.
	pineconeDeleteBatch = 1000
)

// PineconeConfig points at one Pinecone index data-plane host.
type PineconeConfig struct {
	Host      string
	APIKey    string
	Namespace string
	Timeout   time.Duration
}

// PineconeIndex talks to the Pinecone data-plane REST API.
type PineconeIndex struct {
	rest      restClient
	namespace string
}

func NewPineconeIndex(cfg PineconeConfig) *PineconeIndex {
	return &PineconeIndex{
		rest: newRESTClient(cfg.Host, cfg.Timeout, map[string]string{
			"Api-Key":                cfg.APIKey,
			"X-Pinecone-API-Version": pineconeAPIVersion,
		}),
		namespace: cfg.Namespace,
	}
}

type pineconeVector struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata"`
}

func (p *PineconeIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	vectors := make([]pineconeVector, len(records))
	for i, r := range records {
		vectors[i] = pineconeVector{ID: r.ID, Values: r.Values, Metadata: r.Metadata}
	}
	body := struct {
		Vectors   []pineconeVector `json:"vectors"`
		Namespace string           `json:"namespace,omitempty"`
	}{vectors, p.namespace}
	if _, err := p.rest.do(ctx, http.MethodPost, "/vectors/upsert", body, nil); err != nil {
		return fmt.Errorf("upserting %d vectors: %w", len(records), err)
	}
	return nil
}

type pineconeQuery struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
	IncludeValues   bool      `json:"includeValues"`
	Namespace       string    `json:"namespace,omitempty"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string    `json:"id"`
		Score    float32   `json:"score"`
		Metadata *Metadata `json:"metadata"`
	} `json:"matches"`
}

func (p *PineconeIndex) Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]Match, error) {
	var resp pineconeQueryResponse
	req := pineconeQuery{Vector: vector, TopK: topK, IncludeMetadata: includeMetadata, Namespace: p.namespace}
	if _, err := p.rest.do(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	matches := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		match := Match{ID: m.ID, Score: m.Score}
		if includeMetadata {
			match.Metadata = m.Metadata
		}
		matches = append(matches, match)
	}
	sortMatches(matches)
	return matches, nil
}

func (p *PineconeIndex) DeleteMany(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += pineconeDeleteBatch {
		batch := ids[start:min(start+pineconeDeleteBatch, len(ids))]
		body := struct {
			IDs       []string `json:"ids"`
			Namespace string   `json:"namespace,omitempty"`
		}{batch, p.namespace}
		if _, err := p.rest.do(ctx, http.MethodPost, "/vectors/delete", body, nil); err != nil {
			return fmt.Errorf("deleting vectors %d-%d of %d: %w", start, start+len(batch)-1, len(ids), err)
		}
	}
	return nil
}
