package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPineconeIndex(t *testing.T) {
	var upserted, deleted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pc-key", r.Header.Get("Api-Key"))
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/vectors/upsert":
			json.Unmarshal(body, &upserted)
			w.Write([]byte(`{"upsertedCount":1}`))
		case "/query":
			w.Write([]byte(`{"matches":[
				{"id":"d_chunk_1","score":0.61,"metadata":{"document_id":"d","document_title":"Guide"}},
				{"id":"d_chunk_0","score":0.83,"metadata":{"document_id":"d","is_downloadable":true}}
			]}`))
		case "/vectors/delete":
			json.Unmarshal(body, &deleted)
			w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	idx := NewPineconeIndex(PineconeConfig{Host: srv.URL, APIKey: "pc-key", Namespace: "omj"})
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Record{{ID: "d_chunk_0", Values: []float32{1, 2}, Metadata: Metadata{DocumentID: "d"}}}))
	assert.Equal(t, "omj", upserted["namespace"])
	vectors := upserted["vectors"].([]any)
	require.Len(t, vectors, 1)
	assert.Equal(t, "d_chunk_0", vectors[0].(map[string]any)["id"])

	matches, err := idx.Query(ctx, []float32{1, 2}, 5, true)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "d_chunk_0", matches[0].ID, "matches sorted by score")
	assert.True(t, matches[0].Metadata.IsDownloadable)

	require.NoError(t, idx.DeleteMany(ctx, []string{"d_chunk_0", "d_chunk_1"}))
	assert.Len(t, deleted["ids"], 2)
}

func TestPineconeIndexDeleteManyBatches(t *testing.T) {
	var batches []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []string `json:"ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		batches = append(batches, len(body.IDs))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ids := make([]string, 2500)
	for i := range ids {
		ids[i] = EmbeddingID("big", i)
	}
	require.NoError(t, NewPineconeIndex(PineconeConfig{Host: srv.URL}).DeleteMany(context.Background(), ids))
	assert.Equal(t, []int{1000, 1000, 500}, batches)
}

func TestPineconeIndexDeleteManyEmpty(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	require.NoError(t, NewPineconeIndex(PineconeConfig{Host: srv.URL}).DeleteMany(context.Background(), nil))
	assert.False(t, called)
}

func TestPineconeIndexErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewPineconeIndex(PineconeConfig{Host: srv.URL}).Query(context.Background(), []float32{1}, 5, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndex))
	assert.Contains(t, err.Error(), "401")
}

func TestQdrantIndex(t *testing.T) {
	var upsertBody struct {
		Points []qdrantPoint `json:"points"`
	}
	var deleteBody struct {
		Points []string `json:"points"`
	}
	created := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "qd-key", r.Header.Get("api-key"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/omj-documents":
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/omj-documents":
			created = true
			w.Write([]byte(`{"result":true}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/omj-documents/points":
			json.NewDecoder(r.Body).Decode(&upsertBody)
			w.Write([]byte(`{"result":{"status":"completed"}}`))
		case r.URL.Path == "/collections/omj-documents/points/search":
			json.NewEncoder(w).Encode(map[string]any{"result": []map[string]any{{
				"id":      PointID("d_chunk_3"),
				"score":   0.72,
				"payload": map[string]any{"embedding_id": "d_chunk_3", "document_title": "Youth Programs"},
			}}})
		case r.URL.Path == "/collections/omj-documents/points/delete":
			json.NewDecoder(r.Body).Decode(&deleteBody)
			w.Write([]byte(`{"result":{"status":"completed"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	idx := NewQdrantIndex(QdrantConfig{URL: srv.URL, APIKey: "qd-key", Collection: "omj-documents"})
	ctx := context.Background()

	require.NoError(t, idx.EnsureCollection(ctx, 1536))
	assert.True(t, created)

	require.NoError(t, idx.Upsert(ctx, []Record{{ID: "d_chunk_3", Values: []float32{0.1}}}))
	require.Len(t, upsertBody.Points, 1)
	assert.Equal(t, PointID("d_chunk_3"), upsertBody.Points[0].ID)
	assert.Equal(t, "d_chunk_3", upsertBody.Points[0].Payload.EmbeddingID)

	matches, err := idx.Query(ctx, []float32{0.1}, 5, true)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "d_chunk_3", matches[0].ID)
	assert.Equal(t, "Youth Programs", matches[0].Metadata.DocumentTitle)

	require.NoError(t, idx.DeleteMany(ctx, []string{"d_chunk_3"}))
	assert.Equal(t, []string{PointID("d_chunk_3")}, deleteBody.Points)
}

func TestPointIDIsDeterministic(t *testing.T) {
	assert.Equal(t, PointID("doc_chunk_0"), PointID("doc_chunk_0"))
	assert.NotEqual(t, PointID("doc_chunk_0"), PointID("doc_chunk_1"))
	assert.Len(t, PointID("doc_chunk_0"), 36)
}

func TestIDHelpers(t *testing.T) {
	assert.Equal(t, "abc_chunk_7", EmbeddingID("abc", 7))
	assert.Equal(t, "https://omj.example/api/documents/download/abc", DownloadURL("https://omj.example/", "abc"))
}
