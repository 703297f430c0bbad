package retrieval

import (
	"context"
	"testing"

	"github.com/omj-erie/omjsite/internal/storage"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewSQLiteIndex(st.DB())
}

func TestSQLiteIndex_UpsertAndQuery(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Record{
		{ID: "doc-1_chunk_0", Values: []float32{1, 0, 0}, Metadata: Metadata{DocumentID: "doc-1", DocumentTitle: "Resume Guide"}},
		{ID: "doc-1_chunk_1", Values: []float32{0.8, 0.6, 0}, Metadata: Metadata{DocumentID: "doc-1", ChunkIndex: 1}},
		{ID: "doc-2_chunk_0", Values: []float32{0, 0, 1}, Metadata: Metadata{DocumentID: "doc-2"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 2, true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].ID != "doc-1_chunk_0" || matches[0].Score < 0.99 {
		t.Errorf("top match = %+v", matches[0])
	}
	if matches[1].ID != "doc-1_chunk_1" {
		t.Errorf("second match = %q, want doc-1_chunk_1", matches[1].ID)
	}
	if matches[0].Metadata == nil || matches[0].Metadata.DocumentTitle != "Resume Guide" {
		t.Errorf("metadata = %+v", matches[0].Metadata)
	}
}

func TestSQLiteIndex_QueryWithoutMetadata(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	idx.Upsert(ctx, []Record{{ID: "a", Values: []float32{1, 1}}})

	matches, err := idx.Query(ctx, []float32{1, 1}, 5, false)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].Metadata != nil {
		t.Errorf("matches = %+v", matches)
	}
}

func TestSQLiteIndex_UpsertReplaces(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	idx.Upsert(ctx, []Record{{ID: "a", Values: []float32{1, 0}, Metadata: Metadata{DocumentTitle: "old"}}})
	if err := idx.Upsert(ctx, []Record{{ID: "a", Values: []float32{0, 1}, Metadata: Metadata{DocumentTitle: "new"}}}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	n, _ := idx.Count(ctx)
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	matches, _ := idx.Query(ctx, []float32{0, 1}, 1, true)
	if matches[0].Score < 0.99 || matches[0].Metadata.DocumentTitle != "new" {
		t.Errorf("match = %+v", matches[0])
	}
}

func TestSQLiteIndex_DeleteMany(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	idx.Upsert(ctx, []Record{
		{ID: "a", Values: []float32{1}},
		{ID: "b", Values: []float32{1}},
		{ID: "c", Values: []float32{1}},
	})

	if err := idx.DeleteMany(ctx, []string{"a", "c", "missing"}); err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	if err := idx.DeleteMany(ctx, nil); err != nil {
		t.Fatalf("DeleteMany(nil): %v", err)
	}
	n, _ := idx.Count(ctx)
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestSQLiteIndex_ZeroQueryVector(t *testing.T) {
	idx := openTestIndex(t)
	idx.Upsert(context.Background(), []Record{{ID: "a", Values: []float32{1, 0}}})

	matches, err := idx.Query(context.Background(), []float32{0, 0}, 5, true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("got %d matches for a zero vector", len(matches))
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero b", []float32{1, 0}, []float32{0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosine(tt.a, tt.b, norm(tt.a))
			if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
				t.Errorf("cosine = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestDecodeRejectsCorruptBlob(t *testing.T) {
	if _, err := decodeFloat32sInto(nil, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for 3-byte blob")
	}
	v, err := decodeFloat32sInto(nil, encodeFloat32s([]float32{0.5, -2}))
	if err != nil || len(v) != 2 || v[0] != 0.5 || v[1] != -2 {
		t.Errorf("round trip = %v, %v", v, err)
	}
}
