package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/omj-erie/omjsite/internal/extract"
	"github.com/omj-erie/omjsite/internal/filestore"
	"github.com/omj-erie/omjsite/internal/retrieval"
	"github.com/omj-erie/omjsite/internal/storage"
)

type mockEmbedder struct {
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
	embedFn  func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return []float32{float32(len(text)%7) + 1, 1, 0.5}, nil
}

// failingIndex wraps a real index and fails DeleteMany or Upsert on demand.
type failingIndex struct {
	retrieval.Index
	mu        sync.Mutex
	deleteErr error
	deleted   [][]string
}

func (f *failingIndex) DeleteMany(ctx context.Context, ids []string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, ids)
	f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Index.DeleteMany(ctx, ids)
}

// stubDocs wraps a real store and replaces individual writes on demand.
type stubDocs struct {
	*storage.Store
	insertChunks  func(ctx context.Context, chunks []storage.Chunk) error
	setStatus     func(ctx context.Context, id, status string) error
	updateContent func(ctx context.Context, id, content, preview string) error
}

func (s *stubDocs) InsertChunks(ctx context.Context, chunks []storage.Chunk) error {
	if s.insertChunks != nil {
		return s.insertChunks(ctx, chunks)
	}
	return s.Store.InsertChunks(ctx, chunks)
}

func (s *stubDocs) SetDocumentStatus(ctx context.Context, id, status string) error {
	if s.setStatus != nil {
		return s.setStatus(ctx, id, status)
	}
	return s.Store.SetDocumentStatus(ctx, id, status)
}

func (s *stubDocs) UpdateDocumentContent(ctx context.Context, id, content, preview string) error {
	if s.updateContent != nil {
		return s.updateContent(ctx, id, content, preview)
	}
	return s.Store.UpdateDocumentContent(ctx, id, content, preview)
}

type env struct {
	store *storage.Store
	index *retrieval.SQLiteIndex
	files *filestore.Local
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	files, err := filestore.NewLocal(filepath.Join(t.TempDir(), "files"), "http://localhost:3001")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return &env{store: st, index: retrieval.NewSQLiteIndex(st.DB()), files: files}
}

// addDocument stores body as a file and creates a processing document row for it.
func (e *env) addDocument(t *testing.T, id, mimeType, body string, downloadable bool) storage.Document {
	t.Helper()
	ctx := context.Background()
	path := "documents/" + id + ".bin"
	if err := e.files.Upload(ctx, path, []byte(body), mimeType); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	doc := storage.Document{
		ID:             id,
		Title:          "Doc " + id,
		Filename:       id + ".txt",
		MimeType:       mimeType,
		Type:           "guide",
		FileSize:       int64(len(body)),
		IsDownloadable: downloadable,
		StoragePath:    path,
		PublicURL:      e.files.PublicURL(path),
		Metadata:       map[string]any{"mime_type": mimeType, "uploaded_by": "admin"},
	}
	if err := e.store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc
}

func (e *env) orchestrator(emb *mockEmbedder, idx retrieval.Index, ext extract.Extractor) *Orchestrator {
	if idx == nil {
		idx = e.index
	}
	if ext == nil {
		ext = extract.NewLocal()
	}
	cfg := DefaultConfig()
	cfg.BatchDelay = 0
	return NewOrchestrator(e.store, e.files, ext, emb, idx, cfg, nil)
}

func (e *env) orchestratorWith(docs DocumentStore, emb *mockEmbedder) *Orchestrator {
	cfg := DefaultConfig()
	cfg.BatchDelay = 0
	return NewOrchestrator(docs, e.files, extract.NewLocal(), emb, e.index, cfg, nil)
}

func (e *env) vectorCount(t *testing.T) int {
	t.Helper()
	n, err := e.index.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func longText(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		b.WriteString("The Erie County job center offers resume reviews and mock interviews every week. ")
	}
	return b.String()
}

var errBoom = errors.New("boom")
