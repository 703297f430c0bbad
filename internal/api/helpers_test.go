package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/omj-erie/omjsite/internal/chat"
	"github.com/omj-erie/omjsite/internal/filestore"
	"github.com/omj-erie/omjsite/internal/ingest"
	"github.com/omj-erie/omjsite/internal/retrieval"
	"github.com/omj-erie/omjsite/internal/storage"
)

const testToken = "test-admin-token"

// --- mocks ---

type mockProcessor struct {
	mu     sync.Mutex
	calls  []string
	result ingest.Result
}

func (m *mockProcessor) ProcessDocument(_ context.Context, id string) ingest.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	res := m.result
	res.DocumentID = id
	return res
}

func (m *mockProcessor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type mockRetriever struct {
	ctx   retrieval.Context
	trace retrieval.Trace
	query string
}

func (m *mockRetriever) GetRelevantContext(_ context.Context, query string) (retrieval.Context, retrieval.Trace) {
	m.query = query
	tr := m.trace
	tr.Query = query
	return m.ctx, tr
}

type mockChatter struct {
	reply chat.Reply
	err   error
}

func (m *mockChatter) Reply(_ context.Context, token, message string) (chat.Reply, error) {
	if m.err != nil {
		return chat.Reply{}, m.err
	}
	r := m.reply
	if r.Message == "" {
		r.Message = "echo: " + message
	}
	return r, nil
}

// --- helpers ---

type testEnv struct {
	deps      Deps
	store     *storage.Store
	files     *filestore.Local
	processor *mockProcessor
	retriever *mockRetriever
	chat      *mockChatter
	handler   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	files, err := filestore.NewLocal(t.TempDir(), "http://site.test")
	if err != nil {
		t.Fatalf("creating file store: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		store:     store,
		files:     files,
		processor: &mockProcessor{result: ingest.Result{Success: true, ChunksCreated: 3, EmbeddingsGenerated: 3}},
		retriever: &mockRetriever{},
		chat:      &mockChatter{},
	}
	env.deps = Deps{
		Store:     store,
		Files:     files,
		Processor: env.processor,
		Cleaner:   ingest.NewCleaner(store, retrieval.NewSQLiteIndex(store.DB()), files, logger),
		Retriever: env.retriever,
		Chat:      env.chat,
		Token:     testToken,
		Logger:    logger,
	}
	env.handler = NewRouter(env.deps)
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) admin(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	return e.do(t, req)
}

func (e *testEnv) createDoc(t *testing.T, d storage.Document) storage.Document {
	t.Helper()
	if d.Title == "" {
		d.Title = "Doc " + d.ID
	}
	if err := e.store.CreateDocument(context.Background(), d); err != nil {
		t.Fatalf("CreateDocument(%s): %v", d.ID, err)
	}
	return d
}

func errorMessage(t *testing.T, body string) string {
	t.Helper()
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		t.Fatalf("decoding error body %q: %v", body, err)
	}
	return env.Error.Message
}
