// Package api exposes the public site endpoints (chat, downloads, stored
// files) and the bearer-protected admin endpoints for document management.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/omj-erie/omjsite/internal/chat"
	"github.com/omj-erie/omjsite/internal/filestore"
	"github.com/omj-erie/omjsite/internal/ingest"
	"github.com/omj-erie/omjsite/internal/retrieval"
	"github.com/omj-erie/omjsite/internal/storage"
)

// Retriever assembles grounding context and reports how it got there.
type Retriever interface {
	GetRelevantContext(ctx context.Context, query string) (retrieval.Context, retrieval.Trace)
}

// Chatter answers one chat turn.
type Chatter interface {
	Reply(ctx context.Context, sessionToken, message string) (chat.Reply, error)
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Store     *storage.Store
	Files     filestore.Store
	Processor ingest.Processor
	Cleaner   *ingest.Cleaner
	Retriever Retriever
	Chat      Chatter
	Token     string
	Logger    *slog.Logger
}

// NewRouter builds the full HTTP surface.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))

	r.Get("/health", handleHealth)
	r.Post("/api/chat", handleChat(deps))
	r.Get("/api/chat/history", handleChatHistory(deps))
	r.Get("/api/documents/download/{id}", handleDownload(deps))
	r.Get("/files/*", handleFile(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/api/documents/upload", handleUpload(deps))
		r.Get("/api/documents", handleListDocuments(deps))
		r.Get("/api/documents/{id}", handleGetDocument(deps))
		r.Get("/api/documents/{id}/chunks", handleListChunks(deps))
		r.Delete("/api/documents/{id}", handleDeleteDocument(deps))
		r.Post("/api/documents/process/{id}", handleProcess(deps))
		r.Get("/api/documents/process/{id}", handleProcessStatus(deps))
		r.Get("/api/debug/retrieval", handleDebugRetrieval(deps))
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}
