package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/omj-erie/omjsite/internal/chat"
	"github.com/omj-erie/omjsite/internal/filestore"
	"github.com/omj-erie/omjsite/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

type chatRequest struct {
	Message      string `json:"message"`
	SessionToken string `json:"sessionToken"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		reply, err := deps.Chat.Reply(r.Context(), req.SessionToken, req.Message)
		switch {
		case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrEmptySession):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			deps.Logger.Error("chat turn failed", "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "failed to generate a reply")
			return
		}

		writeJSON(w, http.StatusOK, reply)
	}
}

type historyMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// handleChatHistory returns every message of a session, oldest first. Unknown
// tokens get a fresh, empty session.
func handleChatHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.URL.Query().Get("sessionToken"))
		if token == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Missing sessionToken")
			return
		}

		sess, err := deps.Store.GetOrCreateSession(r.Context(), token)
		if err != nil {
			deps.Logger.Error("loading chat session", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load session")
			return
		}
		msgs, err := deps.Store.RecentChatMessages(r.Context(), sess.ID, 0)
		if err != nil {
			deps.Logger.Error("loading chat history", "session_id", sess.ID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history")
			return
		}

		out := make([]historyMessage, len(msgs))
		for i, m := range msgs {
			out[i] = historyMessage{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": out})
	}
}

// handleDownload redirects to the stored file of a downloadable, processed document.
func handleDownload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Store.GetDocument(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "Document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load document: %v", err)
			return
		}

		if !doc.IsDownloadable {
			httpError(w, http.StatusForbidden, "forbidden", "This document is not available for download")
			return
		}
		if doc.Status != storage.StatusProcessed {
			httpError(w, http.StatusTooEarly, "not_ready", "Document is still being processed. Please try again later.")
			return
		}
		if doc.PublicURL == "" {
			httpError(w, http.StatusNotFound, "not_found", "Document file not found")
			return
		}

		if err := deps.Store.RecordDownload(r.Context(), doc.ID); err != nil {
			deps.Logger.Warn("tracking download", "document_id", doc.ID, "error", err)
		}
		http.Redirect(w, r, doc.PublicURL, http.StatusFound)
	}
}

// handleFile serves objects from the file store under /files/.
func handleFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := chi.URLParam(r, "*")

		data, err := deps.Files.Download(r.Context(), p)
		if errors.Is(err, filestore.ErrNotFound) || errors.Is(err, filestore.ErrInvalidPath) {
			httpError(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read file: %v", err)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		http.ServeContent(w, r, path.Base(p), time.Time{}, bytes.NewReader(data))
	}
}
