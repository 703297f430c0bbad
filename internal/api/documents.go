package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/omj-erie/omjsite/internal/chunker"
	"github.com/omj-erie/omjsite/internal/extract"
	"github.com/omj-erie/omjsite/internal/ingest"
	"github.com/omj-erie/omjsite/internal/storage"
)

const maxUploadSize = 10 << 20 // 10MB

// UploadedBy is recorded in document metadata for uploads through the admin API.
const UploadedBy = "admin"

const (
	uploadPlaceholder = "Processing..."
	uploadPreview     = "Document uploaded successfully. Processing pending."
)

var allowedUploadTypes = map[string]bool{
	extract.MimePDF:      true,
	extract.MimeDOC:      true,
	extract.MimeDOCX:     true,
	extract.MimeJPEG:     true,
	extract.MimePNG:      true,
	extract.MimeWebP:     true,
	extract.MimePlain:    true,
	extract.MimeMarkdown: true,
	extract.MimeHTML:     true,
}

type documentView struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Filename       string         `json:"filename"`
	MimeType       string         `json:"mime_type"`
	Type           string         `json:"type"`
	FileSize       int64          `json:"file_size"`
	IsDownloadable bool           `json:"is_downloadable"`
	Status         string         `json:"status"`
	StoragePath    string         `json:"storage_path"`
	PublicURL      string         `json:"public_url"`
	Content        string         `json:"content,omitempty"`
	ContentPreview string         `json:"content_preview"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func newDocumentView(d storage.Document) documentView {
	return documentView{
		ID:             d.ID,
		Title:          d.Title,
		Filename:       d.Filename,
		MimeType:       d.MimeType,
		Type:           d.Type,
		FileSize:       d.FileSize,
		IsDownloadable: d.IsDownloadable,
		Status:         d.Status,
		StoragePath:    d.StoragePath,
		PublicURL:      d.PublicURL,
		Content:        d.Content,
		ContentPreview: d.ContentPreview,
		Metadata:       d.Metadata,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// handleUpload stores a multipart upload, creates its document row in the
// processing state and queues ingestion.
func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "No file provided")
			return
		}
		defer file.Close()

		title := strings.TrimSpace(r.FormValue("title"))
		if title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Document title is required")
			return
		}

		mimeType, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
		if err != nil || !allowedUploadTypes[mimeType] {
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"Invalid file type. Allowed types: PDF, Word documents, text, HTML, Images (JPG, PNG, WebP)")
			return
		}
		if header.Size > maxUploadSize {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "File too large. Maximum size is 10MB")
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}

		ext := strings.TrimPrefix(filepath.Ext(header.Filename), ".")
		if ext == "" {
			ext = "bin"
		}
		storagePath := "documents/" + uuid.NewString() + "." + strings.ToLower(ext)

		ctx := r.Context()
		if err := deps.Files.Upload(ctx, storagePath, data, mimeType); err != nil {
			deps.Logger.Error("storing upload", "path", storagePath, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "Failed to upload file to storage")
			return
		}

		docType := strings.TrimSpace(r.FormValue("type"))
		if docType == "" {
			docType = "general"
		}
		doc := storage.Document{
			ID:             uuid.NewString(),
			Title:          title,
			Filename:       header.Filename,
			MimeType:       mimeType,
			Type:           docType,
			FileSize:       int64(len(data)),
			IsDownloadable: r.FormValue("isDownloadable") == "true",
			Status:         storage.StatusProcessing,
			StoragePath:    storagePath,
			PublicURL:      deps.Files.PublicURL(storagePath),
			Content:        uploadPlaceholder,
			ContentPreview: uploadPreview,
			Metadata: map[string]any{
				"original_filename": header.Filename,
				"mime_type":         mimeType,
				"uploaded_by":       UploadedBy,
				"uploaded_at":       time.Now().UTC().Format(time.RFC3339),
			},
		}
		if err := deps.Store.CreateDocument(ctx, doc); err != nil {
			deps.Logger.Error("creating document record", "error", err)
			if rmErr := deps.Files.Remove(ctx, storagePath); rmErr != nil {
				deps.Logger.Warn("removing orphaned upload", "path", storagePath, "error", rmErr)
			}
			httpError(w, http.StatusInternalServerError, "api_error", "Failed to create document record")
			return
		}

		// A queueing failure leaves the document in processing; it can be
		// reprocessed explicitly or will be failed by the reconciler.
		if _, err := ingest.Enqueue(deps.Store, doc.ID); err != nil {
			deps.Logger.Error("queueing document processing", "document_id", doc.ID, "error", err)
		}

		created, err := deps.Store.GetDocument(ctx, doc.ID)
		if err != nil {
			created = doc
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"document": newDocumentView(created),
			"message":  "Document uploaded successfully. Processing started in background.",
		})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := deps.Store.ListDocuments(r.Context(), limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		views := make([]documentView, 0, len(docs))
		for _, d := range docs {
			views = append(views, newDocumentView(d))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := loadDocument(w, r, deps)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"document": newDocumentView(doc),
		})
	}
}

type chunkView struct {
	Index       int    `json:"index"`
	EmbeddingID string `json:"embedding_id"`
	Tokens      int    `json:"tokens"`
	Content     string `json:"content"`
}

// handleListChunks returns a document's stored chunks in order.
func handleListChunks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := loadDocument(w, r, deps)
		if !ok {
			return
		}
		chunks, err := deps.Store.ListChunks(r.Context(), doc.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list chunks: %v", err)
			return
		}
		views := make([]chunkView, len(chunks))
		for i, c := range chunks {
			views[i] = chunkView{
				Index:       c.ChunkIndex,
				EmbeddingID: c.EmbeddingID,
				Tokens:      chunker.EstimateTokens(c.Content),
				Content:     c.Content,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"documentId": doc.ID,
			"chunks":     views,
		})
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Cleaner.DeleteDocument(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "Document not found")
			return
		}
		if err != nil {
			deps.Logger.Error("deleting document", "document_id", id, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "Failed to delete document")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Document deleted successfully",
		})
	}
}

// handleProcess runs ingestion synchronously. ?force=true reprocesses a
// document that is already processed, replacing its chunks and vectors.
func handleProcess(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := loadDocument(w, r, deps)
		if !ok {
			return
		}
		ctx := r.Context()

		if doc.Status == storage.StatusProcessed {
			if r.URL.Query().Get("force") != "true" {
				writeJSON(w, http.StatusOK, map[string]any{
					"success":    true,
					"message":    "Document already processed",
					"documentId": doc.ID,
				})
				return
			}
			if err := deps.Store.SetDocumentStatus(ctx, doc.ID, storage.StatusProcessing); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to reset status: %v", err)
				return
			}
		}

		res := deps.Processor.ProcessDocument(ctx, doc.ID)
		if res.InProgress {
			httpError(w, http.StatusConflict, "conflict_error", "Document is already being processed")
			return
		}
		if !res.Success {
			httpError(w, http.StatusInternalServerError, "processing_error", "%s: %s", res.Stage, res.Error)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Document processed successfully",
			"result":  res,
		})
	}
}

func handleProcessStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := loadDocument(w, r, deps)
		if !ok {
			return
		}

		count, err := deps.Store.CountChunks(r.Context(), doc.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count chunks: %v", err)
			return
		}

		resp := map[string]any{
			"documentId":    doc.ID,
			"status":        doc.Status,
			"chunksCreated": count,
			"createdAt":     doc.CreatedAt,
			"updatedAt":     doc.UpdatedAt,
		}
		if reason := doc.FailureReason(); reason != "" {
			resp["error"] = reason
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleDebugRetrieval runs the retrieval path for ?q= and returns its trace.
func handleDebugRetrieval(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}

		rc, trace := deps.Retriever.GetRelevantContext(r.Context(), q)
		writeJSON(w, http.StatusOK, map[string]any{
			"context":    rc.Text,
			"chunkCount": rc.ChunkCount,
			"trace":      trace,
		})
	}
}

func loadDocument(w http.ResponseWriter, r *http.Request, deps Deps) (storage.Document, bool) {
	id := chi.URLParam(r, "id")
	doc, err := deps.Store.GetDocument(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "Document not found")
		return storage.Document{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to load document: %v", err)
		return storage.Document{}, false
	}
	return doc, true
}
