package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/omj-erie/omjsite/internal/filestore"
	"github.com/omj-erie/omjsite/internal/retrieval"
	"github.com/omj-erie/omjsite/internal/storage"
)

// CleanupStore is what document deletion needs from the relational store.
type CleanupStore interface {
	GetDocument(ctx context.Context, id string) (storage.Document, error)
	ChunkEmbeddingIDs(ctx context.Context, documentID string) ([]string, error)
	DeleteDocument(ctx context.Context, id string) error
}

// Cleaner removes documents along with their vectors and stored file.
type Cleaner struct {
	store  CleanupStore
	index  retrieval.Index
	files  filestore.Store
	logger *slog.Logger
}

func NewCleaner(store CleanupStore, index retrieval.Index, files filestore.Store, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{store: store, index: index, files: files, logger: logger}
}

// DeleteDocumentEmbeddings removes a document's vectors from the index.
// It is best-effort: failures are logged, never returned.
func (c *Cleaner) DeleteDocumentEmbeddings(ctx context.Context, documentID string) {
	log := c.logger.With("document_id", documentID)

	ids, err := c.store.ChunkEmbeddingIDs(ctx, documentID)
	if err != nil {
		log.Error("listing embedding ids for cleanup", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	if err := c.index.DeleteMany(ctx, ids); err != nil {
		log.Error("deleting vectors", "count", len(ids), "error", err)
		return
	}
	log.Info("deleted vectors", "count", len(ids))
}

// DeleteDocument removes vectors first, then the stored file, then the row.
// Chunk rows go with the row by cascade. Only a missing document or a failed
// row delete is returned as an error.
func (c *Cleaner) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	c.DeleteDocumentEmbeddings(ctx, doc.ID)

	if doc.StoragePath != "" {
		if err := c.files.Remove(ctx, doc.StoragePath); err != nil {
			c.logger.Warn("removing stored file", "document_id", doc.ID, "path", doc.StoragePath, "error", err)
		}
	}

	if err := c.store.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("deleting document %s: %w", doc.ID, err)
	}
	return nil
}
