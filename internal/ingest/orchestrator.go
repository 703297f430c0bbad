// Package ingest turns uploaded documents into searchable chunks and vectors,
// and removes them again.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/omj-erie/omjsite/internal/chunker"
	"github.com/omj-erie/omjsite/internal/engine"
	"github.com/omj-erie/omjsite/internal/extract"
	"github.com/omj-erie/omjsite/internal/filestore"
	"github.com/omj-erie/omjsite/internal/retrieval"
	"github.com/omj-erie/omjsite/internal/storage"
)

const (
	contentPreviewLen = 500
	vectorPreviewLen  = 200
	defaultMimeType   = extract.MimePDF
)

// DocumentStore is the relational side of ingestion.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (storage.Document, error)
	UpdateDocumentContent(ctx context.Context, id, content, preview string) error
	SetDocumentStatus(ctx context.Context, id, status string) error
	MarkDocumentFailed(ctx context.Context, id, reason string) error
	InsertChunks(ctx context.Context, chunks []storage.Chunk) error
	DeleteChunks(ctx context.Context, documentID string) (int64, error)
	ChunkEmbeddingIDs(ctx context.Context, documentID string) ([]string, error)
	CountChunks(ctx context.Context, documentID string) (int, error)
	ClaimDocument(ctx context.Context, id, token string, staleBefore time.Time) error
	HoldsClaim(ctx context.Context, id, token string) (bool, error)
	ReleaseDocument(ctx context.Context, id, token string) error
}

// Config tunes the orchestrator.
type Config struct {
	// SiteURL is the origin used for download URLs.
	SiteURL       string
	Chunking      chunker.Options
	MinTextLength int
	// BatchSize chunks are embedded and upserted concurrently; batches run in sequence.
	BatchSize  int
	BatchDelay time.Duration
	// ClaimTTL is how long a processing claim blocks other runs before it is
	// treated as abandoned.
	ClaimTTL time.Duration
}

// DefaultConfig returns batches of 5 with 200ms between them.
func DefaultConfig() Config {
	return Config{
		SiteURL:       "http://localhost:3001",
		Chunking:      chunker.DefaultOptions(),
		MinTextLength: extract.DefaultMinLength,
		BatchSize:     5,
		BatchDelay:    200 * time.Millisecond,
		ClaimTTL:      10 * time.Minute,
	}
}

// Orchestrator runs the extract → chunk → embed → index → persist pipeline for one document.
type Orchestrator struct {
	docs      DocumentStore
	files     filestore.Store
	extractor extract.Extractor
	embedder  engine.Embedder
	index     retrieval.Index
	cfg       Config
	logger    *slog.Logger
}

func NewOrchestrator(docs DocumentStore, files filestore.Store, extractor extract.Extractor,
	embedder engine.Embedder, index retrieval.Index, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 10 * time.Minute
	}
	if cfg.Chunking.MaxTokens <= 0 {
		cfg.Chunking = chunker.DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		docs:      docs,
		files:     files,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessDocument ingests one document. Already-processed documents are a
// successful no-op. Only one run per document proceeds at a time; a concurrent
// caller gets a Result with InProgress set and nothing is touched. Any failure
// marks the document failed with the error in its metadata and is returned in
// the Result.
func (o *Orchestrator) ProcessDocument(ctx context.Context, documentID string) Result {
	log := o.logger.With("document_id", documentID)

	doc, err := o.docs.GetDocument(ctx, documentID)
	if err != nil {
		log.Error("loading document", "error", err)
		return Result{DocumentID: documentID, Stage: StagePersistence, Error: fmt.Sprintf("loading document: %v", err)}
	}

	if doc.Status == storage.StatusProcessed {
		n, err := o.docs.CountChunks(ctx, doc.ID)
		if err != nil {
			log.Warn("counting chunks", "error", err)
		}
		log.Info("document already processed, skipping")
		return Result{Success: true, Skipped: true, DocumentID: doc.ID, ChunksCreated: n, EmbeddingsGenerated: n}
	}

	token := uuid.NewString()
	if err := o.docs.ClaimDocument(ctx, doc.ID, token, time.Now().Add(-o.cfg.ClaimTTL)); err != nil {
		if errors.Is(err, storage.ErrDocumentBusy) {
			log.Info("document already being processed, not starting another run")
			return Result{DocumentID: doc.ID, InProgress: true, Error: err.Error()}
		}
		log.Error("claiming document", "error", err)
		return Result{DocumentID: doc.ID, Stage: StagePersistence, Error: fmt.Sprintf("claiming document: %v", err)}
	}
	defer func() {
		if err := o.docs.ReleaseDocument(context.WithoutCancel(ctx), doc.ID, token); err != nil {
			log.Warn("releasing document claim", "error", err)
		}
	}()

	start := time.Now()
	log.Info("processing document", "title", doc.Title, "mime_type", doc.MimeType)

	res, err := o.run(ctx, doc, token, log)
	if err != nil {
		stage := StageExtraction
		var se *StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		log.Error("document processing failed", "stage", stage, "error", err)

		// The failure must be recorded even when ctx was cancelled mid-pipeline.
		if markErr := o.docs.MarkDocumentFailed(context.WithoutCancel(ctx), doc.ID, err.Error()); markErr != nil {
			log.Error("marking document failed", "error", markErr)
		}
		return Result{DocumentID: doc.ID, Stage: stage, Error: err.Error()}
	}

	log.Info("document processed", "chunks", res.ChunksCreated, "duration", time.Since(start))
	return res
}

// run executes the pipeline while holding the claim identified by token.
// The claim also refreshed updated_at, so the reconciler measures from this attempt.
func (o *Orchestrator) run(ctx context.Context, doc storage.Document, token string, log *slog.Logger) (Result, error) {
	data, err := o.files.Download(ctx, doc.StoragePath)
	if err != nil {
		return Result{}, stageErr(StageExtraction, "downloading file: %w", err)
	}

	mimeType := documentMimeType(doc)
	text, err := o.extractor.Extract(ctx, data, mimeType)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedType) {
			return Result{}, &StageError{Stage: StageUnsupportedType, Err: err}
		}
		return Result{}, &StageError{Stage: StageExtraction, Err: err}
	}

	text = extract.Clean(text)
	if err := extract.Validate(text, o.cfg.MinTextLength); err != nil {
		return Result{}, &StageError{Stage: StageExtraction, Err: err}
	}
	log.Debug("extracted text", "chars", len(text))

	if err := o.docs.UpdateDocumentContent(ctx, doc.ID, text, extract.Preview(text, contentPreviewLen)); err != nil {
		log.Warn("updating document content", "error", err)
	}

	var downloadURL string
	if doc.IsDownloadable {
		downloadURL = retrieval.DownloadURL(o.cfg.SiteURL, doc.ID)
	}

	chunks := chunker.Split(text, chunker.Metadata{
		DocumentID:     doc.ID,
		DocumentTitle:  doc.Title,
		DocumentType:   doc.Type,
		IsDownloadable: doc.IsDownloadable,
		DownloadURL:    downloadURL,
	}, o.cfg.Chunking)
	if !chunker.Validate(chunks) {
		return Result{}, &StageError{Stage: StageChunking, Err: chunker.ErrInvalidChunks}
	}
	stats := chunker.ComputeStats(chunks)
	log.Debug("chunked text", "chunks", stats.TotalChunks, "avg_tokens", stats.AvgTokensPerChunk)

	if err := o.purge(ctx, doc.ID, log); err != nil {
		return Result{}, err
	}

	embeddingIDs, err := o.embedAndIndex(ctx, doc, chunks, downloadURL)
	if err != nil {
		return Result{}, err
	}

	rows := make([]storage.Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = storage.Chunk{
			DocumentID:  doc.ID,
			ChunkIndex:  c.Index,
			Content:     c.Content,
			EmbeddingID: embeddingIDs[i],
			Metadata: map[string]any{
				"start":        c.Start,
				"end":          c.End,
				"tokens":       chunker.EstimateTokens(c.Content),
				"total_chunks": c.Metadata.TotalChunks,
			},
		}
	}
	if err := o.docs.InsertChunks(ctx, rows); err != nil {
		// Vectors share ids with any run that took over the claim; only the holder may drop them.
		held, claimErr := o.docs.HoldsClaim(context.WithoutCancel(ctx), doc.ID, token)
		switch {
		case claimErr != nil:
			log.Warn("checking claim before rollback, keeping vectors", "error", claimErr)
		case !held:
			log.Warn("claim was taken over, keeping vectors for the current run")
		default:
			o.dropVectors(ctx, embeddingIDs, log)
		}
		return Result{}, stageErr(StagePersistence, "storing chunks: %w", err)
	}

	if err := o.docs.SetDocumentStatus(ctx, doc.ID, storage.StatusProcessed); err != nil {
		log.Error("updating status to processed", "stage", StageStatusUpdate, "error", err)
	}

	return Result{
		Success:             true,
		DocumentID:          doc.ID,
		ChunksCreated:       len(chunks),
		EmbeddingsGenerated: len(embeddingIDs),
		Stats: &Stats{
			TextLength:        len(text),
			AvgTokensPerChunk: stats.AvgTokensPerChunk,
			TotalTokens:       stats.TotalTokens,
		},
	}, nil
}

// purge removes chunk rows and vectors left by an earlier attempt, so
// reprocessing never duplicates them.
func (o *Orchestrator) purge(ctx context.Context, documentID string, log *slog.Logger) error {
	ids, err := o.docs.ChunkEmbeddingIDs(ctx, documentID)
	if err != nil {
		return stageErr(StagePersistence, "listing previous chunks: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := o.index.DeleteMany(ctx, ids); err != nil {
		return stageErr(StageVectorIndex, "deleting previous vectors: %w", err)
	}
	n, err := o.docs.DeleteChunks(ctx, documentID)
	if err != nil {
		return stageErr(StagePersistence, "deleting previous chunks: %w", err)
	}
	log.Info("purged previous chunks", "chunks", n)
	return nil
}

// embedAndIndex embeds and upserts chunks in batches. It returns embedding ids
// in chunk order. On failure, vectors already written are removed best-effort.
func (o *Orchestrator) embedAndIndex(ctx context.Context, doc storage.Document, chunks []chunker.Chunk, downloadURL string) ([]string, error) {
	ids := make([]string, len(chunks))
	var (
		mu       sync.Mutex
		upserted []string
	)

	for start := 0; start < len(chunks); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(chunks))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			c := chunks[i]
			g.Go(func() error {
				vec, err := o.embedder.Embed(gctx, c.Content)
				if err != nil {
					return stageErr(StageEmbedding, "embedding chunk %d: %w", c.Index, err)
				}

				id := retrieval.EmbeddingID(doc.ID, c.Index)
				rec := retrieval.Record{
					ID:     id,
					Values: vec,
					Metadata: retrieval.Metadata{
						DocumentID:     doc.ID,
						DocumentTitle:  doc.Title,
						DocumentType:   doc.Type,
						ChunkIndex:     c.Index,
						TotalChunks:    c.Metadata.TotalChunks,
						IsDownloadable: doc.IsDownloadable,
						DownloadURL:    downloadURL,
						ContentPreview: extract.Prefix(c.Content, vectorPreviewLen),
					},
				}
				if err := o.index.Upsert(gctx, []retrieval.Record{rec}); err != nil {
					return stageErr(StageVectorIndex, "upserting vector %s: %w", id, err)
				}

				mu.Lock()
				upserted = append(upserted, id)
				mu.Unlock()
				ids[c.Index] = id
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			o.dropVectors(ctx, upserted, o.logger.With("document_id", doc.ID))
			return nil, err
		}

		if end < len(chunks) && o.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				o.dropVectors(ctx, upserted, o.logger.With("document_id", doc.ID))
				return nil, stageErr(StageEmbedding, "waiting between batches: %w", ctx.Err())
			case <-time.After(o.cfg.BatchDelay):
			}
		}
	}
	return ids, nil
}

func (o *Orchestrator) dropVectors(ctx context.Context, ids []string, log *slog.Logger) {
	if len(ids) == 0 {
		return
	}
	if err := o.index.DeleteMany(context.WithoutCancel(ctx), ids); err != nil {
		log.Warn("removing vectors after failure", "count", len(ids), "error", err)
	}
}

// documentMimeType prefers the column, then the upload metadata, then PDF.
func documentMimeType(doc storage.Document) string {
	if doc.MimeType != "" {
		return doc.MimeType
	}
	if mt, ok := doc.Metadata["mime_type"].(string); ok && mt != "" {
		return mt
	}
	return defaultMimeType
}
