package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omj-erie/omjsite/internal/api"
	"github.com/omj-erie/omjsite/internal/chat"
	"github.com/omj-erie/omjsite/internal/chunker"
	"github.com/omj-erie/omjsite/internal/config"
	"github.com/omj-erie/omjsite/internal/engine"
	"github.com/omj-erie/omjsite/internal/extract"
	"github.com/omj-erie/omjsite/internal/filestore"
	"github.com/omj-erie/omjsite/internal/ingest"
	"github.com/omj-erie/omjsite/internal/retrieval"
	"github.com/omj-erie/omjsite/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, ingestion workers and stale-document reconciler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

// app is the wired set of components shared by serve and mcp.
type app struct {
	cfg          config.Config
	logger       *slog.Logger
	store        *storage.Store
	files        *filestore.Local
	index        retrieval.Index
	orchestrator *ingest.Orchestrator
	cleaner      *ingest.Cleaner
	assembler    *retrieval.Assembler
	completer    engine.Completer
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store

	files, err := filestore.NewLocal(filepath.Join(cfg.Storage.DataDir, "files"), cfg.Server.SiteURL)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.files = files

	var extractor extract.Extractor = extract.NewLocal()
	if cfg.Extraction.Mode == "remote" {
		remote := extract.NewRemote(cfg.Extraction.RemoteURL, 2*time.Minute)
		if !remote.Healthy(ctx) {
			logger.Warn("remote extraction service not healthy", "url", cfg.Extraction.RemoteURL)
		}
		extractor = extract.NewRemoteFirst(remote)
	}

	if err := ensureModels(ctx, cfg); err != nil {
		store.Close()
		return nil, err
	}

	embedder, err := engine.NewEmbedder(ctx, engine.EmbedderConfig{
		Provider:          cfg.Embedding.Provider,
		Model:             cfg.Embedding.Model,
		Dimensions:        cfg.Embedding.Dimensions,
		APIKey:            embeddingKey(cfg),
		BaseURL:           embeddingBaseURL(cfg),
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("building embedder: %w", err)
	}

	a.completer, err = engine.NewCompleter(ctx, engine.CompleterConfig{
		Provider:    cfg.Chat.Provider,
		Model:       cfg.Chat.Model,
		MaxTokens:   cfg.Chat.MaxTokens,
		Temperature: cfg.Chat.Temperature,
		APIKey:      chatKey(cfg),
		BaseURL:     chatBaseURL(cfg),
		MaxAttempts: cfg.Chat.MaxAttempts,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("building chat model: %w", err)
	}

	a.index, err = buildIndex(ctx, cfg, store, embedder)
	if err != nil {
		store.Close()
		return nil, err
	}

	a.orchestrator = ingest.NewOrchestrator(store, files, extractor, embedder, a.index, ingest.Config{
		SiteURL: cfg.Server.SiteURL,
		Chunking: chunker.Options{
			MaxTokens:         cfg.Chunking.MaxTokens,
			OverlapChars:      cfg.Chunking.OverlapChars,
			PreserveSentences: cfg.Chunking.PreserveSentences,
		},
		MinTextLength: cfg.Extraction.MinTextLength,
		BatchSize:     cfg.Ingest.BatchSize,
		BatchDelay:    cfg.Ingest.BatchDelay,
		ClaimTTL:      cfg.Ingest.ProcessingTimeout,
	}, logger)
	a.cleaner = ingest.NewCleaner(store, a.index, files, logger)
	a.assembler = retrieval.NewAssembler(embedder, a.index, store, retrieval.Config{
		TopK:               cfg.Retrieval.TopK,
		RelevanceThreshold: cfg.Retrieval.RelevanceThreshold,
		BaseURL:            cfg.Server.SiteURL,
	}, logger)

	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func buildIndex(ctx context.Context, cfg config.Config, store *storage.Store, embedder engine.Embedder) (retrieval.Index, error) {
	switch cfg.Vector.Backend {
	case "pinecone":
		return retrieval.NewPineconeIndex(retrieval.PineconeConfig{
			Host:      cfg.Vector.IndexHost,
			APIKey:    cfg.Secrets.PineconeAPIKey,
			Namespace: cfg.Vector.Namespace,
			Timeout:   30 * time.Second,
		}), nil
	case "qdrant":
		q := retrieval.NewQdrantIndex(retrieval.QdrantConfig{
			URL:        cfg.Vector.IndexHost,
			APIKey:     cfg.Secrets.QdrantAPIKey,
			Collection: cfg.Vector.Collection,
			Timeout:    30 * time.Second,
		})
		dim := cfg.Embedding.Dimensions
		if dim <= 0 {
			probe, err := embedder.Embed(ctx, "dimension probe")
			if err != nil {
				return nil, fmt.Errorf("probing embedding dimension: %w", err)
			}
			dim = len(probe)
		}
		if err := q.EnsureCollection(ctx, dim); err != nil {
			return nil, fmt.Errorf("preparing qdrant collection: %w", err)
		}
		return q, nil
	default:
		return retrieval.NewSQLiteIndex(store.DB()), nil
	}
}

// ensureModels pulls missing Ollama models when Ollama serves either role.
func ensureModels(ctx context.Context, cfg config.Config) error {
	var models []string
	if cfg.Embedding.Provider == engine.ProviderOllama {
		models = append(models, cfg.Embedding.Model)
	}
	if cfg.Chat.Provider == engine.ProviderOllama {
		models = append(models, cfg.Chat.Model)
	}
	if len(models) == 0 {
		return nil
	}
	return engine.EnsureReady(ctx, engine.NewOllama(cfg.Ollama.BaseURL, "", engine.CompletionOptions{}), os.Stderr, models...)
}

func embeddingKey(cfg config.Config) string {
	if cfg.Embedding.Provider == engine.ProviderGemini {
		return cfg.Secrets.GeminiAPIKey
	}
	return cfg.Secrets.OpenAIAPIKey
}

func embeddingBaseURL(cfg config.Config) string {
	if cfg.Embedding.Provider == engine.ProviderOllama {
		return cfg.Ollama.BaseURL
	}
	return cfg.Embedding.BaseURL
}

func chatKey(cfg config.Config) string {
	switch cfg.Chat.Provider {
	case engine.ProviderAnthropic:
		return cfg.Secrets.AnthropicAPIKey
	case engine.ProviderGemini:
		return cfg.Secrets.GeminiAPIKey
	default:
		return cfg.Secrets.OpenAIAPIKey
	}
}

func chatBaseURL(cfg config.Config) string {
	if cfg.Chat.Provider == engine.ProviderOllama {
		return cfg.Ollama.BaseURL
	}
	return ""
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "omjsite version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireSecrets(true); err != nil {
		return err
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	worker := ingest.NewWorker(a.store, a.orchestrator, 500*time.Millisecond)
	// Deferred after a.Close, so in-flight ingestion finishes before the store closes.
	defer startWorkers(ctx, worker, cfg.Ingest.Workers)()

	reconciler := ingest.NewReconciler(a.store, cfg.Ingest.ProcessingTimeout, cfg.Ingest.ReconcileSchedule, logger)
	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("starting reconciler: %w", err)
	}
	defer reconciler.Stop()

	chatSvc := chat.NewService(a.store, a.assembler, a.completer, cfg.Chat.HistoryTurns, logger)
	handler := api.NewRouter(api.Deps{
		Store:     a.store,
		Files:     a.files,
		Processor: a.orchestrator,
		Cleaner:   a.cleaner,
		Retriever: a.assembler,
		Chat:      chatSvc,
		Token:     cfg.Secrets.AdminToken,
		Logger:    logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("omjsite listening", "addr", addr, "site_url", cfg.Server.SiteURL,
			"vector_backend", cfg.Vector.Backend, "workers", cfg.Ingest.Workers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startWorkers runs the worker loops in the background. The returned stop
// function cancels them and blocks until every loop has returned.
func startWorkers(ctx context.Context, w *ingest.Worker, n int) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.RunN(ctx, n)
	}()
	return func() {
		cancel()
		<-done
	}
}
