package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/omj-erie/omjsite/internal/engine"
	"github.com/omj-erie/omjsite/internal/storage"
)

// Separator joins context blocks.
const Separator = "\n\n---\n\n"

// DownloadableMarker precedes the exact download URL of a downloadable document.
const DownloadableMarker = " 📄 DOWNLOADABLE: "

const untitledDocument = "Untitled Document"

// Defaults for Config.
const (
	DefaultTopK               = 5
	DefaultRelevanceThreshold = 0.5
)

// Trace phases, in order.
const (
	PhaseStart    = "start"
	PhaseEmbed    = "embedding"
	PhaseQuery    = "index_query"
	PhaseResolve  = "chunk_fetch"
	PhaseBuild    = "build_context"
	PhaseComplete = "complete"
	PhaseError    = "error"
)

// ChunkResolver loads chunk rows, joined with their documents, by embedding id.
type ChunkResolver interface {
	ChunksByEmbeddingIDs(ctx context.Context, ids []string) ([]storage.ResolvedChunk, error)
}

// Config tunes the assembler.
type Config struct {
	TopK int
	// RelevanceThreshold is the minimum similarity a neighbor needs to be included.
	RelevanceThreshold float64
	// BaseURL is the site origin used for fallback download URLs.
	BaseURL string
}

// Context is assembled grounding text. An empty Text means no usable context.
type Context struct {
	Text       string
	ChunkCount int
}

// Empty reports whether no chunk survived retrieval.
func (c Context) Empty() bool {
	return c.Text == "" || c.ChunkCount == 0
}

// ScoredID is a neighbor id and its similarity.
type ScoredID struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

// Trace records what happened during one retrieval, for debugging.
type Trace struct {
	Query         string        `json:"query"`
	Phase         string        `json:"phase"`
	Threshold     float64       `json:"threshold"`
	EmbeddingDims int           `json:"embedding_dims"`
	Neighbors     []ScoredID    `json:"neighbors"`
	ResolvedRows  int           `json:"resolved_rows"`
	UnmatchedIDs  []string      `json:"unmatched_ids,omitempty"`
	Filtered      []ScoredID    `json:"filtered,omitempty"`
	ContextCount  int           `json:"context_count"`
	ContextHead   string        `json:"context_head,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
}

// Assembler embeds a query, finds neighbor chunks, and formats them as context.
type Assembler struct {
	embedder engine.Embedder
	index    Index
	chunks   ChunkResolver
	cfg      Config
	logger   *slog.Logger
}

// NewAssembler creates an Assembler. Zero TopK and negative thresholds take defaults.
func NewAssembler(embedder engine.Embedder, index Index, chunks ChunkResolver, cfg Config, logger *slog.Logger) *Assembler {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.RelevanceThreshold < 0 {
		cfg.RelevanceThreshold = DefaultRelevanceThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{embedder: embedder, index: index, chunks: chunks, cfg: cfg, logger: logger}
}

// GetRelevantContext never fails the caller: errors yield an empty Context
// with the error recorded in the trace.
func (a *Assembler) GetRelevantContext(ctx context.Context, query string) (Context, Trace) {
	start := time.Now()
	tr := Trace{Query: query, Phase: PhaseStart, Threshold: a.cfg.RelevanceThreshold}

	out, err := a.assemble(ctx, query, &tr)
	if err != nil {
		tr.Phase = PhaseError
		tr.Error = err.Error()
		a.logger.Error("retrieving context", "phase", tr.Phase, "error", err)
		out = Context{}
	}
	tr.Duration = time.Since(start)
	a.logger.Debug("retrieval trace",
		"phase", tr.Phase,
		"neighbors", len(tr.Neighbors),
		"resolved", tr.ResolvedRows,
		"unmatched", len(tr.UnmatchedIDs),
		"filtered", len(tr.Filtered),
		"context_count", tr.ContextCount,
		"duration", tr.Duration)
	return out, tr
}

func (a *Assembler) assemble(ctx context.Context, query string, tr *Trace) (Context, error) {
	tr.Phase = PhaseEmbed
	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return Context{}, fmt.Errorf("embedding query: %w", err)
	}
	tr.EmbeddingDims = len(vec)

	tr.Phase = PhaseQuery
	matches, err := a.index.Query(ctx, vec, a.cfg.TopK, true)
	if err != nil {
		return Context{}, fmt.Errorf("querying vector index: %w", err)
	}
	if len(matches) == 0 {
		tr.Phase = PhaseComplete
		return Context{}, nil
	}

	byID := make(map[string]Match, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		byID[m.ID] = m
		ids = append(ids, m.ID)
		tr.Neighbors = append(tr.Neighbors, ScoredID{ID: m.ID, Score: m.Score})
	}

	tr.Phase = PhaseResolve
	rows, err := a.chunks.ChunksByEmbeddingIDs(ctx, ids)
	if err != nil {
		return Context{}, fmt.Errorf("fetching chunks: %w", err)
	}
	tr.ResolvedRows = len(rows)

	found := make(map[string]bool, len(rows))
	for _, r := range rows {
		found[r.EmbeddingID] = true
	}
	for _, id := range ids {
		if !found[id] {
			tr.UnmatchedIDs = append(tr.UnmatchedIDs, id)
		}
	}
	if len(tr.UnmatchedIDs) > 0 {
		a.logger.Warn("neighbor ids without chunk rows", "ids", tr.UnmatchedIDs)
	}

	tr.Phase = PhaseBuild
	sort.SliceStable(rows, func(i, j int) bool {
		return byID[rows[i].EmbeddingID].Score > byID[rows[j].EmbeddingID].Score
	})

	var parts []string
	for _, row := range rows {
		match, ok := byID[row.EmbeddingID]
		if !ok {
			continue
		}
		if float64(match.Score) < a.cfg.RelevanceThreshold {
			tr.Filtered = append(tr.Filtered, ScoredID{ID: row.EmbeddingID, Score: match.Score})
			a.logger.Debug("filtered low relevance chunk", "embedding_id", row.EmbeddingID, "score", match.Score)
			continue
		}
		parts = append(parts, a.formatChunk(row, match.Metadata))
	}

	tr.ContextCount = len(parts)
	tr.Phase = PhaseComplete
	if len(parts) == 0 {
		return Context{}, nil
	}
	tr.ContextHead = truncate(parts[0], 160)
	return Context{Text: strings.Join(parts, Separator), ChunkCount: len(parts)}, nil
}

// formatChunk renders "[title]", the download marker when applicable, and the chunk text.
// The relational row wins over the vector metadata for title and downloadability.
func (a *Assembler) formatChunk(row storage.ResolvedChunk, meta *Metadata) string {
	if meta == nil {
		meta = &Metadata{}
	}

	title := untitledDocument
	switch {
	case row.HasDocument && row.DocumentTitle != "":
		title = row.DocumentTitle
	case meta.DocumentTitle != "":
		title = meta.DocumentTitle
	}

	downloadable := meta.IsDownloadable
	if row.HasDocument {
		downloadable = row.IsDownloadable
	}

	var b strings.Builder
	b.WriteString("[" + title + "]")
	if downloadable {
		url := meta.DownloadURL
		if url == "" {
			docID := row.DocumentID
			if docID == "" {
				docID = meta.DocumentID
			}
			url = DownloadURL(a.cfg.BaseURL, docID)
		}
		b.WriteString(DownloadableMarker + url)
	}
	b.WriteString("\n" + row.Content)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
