package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/omj-erie/omjsite/internal/ingest"
	"github.com/omj-erie/omjsite/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Retriever Retriever
	Processor ingest.Processor
}

// NewMCPServer creates an MCP server exposing document search and
// maintenance tools to local assistants.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"omjsite",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("OhioMeansJobs Erie County document knowledge base: search grounding context and manage ingestion."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Run the chat retrieval path for a query and return the assembled context."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpSearchDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List uploaded documents with their processing status."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of documents (default 20)")),
			mcp.WithNumber("offset", mcp.Description("Number of documents to skip")),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("document_status",
			mcp.WithDescription("Show the processing status and chunk count of one document."),
			mcp.WithString("document_id", mcp.Description("Document id"), mcp.Required()),
		),
		mcpDocumentStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("reprocess_document",
			mcp.WithDescription("Re-run ingestion for a document, replacing its chunks and vectors."),
			mcp.WithString("document_id", mcp.Description("Document id"), mcp.Required()),
		),
		mcpReprocessDocument(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"omj://stats",
			"Ingestion Stats",
			mcp.WithResourceDescription("Document and job counts by status"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}

		rc, trace := deps.Retriever.GetRelevantContext(ctx, query)
		if trace.Error != "" {
			return mcpError(fmt.Sprintf("retrieval failed at %s: %s", trace.Phase, trace.Error)), nil
		}
		if rc.Empty() {
			return mcpText("No relevant documents found."), nil
		}
		return mcpText(rc.Text), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 200 {
			limit = 200
		}
		offset := req.GetInt("offset", 0)
		if offset < 0 {
			offset = 0
		}

		docs, err := deps.Store.ListDocuments(ctx, limit, offset)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list documents: %v", err)), nil
		}

		type docSummary struct {
			ID             string `json:"id"`
			Title          string `json:"title"`
			MimeType       string `json:"mime_type"`
			Status         string `json:"status"`
			IsDownloadable bool   `json:"is_downloadable"`
			Error          string `json:"error,omitempty"`
		}

		out := make([]docSummary, len(docs))
		for i, d := range docs {
			out[i] = docSummary{
				ID:             d.ID,
				Title:          d.Title,
				MimeType:       d.MimeType,
				Status:         d.Status,
				IsDownloadable: d.IsDownloadable,
				Error:          d.FailureReason(),
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDocumentStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("document_id")
		if err != nil || id == "" {
			return mcpError("document_id is required"), nil
		}

		doc, err := deps.Store.GetDocument(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("document %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load document: %v", err)), nil
		}
		n, err := deps.Store.CountChunks(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to count chunks: %v", err)), nil
		}

		msg := fmt.Sprintf("%s (%s): %s, %d chunks", doc.Title, doc.ID, doc.Status, n)
		if reason := doc.FailureReason(); reason != "" {
			msg += "\nerror: " + reason
		}
		return mcpText(msg), nil
	}
}

// mcpReprocessDocument always re-runs ingestion, even for processed documents.
func mcpReprocessDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("document_id")
		if err != nil || id == "" {
			return mcpError("document_id is required"), nil
		}

		if err := deps.Store.SetDocumentStatus(ctx, id, storage.StatusProcessing); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("document %s not found", id)), nil
			}
			return mcpError(fmt.Sprintf("failed to reset status: %v", err)), nil
		}

		res := deps.Processor.ProcessDocument(ctx, id)
		if res.InProgress {
			return mcpError(fmt.Sprintf("document %s is already being processed, try again when it finishes", id)), nil
		}
		if !res.Success {
			return mcpError(fmt.Sprintf("processing failed (%s): %s", res.Stage, res.Error)), nil
		}
		return mcpText(fmt.Sprintf("Processed %s: %d chunks, %d embeddings", id, res.ChunksCreated, res.EmbeddingsGenerated)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs, err := deps.Store.CountDocumentsByStatus(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting documents: %w", err)
		}
		jobs, err := deps.Store.CountJobsByStatus()
		if err != nil {
			return nil, fmt.Errorf("counting jobs: %w", err)
		}

		b, err := json.Marshal(map[string]any{"documents": docs, "jobs": jobs})
		if err != nil {
			return nil, fmt.Errorf("marshaling stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
