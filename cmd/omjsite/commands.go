package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/omj-erie/omjsite/internal/config"
	"github.com/omj-erie/omjsite/internal/extract"
)

type documentSummary struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Filename       string         `json:"filename"`
	MimeType       string         `json:"mime_type"`
	Type           string         `json:"type"`
	FileSize       int64          `json:"file_size"`
	IsDownloadable bool           `json:"is_downloadable"`
	Status         string         `json:"status"`
	PublicURL      string         `json:"public_url"`
	ContentPreview string         `json:"content_preview"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      string         `json:"created_at"`
}

// detectContentType prefers the file extension and falls back to sniffing.
func detectContentType(path string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	if strings.EqualFold(filepath.Ext(path), ".md") {
		return "text/markdown"
	}
	return http.DetectContentType(data)
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document for ingestion",
	Long: `Upload a document for ingestion.

Examples:
  omjsite upload ./resume-guide.pdf --title "Resume Guide" --downloadable
  omjsite upload ./youth-program.docx --title "Youth Program" --type program`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		title, _ := cmd.Flags().GetString("title")
		docType, _ := cmd.Flags().GetString("type")
		downloadable, _ := cmd.Flags().GetBool("downloadable")

		if strings.TrimSpace(title) == "" {
			return fmt.Errorf("--title is required")
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		fields := map[string]string{
			"title":          title,
			"isDownloadable": strconv.FormatBool(downloadable),
		}
		if docType != "" {
			fields["type"] = docType
		}

		printStep("Uploading %s", filepath.Base(path))
		resp, err := client.upload(cmd.Context(), "/api/documents/upload", fields,
			filepath.Base(path), detectContentType(path, data), data)
		if err != nil {
			return err
		}

		var result struct {
			Document documentSummary `json:"document"`
			Message  string          `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Uploaded %s (%s)", result.Document.Title, result.Document.ID)
		fmt.Fprintln(cmd.OutOrStdout(), result.Document.ID)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("title", "", "document title (required)")
	uploadCmd.Flags().String("type", "", "document type, e.g. guide or program (default general)")
	uploadCmd.Flags().Bool("downloadable", false, "allow site visitors to download the file")
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage uploaded documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/documents?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}

		var docs []documentSummary
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No documents found.")
			return nil
		}

		for _, d := range docs {
			id := d.ID
			if len(id) > 8 {
				id = id[:8]
			}
			dl := ""
			if d.IsDownloadable {
				dl = " [downloadable]"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s  %s%s\n",
				colorize(colorCyan, id),
				colorize(statusColor(d.Status), d.Status),
				d.Title,
				dl,
			)
		}
		return nil
	},
}

var docsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result struct {
			Document any `json:"document"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result.Document)
	},
}

var docsStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show processing status of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/documents/process/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var st struct {
			DocumentID    string `json:"documentId"`
			Status        string `json:"status"`
			ChunksCreated int    `json:"chunksCreated"`
			UpdatedAt     string `json:"updatedAt"`
			Error         string `json:"error"`
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		printStatus("Document", "%s", st.DocumentID)
		printStatus("Status", "%s", colorize(statusColor(st.Status), st.Status))
		printStatus("Chunks", "%d", st.ChunksCreated)
		printStatus("Updated", "%s", st.UpdatedAt)
		if st.Error != "" {
			printStatus("Error", "%s", st.Error)
		}
		return nil
	},
}

var docsChunksCmd = &cobra.Command{
	Use:   "chunks <id>",
	Short: "List the stored chunks of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/documents/"+url.PathEscape(args[0])+"/chunks")
		if err != nil {
			return err
		}

		var result struct {
			Chunks []struct {
				Index       int    `json:"index"`
				EmbeddingID string `json:"embedding_id"`
				Tokens      int    `json:"tokens"`
				Content     string `json:"content"`
			} `json:"chunks"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Chunks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No chunks stored.")
			return nil
		}
		for _, c := range result.Chunks {
			fmt.Fprintf(cmd.OutOrStdout(), "#%-3d %s  ~%d tokens\n", c.Index, colorize(colorCyan, c.EmbeddingID), c.Tokens)
			body := strings.Join(strings.Fields(c.Content), " ")
			if !full {
				body = extract.Preview(body, 100)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "     %s\n", body)
		}
		return nil
	},
}

var docsReprocessCmd = &cobra.Command{
	Use:   "reprocess <id>",
	Short: "Run ingestion for a document now",
	Long: `Run ingestion for a document now and wait for the result.

Processed documents are skipped unless --force is given, which replaces
their chunks and vectors.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/api/documents/process/" + url.PathEscape(args[0])
		if force {
			path += "?force=true"
		}
		printStep("Processing %s", args[0])
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}

		var result struct {
			Message string `json:"message"`
			Result  struct {
				ChunksCreated       int `json:"chunksCreated"`
				EmbeddingsGenerated int `json:"embeddingsGenerated"`
			} `json:"result"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Result.ChunksCreated == 0 && result.Result.EmbeddingsGenerated == 0 {
			printSuccess("%s", result.Message)
			return nil
		}
		printSuccess("%s: %d chunks, %d embeddings", result.Message,
			result.Result.ChunksCreated, result.Result.EmbeddingsGenerated)
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document with its vectors and stored file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This permanently deletes document %s. Use --confirm to proceed.", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/api/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result struct {
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s", result.Message)
		return nil
	},
}

func init() {
	docsListCmd.Flags().Int("limit", 20, "maximum number of documents to list")
	docsListCmd.Flags().Int("offset", 0, "number of documents to skip")
	docsChunksCmd.Flags().Bool("full", false, "print whole chunks instead of previews")
	docsReprocessCmd.Flags().Bool("force", false, "reprocess even if already processed")
	docsDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")

	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsShowCmd)
	docsCmd.AddCommand(docsStatusCmd)
	docsCmd.AddCommand(docsChunksCmd)
	docsCmd.AddCommand(docsReprocessCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the site assistant a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		if session == "" {
			session = "cli-" + uuid.NewString()
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/chat", map[string]string{
			"message":      strings.Join(args, " "),
			"sessionToken": session,
		})
		if err != nil {
			return err
		}

		var reply struct {
			SessionID     string `json:"sessionId"`
			Message       string `json:"message"`
			Grounded      bool   `json:"grounded"`
			ContextChunks int    `json:"contextChunks"`
		}
		if err := decodeJSON(resp, &reply); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), reply.Message)
		if !reply.Grounded {
			printWarning("No matching documents; the assistant declined to answer.")
		}
		printStatus("Session", "%s", session)
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "session token to continue a conversation")
}

// --- context ---

var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Show the grounding context retrieval would build for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		showTrace, _ := cmd.Flags().GetBool("trace")
		query := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/debug/retrieval?q="+url.QueryEscape(query))
		if err != nil {
			return err
		}

		var result struct {
			Context    string          `json:"context"`
			ChunkCount int             `json:"chunkCount"`
			Trace      json.RawMessage `json:"trace"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Context == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No relevant context found.")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n%s\n",
				colorize(colorBold, fmt.Sprintf("%d chunks", result.ChunkCount)), result.Context)
		}

		if showTrace {
			var pretty any
			if err := json.Unmarshal(result.Trace, &pretty); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pretty)
		}
		return nil
	},
}

func init() {
	contextCmd.Flags().Bool("trace", false, "print the retrieval trace")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		printStatus("Config file", "%s", config.ConfigFilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
