package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"knowbase/internal/embedder"
	"knowbase/internal/kb"
	"knowbase/internal/storage"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing knowledge base tools",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	manager, err := openManager(cfg)
	if err != nil {
		return err
	}
	defer manager.Close()

	emb := newEmbedder(cfg)

	s := mcpserver.NewMCPServer("knowbase", "1.0.0", mcpserver.WithToolCapabilities(false))

	s.AddTool(searchKnowledgeBaseTool(), makeSearchHandler(manager, emb))
	s.AddTool(getDocumentTool(), makeGetDocumentHandler(manager))
	s.AddTool(listDocumentsTool(), makeListDocumentsHandler(manager))
	s.AddTool(statusTool(), makeStatusHandler(manager))

	return mcpserver.ServeStdio(s)
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchKnowledgeBaseTool() mcp.Tool {
	return mcp.NewTool("search_knowledge_base",
		mcp.WithDescription("Semantically search stored documents using vector similarity. Returns the most relevant chunks with their similarity scores."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language query to search for"),
		),
		mcp.WithNumber("threshold",
			mcp.Description("Minimum cosine similarity between 0 and 1 (default 0.7)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of chunks to return (default 10)"),
		),
	)
}

func getDocumentTool() mcp.Tool {
	return mcp.NewTool("get_document",
		mcp.WithDescription("Get the stored metadata for a document by its file path."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("File path the document was ingested under"),
		),
	)
}

func listDocumentsTool() mcp.Tool {
	return mcp.NewTool("list_documents",
		mcp.WithDescription("List all stored documents with type, size, and chunk counts."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("file_type",
			mcp.Description("Optional file type filter (e.g. 'md', 'txt'). Case-insensitive."),
		),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("kb_status",
		mcp.WithDescription("Report backend health and stored document and chunk counts."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

// --- Handler factories ---

func makeSearchHandler(manager *kb.Manager, emb *embedder.Client) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		threshold := req.GetFloat("threshold", storage.DefaultThreshold)
		limit := req.GetInt("limit", storage.DefaultLimit)

		embedding, err := emb.EmbedSingle(ctx, query)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("embed query failed: %v", err)), nil
		}

		matches, err := manager.Search(ctx, embedding, storage.SearchOptions{
			Threshold: threshold,
			Limit:     limit,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}

		return mcp.NewToolResultText(formatSearchResults(query, matches)), nil
	}
}

func makeGetDocumentHandler(manager *kb.Manager) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath := req.GetString("file_path", "")
		if filePath == "" {
			return mcp.NewToolResultError("file_path is required"), nil
		}

		for _, b := range manager.Backends() {
			doc, err := b.GetDocument(ctx, filePath)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("get document failed: %v", err)), nil
			}
			if doc == nil {
				continue
			}
			chunks, _ := b.ChunkCount(ctx, storage.ChunkFilter{DocumentID: doc.ID})
			return mcp.NewToolResultText(formatDocument(doc, chunks, b.Name())), nil
		}

		return mcp.NewToolResultError(fmt.Sprintf("document %q not found, call list_documents to see stored paths", filePath)), nil
	}
}

func makeListDocumentsHandler(manager *kb.Manager) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		typeFilter := strings.ToLower(req.GetString("file_type", ""))

		var sb strings.Builder
		total := 0
		for _, b := range manager.Backends() {
			docs, err := b.ListDocuments(ctx)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("list documents failed: %v", err)), nil
			}
			for _, d := range docs {
				if typeFilter != "" && strings.ToLower(d.FileType) != typeFilter {
					continue
				}
				total++
				fmt.Fprintf(&sb, "- **%s** (%s, %d bytes, %s)\n", d.FilePath, d.FileType, d.FileSize, b.Name())
			}
		}

		header := fmt.Sprintf("## Stored documents (%d)\n\n", total)
		if typeFilter != "" {
			header = fmt.Sprintf("## Stored documents (%d, type: %s)\n\n", total, typeFilter)
		}
		return mcp.NewToolResultText(header + sb.String()), nil
	}
}

func makeStatusHandler(manager *kb.Manager) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		statuses := manager.HealthCheck(ctx)

		var sb strings.Builder
		sb.WriteString("## Knowledge base status\n\n")
		for name, st := range statuses {
			if !st.Healthy {
				fmt.Fprintf(&sb, "- **%s**: unhealthy (%s)\n", name, st.Error)
				continue
			}
			fmt.Fprintf(&sb, "- **%s**: ok, %d documents, %d chunks\n", name, st.Documents, st.Chunks)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// --- Formatting helpers ---

func formatSearchResults(query string, matches []kb.Match) string {
	if len(matches) == 0 {
		return fmt.Sprintf("No results found for query: %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search results for %q (%d chunks)\n\n", query, len(matches))

	for i, m := range matches {
		fmt.Fprintf(&sb, "### Result %d (similarity %.3f)\n\n", i+1, m.Similarity)
		fmt.Fprintf(&sb, "**Document:** %s  \n**Chunk:** %d  \n**Backend:** %s\n\n",
			m.Chunk.DocumentID, m.Chunk.Index, m.Backend)
		fmt.Fprintf(&sb, "```\n%s\n```\n\n", m.Chunk.Content)
	}

	return sb.String()
}

func formatDocument(doc *storage.Document, chunks int, backend string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n", doc.FilePath)
	fmt.Fprintf(&sb, "**Title:** %s  \n**Type:** %s  \n**Size:** %d bytes  \n**Chunks:** %d  \n**Backend:** %s  \n**Ingested:** %s\n",
		doc.Title, doc.FileType, doc.FileSize, chunks, backend, doc.CreatedAt.Format("2006-01-02 15:04:05"))
	if len(doc.Metadata) > 0 {
		sb.WriteString("\n**Metadata:**\n")
		for k, v := range doc.Metadata {
			fmt.Fprintf(&sb, "- %s: %v\n", k, v)
		}
	}
	return sb.String()
}
