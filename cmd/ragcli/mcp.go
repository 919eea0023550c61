package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/ragcli/internal/models"
	"github.com/hyperjump/ragcli/internal/search"
	"github.com/hyperjump/ragcli/pkg/utils"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve document search to MCP clients over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := mcpserver.NewMCPServer("ragcli", version, mcpserver.WithToolCapabilities(false))
			s.AddTool(searchDocumentsTool(), a.searchDocumentsHandler())
			s.AddTool(listDocumentsTool(), a.listDocumentsHandler())
			a.logger.Debug("mcp server starting")
			return mcpserver.NewStdioServer(s).Listen(cmd.Context(), a.in, a.out)
		},
	}
}

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchDocumentsTool() mcp.Tool {
	return mcp.NewTool("search_documents",
		mcp.WithDescription("Search the ingested documents with hybrid keyword and semantic ranking. Returns the best matching chunks with their source file."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Question or keywords to search for"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of chunks to return (default 5)"),
		),
		mcp.WithString("mode",
			mcp.Description("semantic, keyword or hybrid (default hybrid)"),
		),
		mcp.WithString("filename",
			mcp.Description("Only search this document"),
		),
	)
}

func listDocumentsTool() mcp.Tool {
	return mcp.NewTool("list_documents",
		mcp.WithDescription("List the documents in the index with their chunk counts."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

func (a *app) searchDocumentsHandler() mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		var mode models.SearchMode
		if m := req.GetString("mode", ""); m != "" {
			parsed, err := models.ParseSearchMode(m)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			mode = parsed
		}
		idx, err := a.openIndex(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		emb, err := a.embedder()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		resp, err := search.ForIndex(idx, emb, &a.cfg.Search).Search(ctx, &models.SearchQuery{
			Query:    query,
			TopK:     req.GetInt("k", 0),
			Mode:     mode,
			Filename: req.GetString("filename", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatSearchResults(resp)), nil
	}
}

func (a *app) listDocumentsHandler() mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		idx, err := a.openIndex(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		docs, err := idx.Documents(ctx, 0, 0)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list documents failed: %v", err)), nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "## Documents in %s (%d)\n\n", idx.Name(), len(docs))
		for _, d := range docs {
			fmt.Fprintf(&sb, "- **%s** (%d chunks, %s)\n", d.Filename, d.TotalChunks, utils.HumanBytes(d.SizeBytes))
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func formatSearchResults(resp *models.SearchResponse) string {
	if len(resp.Results) == 0 {
		return fmt.Sprintf("No results found for query: %q", resp.Query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search results for %q (%d chunks)\n\n", resp.Query, len(resp.Results))
	for _, r := range resp.Results {
		c := r.Chunk
		fmt.Fprintf(&sb, "### %d. %s [chunk %d of %d] score %.3f\n\n%s\n\n",
			r.Rank, c.Filename, c.Ordinal+1, c.TotalChunks, r.Score, c.Text)
	}
	return sb.String()
}
