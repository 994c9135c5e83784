package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/retrieval"
)

const (
	toolSearch      = "wooverzicht_search"
	toolListOrigins = "wooverzicht_list_origins"

	// Chunk text in tool output is cut to keep the model context small.
	maxSnippetRunes = 600
)

type SearchArgs struct {
	Query      string   `json:"query"`
	Categories []string `json:"categories,omitempty"`
	StartDate  string   `json:"start_date,omitempty"`
	EndDate    string   `json:"end_date,omitempty"`
}

var tools = []Tool{
	{
		Name: toolSearch,
		Description: `Searches Woo publications (decisions, requests and their attachments) of Dutch provinces.
Returns the most relevant documents with the passages that matched.

[Filters]
- categories: province names, e.g. ["Zuid-Holland", "Gelderland"]
- start_date / end_date: publication date bounds, YYYY-MM-DD, inclusive

USAGE EXAMPLE:
wooverzicht_search(query="vergunning windpark", categories=["Flevoland"], start_date="2023-01-01")`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]string{
					"type":        "string",
					"description": "The search query",
				},
				"categories": map[string]interface{}{
					"type":        "array",
					"items":       map[string]string{"type": "string"},
					"description": "Restrict to these categories",
				},
				"start_date": map[string]string{
					"type":        "string",
					"description": "Earliest publication date (YYYY-MM-DD)",
				},
				"end_date": map[string]string{
					"type":        "string",
					"description": "Latest publication date (YYYY-MM-DD)",
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        toolListOrigins,
		Description: `Lists the configured document origins. Use this to learn which provinces and collections are searchable.`,
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	},
}

// processRequest returns nil for notifications.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": protocolVersion,
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "wooverzicht-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.WarnContext(ctx, "invalid params structure", "error", err)
			return makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		}
		switch params.Name {
		case toolSearch:
			return h.search(ctx, req.ID, params.Arguments)
		case toolListOrigins:
			return h.listOrigins(ctx, req.ID)
		}
		slog.WarnContext(ctx, "tool not found", "tool", params.Name)
		return makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	return makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
}

func (h *Handler) search(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args SearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		slog.WarnContext(ctx, "invalid search arguments", "error", err)
		return makeErrorResponse(id, ErrInvalidParams, "Invalid search arguments")
	}
	if strings.TrimSpace(args.Query) == "" {
		return makeErrorResponse(id, ErrInvalidParams, "Query is required")
	}

	req := retrieval.Request{Query: args.Query}
	if len(args.Categories) > 0 || args.StartDate != "" || args.EndDate != "" {
		req.Filters = &retrieval.RequestFilters{Categories: args.Categories, StartDate: args.StartDate, EndDate: args.EndDate}
	}

	res, err := h.searcher.Query(ctx, req)
	if err != nil {
		if errors.Is(err, retrieval.ErrInvalidFilter) {
			return makeErrorResponse(id, ErrInvalidParams, err.Error())
		}
		slog.ErrorContext(ctx, "search failed", "error", err)
		return textResult(id, "Error: "+err.Error(), true)
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", toolSearch, "documents", res.TotalDocuments)
	return textResult(id, formatResults(res), false)
}

func formatResults(res retrieval.Response) string {
	if len(res.Documents) == 0 {
		return "No results found."
	}

	chunks := make(map[string][]retrieval.ChunkResult, len(res.Documents))
	for _, c := range res.Chunks {
		chunks[c.DocumentID] = append(chunks[c.DocumentID], c)
	}

	var sb strings.Builder
	for i, d := range res.Documents {
		score := float32(0)
		if d.RelevanceScore != nil {
			score = *d.RelevanceScore
		}
		fmt.Fprintf(&sb, "Result %d (Score: %.2f):\n", i+1, score)
		if d.Metadata.Title != "" {
			fmt.Fprintf(&sb, "Title: %s\n", d.Metadata.Title)
		}
		fmt.Fprintf(&sb, "Category: %s\n", d.Metadata.Category)
		if d.Metadata.Date != "" {
			fmt.Fprintf(&sb, "Date: %s\n", d.Metadata.Date)
		}
		fmt.Fprintf(&sb, "URL: %s\n", d.Metadata.URL)
		for _, c := range chunks[d.ID] {
			fmt.Fprintf(&sb, "Passage:\n%s\n", snippet(c.Content))
		}
		sb.WriteString("\n---\n")
	}
	return sb.String()
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= maxSnippetRunes {
		return s
	}
	return string(r[:maxSnippetRunes]) + "..."
}

func (h *Handler) listOrigins(ctx context.Context, id interface{}) *JSONRPCResponse {
	origins := h.origins.Origins()
	if len(origins) == 0 {
		return textResult(id, "No origins configured.", false)
	}

	jsonBytes, err := json.MarshalIndent(origins, "", "  ")
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal origins", "error", err)
		return textResult(id, "Error marshalling results", true)
	}
	return textResult(id, string(jsonBytes), false)
}
