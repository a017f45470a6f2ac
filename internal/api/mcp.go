package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/brfsskit/sqldraft/internal/dataset"
	"github.com/brfsskit/sqldraft/internal/drafting"
)

const recentDrafts = 10

// NewMCPServer creates an MCP server exposing the drafting tools and the
// sample and history resources.
func NewMCPServer(svc *Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"sqldraft",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("sqldraft drafts SQL over locally loaded BRFSS survey tables (brfss_2016 ... brfss_2023) using Gemini and the yearly codebooks."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("draft_sql",
			mcp.WithDescription("Draft a SQL query over the loaded BRFSS tables for a natural-language question."),
			mcp.WithString("prompt", mcp.Description("The analysis question"), mcp.Required()),
			mcp.WithString("years", mcp.Description("Comma-separated survey years to consider (default: all loaded tables)")),
		),
		mcpDraftSQL(svc),
	)

	s.AddTool(
		mcp.NewTool("check_info_files",
			mcp.WithDescription("Report which yearly reference documents are present in the Gemini file store."),
			mcp.WithString("years", mcp.Description("Comma-separated survey years (default: every year with a reference document)")),
		),
		mcpCheckInfoFiles(svc),
	)

	s.AddTool(
		mcp.NewTool("list_datasets",
			mcp.WithDescription("List survey years with their table names and load state."),
		),
		mcpListDatasets(svc),
	)

	s.AddTool(
		mcp.NewTool("run_query",
			mcp.WithDescription("Run a SQL statement against the local survey tables and return the rows as JSON."),
			mcp.WithString("sql", mcp.Description("SQL statement"), mcp.Required()),
		),
		mcpRunQuery(svc),
	)

	s.AddTool(
		mcp.NewTool("lookup_variable",
			mcp.WithDescription("Look up a survey variable in a year's data dictionary."),
			mcp.WithNumber("year", mcp.Description("Survey year"), mcp.Required()),
			mcp.WithString("term", mcp.Description("Variable name or part of it"), mcp.Required()),
		),
		mcpLookupVariable(svc),
	)

	s.AddResource(
		mcp.NewResource(
			"brfss://samples",
			"Sample Queries",
			mcp.WithResourceDescription("Canned example queries and whether their tables are loaded"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSamples(svc),
	)

	s.AddResource(
		mcp.NewResource(
			"brfss://drafts/recent",
			"Recent Drafts",
			mcp.WithResourceDescription("Last 10 drafting calls"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentDrafts(svc),
	)

	return s
}

func mcpDraftSQL(svc *Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}
		years, err := dataset.ParseYears(req.GetString("years", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		out, err := svc.Draft(ctx, DraftInput{Prompt: prompt, Years: years})
		if err != nil {
			var genErr *drafting.GenerationError
			if errors.As(err, &genErr) || errors.Is(err, drafting.ErrEmptyResponse) {
				return mcpError(fmt.Sprintf("drafting failed: %v", err)), nil
			}
			return mcpError(err.Error()), nil
		}
		return mcpJSON(out)
	}
}

func mcpCheckInfoFiles(svc *Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		years, err := dataset.ParseYears(req.GetString("years", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		report, err := svc.Presence(ctx, "", years)
		if err != nil {
			return mcpError(fmt.Sprintf("presence check failed: %v", err)), nil
		}
		return mcpJSON(report)
	}
}

func mcpListDatasets(svc *Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ds, err := svc.Datasets(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing datasets failed: %v", err)), nil
		}
		return mcpJSON(ds)
	}
}

func mcpRunQuery(svc *Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stmt, err := req.RequireString("sql")
		if err != nil {
			return mcpError("sql is required"), nil
		}
		res, err := svc.Query(ctx, stmt)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpLookupVariable(svc *Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		year := dataset.Year(req.GetInt("year", 0))
		if !dataset.IsKnown(year) {
			return mcpError(fmt.Sprintf("unknown survey year %d", int(year))), nil
		}
		term := req.GetString("term", "")
		entry, err := svc.Lookup(year, term)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(entry)
	}
}

func mcpResourceSamples(svc *Service) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := svc.Samples(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list samples: %w", err)
		}
		return jsonResource(req.Params.URI, list)
	}
}

func mcpResourceRecentDrafts(svc *Service) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		drafts, err := svc.deps.Store.ListDrafts(recentDrafts, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent drafts: %w", err)
		}

		type draftSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Prompt    string `json:"prompt"`
			Status    string `json:"status"`
		}

		summaries := make([]draftSummary, len(drafts))
		for i, d := range drafts {
			summaries[i] = draftSummary{
				ID:        d.ID,
				CreatedAt: d.CreatedAt.Format(time.RFC3339),
				Prompt:    truncateRunes(d.Prompt, 200),
				Status:    d.Status,
			}
		}
		return jsonResource(req.Params.URI, summaries)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
