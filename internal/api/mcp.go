package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/shelf/internal/backup"
	"github.com/kalambet/shelf/internal/library"
	"github.com/kalambet/shelf/internal/material"
	"github.com/kalambet/shelf/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store      *storage.Store
	Library    *library.Manager
	Backup     *backup.Service
	Categories material.Categories
	Version    string
}

// NewMCPServer creates an MCP server exposing the library as tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if len(deps.Categories) == 0 {
		deps.Categories = material.DefaultCategories
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := server.NewMCPServer(
		"shelf",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("shelf is a personal library of math study materials: uploaded files and saved links grouped by category."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_materials",
			mcp.WithDescription("List library materials, optionally restricted to one category. File contents are omitted."),
			mcp.WithString("category", mcp.Description("Category key, e.g. algebra")),
		),
		mcpListMaterials(deps),
	)

	s.AddTool(
		mcp.NewTool("add_link",
			mcp.WithDescription("Save a web link into the library."),
			mcp.WithString("title", mcp.Description("Display title"), mcp.Required()),
			mcp.WithString("url", mcp.Description("Link target"), mcp.Required()),
			mcp.WithString("category", mcp.Description("Category key"), mcp.Required()),
			mcp.WithString("description", mcp.Description("Optional note")),
		),
		mcpAddLink(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_material",
			mcp.WithDescription("Delete one material by id."),
			mcp.WithNumber("id", mcp.Description("Material id"), mcp.Required()),
		),
		mcpDeleteMaterial(deps),
	)

	s.AddTool(
		mcp.NewTool("export_snapshot",
			mcp.WithDescription("Return the whole library as a JSON snapshot."),
		),
		mcpExportSnapshot(deps),
	)

	s.AddTool(
		mcp.NewTool("push_snapshot",
			mcp.WithDescription("Upload a snapshot of the library to the configured remote gist."),
		),
		mcpPushSnapshot(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"library://categories",
			"Library Categories",
			mcp.WithResourceDescription("Configured categories with material counts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCategories(deps),
	)

	return s
}

func mcpListMaterials(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category := req.GetString("category", "")

		var (
			ms  []material.Material
			err error
		)
		if category != "" {
			if !deps.Categories.Contains(category) {
				return mcpError(fmt.Sprintf("unknown category %q (valid: %s)", category, deps.Categories)), nil
			}
			ms, err = deps.Store.ListByCategory(ctx, category)
		} else {
			ms, err = deps.Store.GetAll(ctx)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list materials: %v", err)), nil
		}

		b, err := json.Marshal(summarize(ms))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal materials: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddLink(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		url, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}
		category, err := req.RequireString("category")
		if err != nil {
			return mcpError("category is required"), nil
		}
		if !deps.Categories.Contains(category) {
			return mcpError(fmt.Sprintf("unknown category %q (valid: %s)", category, deps.Categories)), nil
		}

		m, err := deps.Library.AddLink(ctx, library.LinkInput{
			Title:       title,
			URL:         url,
			Category:    category,
			Description: req.GetString("description", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to add link: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored link %d", m.ID)), nil
	}
}

func mcpDeleteMaterial(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("id")
		if err != nil || id <= 0 {
			return mcpError("id must be a positive integer"), nil
		}

		err = deps.Library.Delete(ctx, int64(id))
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("material %d not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to delete: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted material %d", id)), nil
	}
}

func mcpExportSnapshot(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var buf bytes.Buffer
		if _, err := deps.Backup.Export(ctx, &buf); err != nil {
			return mcpError(fmt.Sprintf("export failed: %v", err)), nil
		}
		return mcpText(buf.String()), nil
	}
}

func mcpPushSnapshot(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Backup.Push(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("push failed: %v", err)), nil
		}
		verb := "Updated"
		if res.Created {
			verb = "Created"
		}
		return mcpText(fmt.Sprintf("%s gist %s with %d materials: %s", verb, res.RemoteID, res.Count, res.URL)), nil
	}
}

func mcpResourceCategories(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		counts, err := deps.Store.CategoryCounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count categories: %w", err)
		}

		b, err := json.Marshal(categoryCounts(deps.Categories, counts))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal categories: %w", err)
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
