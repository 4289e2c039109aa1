package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/shelf/internal/backup"
	"github.com/kalambet/shelf/internal/library"
	"github.com/kalambet/shelf/internal/snapshot"
	"github.com/kalambet/shelf/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := backup.New(store, nil, &testSettings{})
	return MCPDeps{
		Store:   store,
		Library: library.NewManager(store, library.WithGuard(svc)),
		Backup:  svc,
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestMCPTool_AddLinkAndList(t *testing.T) {
	deps, store := newTestMCPDeps(t)

	result, err := mcpAddLink(deps)(context.Background(), makeCallToolRequest("add_link", map[string]interface{}{
		"title":    "Galois theory notes",
		"url":      "https://example.com/galois",
		"category": "algebra",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if !strings.HasPrefix(toolText(t, result), "Stored link ") {
		t.Errorf("text = %q", toolText(t, result))
	}

	all, _ := store.GetAll(context.Background())
	if len(all) != 1 || all[0].Category != "algebra" {
		t.Fatalf("stored = %+v", all)
	}

	result, _ = mcpListMaterials(deps)(context.Background(), makeCallToolRequest("list_materials", map[string]interface{}{
		"category": "algebra",
	}))
	var list []materialSummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &list); err != nil {
		t.Fatalf("list is not JSON: %v", err)
	}
	if len(list) != 1 || list[0].Link != "https://example.com/galois" {
		t.Errorf("list = %+v", list)
	}
}

func TestMCPTool_AddLinkRejections(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpAddLink(deps)

	for _, args := range []map[string]interface{}{
		{"url": "http://x", "category": "algebra"},
		{"title": "t", "category": "algebra"},
		{"title": "t", "url": "http://x"},
		{"title": "t", "url": "http://x", "category": "poetry"},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("add_link", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v accepted", args)
		}
	}
	if all, _ := store.GetAll(context.Background()); len(all) != 0 {
		t.Errorf("store has %d records", len(all))
	}
}

func TestMCPTool_DeleteMaterial(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedFile(t, store, "a.txt", "text/plain", []byte("a"))
	handler := mcpDeleteMaterial(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("delete_material", map[string]interface{}{"id": float64(1)}))
	if result.IsError {
		t.Fatalf("delete failed: %s", toolText(t, result))
	}
	result, _ = handler(context.Background(), makeCallToolRequest("delete_material", map[string]interface{}{"id": float64(1)}))
	if !result.IsError || !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("second delete = %q", toolText(t, result))
	}
}

func TestMCPTool_ExportSnapshot(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedFile(t, store, "a.txt", "text/plain", []byte("a"))

	result, _ := mcpExportSnapshot(deps)(context.Background(), makeCallToolRequest("export_snapshot", nil))
	entries, err := snapshot.Decode([]byte(toolText(t, result)))
	if err != nil || len(entries) != 1 || entries[0].Title() != "a" {
		t.Errorf("export = %v entries, %v", len(entries), err)
	}
}

func TestMCPTool_PushWithoutCredential(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, _ := mcpPushSnapshot(deps)(context.Background(), makeCallToolRequest("push_snapshot", nil))
	if !result.IsError || !strings.Contains(toolText(t, result), "credential") {
		t.Errorf("push = %q", toolText(t, result))
	}
}

func TestMCPResource_Categories(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedFile(t, store, "a.txt", "text/plain", []byte("a"))

	contents, err := mcpResourceCategories(deps)(context.Background(), makeReadResourceRequest("library://categories"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var got []categoryCount
	if err := json.Unmarshal([]byte(tc.Text), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 || got[0].Key != "textbooks" || got[0].Count != 1 {
		t.Errorf("categories = %+v", got)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpAddLink(deps)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := handler(context.Background(), makeCallToolRequest("add_link", map[string]interface{}{
				"title": "t", "url": "http://x", "category": "useful",
			}))
			if err != nil || result.IsError {
				t.Errorf("concurrent add failed: %v", err)
			}
		}()
	}
	wg.Wait()

	all, _ := store.GetAll(context.Background())
	if len(all) != 10 {
		t.Errorf("stored %d, want 10", len(all))
	}
	if NewMCPServer(deps) == nil {
		t.Error("NewMCPServer returned nil")
	}
}
