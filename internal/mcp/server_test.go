package mcp

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-docsproxy-server/internal/cache"
	"github.com/sha1n/mcp-docsproxy-server/internal/docs"
	"github.com/sha1n/mcp-docsproxy-server/internal/fetcher"
	"github.com/sha1n/mcp-docsproxy-server/internal/registry"
	"github.com/sha1n/mcp-docsproxy-server/internal/resolver"
	"github.com/sha1n/mcp-docsproxy-server/internal/state"
)

func newDocsService(t *testing.T) *docs.Service {
	t.Helper()

	entries, err := registry.Bundled()
	if err != nil {
		t.Fatalf("Failed to load bundled registry: %v", err)
	}

	db := cache.NewDB(cache.MemoryPath)
	if err := db.Open(); err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	svc := docs.NewService(
		state.New(entries, registry.BundledVersion, nil),
		fetcher.New(fetcher.Config{}),
		cache.New(db, nil),
		docs.Config{Resolver: resolver.DefaultOptions()},
		nil,
	)
	t.Cleanup(svc.Shutdown)
	return svc
}

func connect(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("Server connect failed: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("Client connect failed: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestCreateServer(t *testing.T) {
	cfg := ServerConfig{
		Name:    "test-server",
		Version: "1.0.0",
	}

	server := CreateServer(cfg)
	if server == nil {
		t.Fatal("Expected server to be created")
	}
}

func TestCreateServer_EmptyConfig(t *testing.T) {
	server := CreateServer(ServerConfig{})
	if server == nil {
		t.Fatal("Expected server to be created even with empty config")
	}
}

func TestCreateServer_WithoutDocsService(t *testing.T) {
	session := connect(t, CreateServer(ServerConfig{Name: "test-server", Version: "1.0.0"}))

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(result.Tools) != 0 {
		t.Errorf("Expected no tools without docs service, got %d", len(result.Tools))
	}
}

func TestCreateServer_ToolsRegistered(t *testing.T) {
	server := CreateServer(ServerConfig{
		Name:    "docsproxy-mcp",
		Version: "1.0.0",
		Docs:    newDocsService(t),
	})
	session := connect(t, server)

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		if tool.Description == "" {
			t.Errorf("Tool %s has no description", tool.Name)
		}
	}
	sort.Strings(names)
	want := []string{"get_library_docs", "read_page", "resolve_library"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("Registered tools = %v, want %v", names, want)
	}
}

func TestCreateServer_ResolveLibraryOverProtocol(t *testing.T) {
	session := connect(t, CreateServer(ServerConfig{Name: "docsproxy-mcp", Docs: newDocsService(t)}))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "resolve_library",
		Arguments: map[string]any{"query": "Pydantic[email]>=2.0"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("Unexpected tool error: %+v", result.Content)
	}

	text := result.Content[0].(*mcp.TextContent).Text
	var out docs.ResolveLibraryResult
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("Invalid result JSON %q: %v", text, err)
	}
	if len(out.Matches) == 0 || out.Matches[0].LibraryID != "pydantic" {
		t.Errorf("Expected pydantic as first match, got %+v", out.Matches)
	}
}

func TestCreateServer_ToolErrorEnvelopeOverProtocol(t *testing.T) {
	session := connect(t, CreateServer(ServerConfig{Name: "docsproxy-mcp", Docs: newDocsService(t)}))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "read_page",
		Arguments: map[string]any{"url": "https://evil.example/page.md"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if !result.IsError {
		t.Fatal("Expected a tool error for a URL outside the allowlist")
	}

	text := result.Content[0].(*mcp.TextContent).Text
	var envelope struct {
		Error struct {
			Code        string `json:"code"`
			Recoverable bool   `json:"recoverable"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(text), &envelope); err != nil {
		t.Fatalf("Invalid envelope %q: %v", text, err)
	}
	if envelope.Error.Code != "URL_NOT_ALLOWED" || envelope.Error.Recoverable {
		t.Errorf("Unexpected envelope %+v", envelope.Error)
	}
}
