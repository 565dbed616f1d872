package docs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
)

// ResolveLibraryArgs defines resolve_library parameters.
type ResolveLibraryArgs struct {
	Query string `json:"query" jsonschema:"Library name, package name or alias, e.g. langchain-openai>=0.3 or pydantic"`
}

// GetLibraryDocsArgs defines get_library_docs parameters.
type GetLibraryDocsArgs struct {
	LibraryID string `json:"library_id" jsonschema:"Library ID returned by resolve_library"`
}

// ReadPageArgs defines read_page parameters.
type ReadPageArgs struct {
	URL    string `json:"url" jsonschema:"Documentation page URL, usually taken from a library's llms.txt"`
	Offset *int   `json:"offset,omitempty" jsonschema:"1-based line to start reading from (default 1)"`
	Limit  *int   `json:"limit,omitempty" jsonschema:"Maximum number of lines to return (default 2000)"`
}

// ResolveLibraryHandler handles the resolve_library MCP tool.
type ResolveLibraryHandler struct {
	service *Service
}

// NewResolveLibraryHandler creates a new resolve_library handler.
func NewResolveLibraryHandler(service *Service) *ResolveLibraryHandler {
	return &ResolveLibraryHandler{service: service}
}

// Handle resolves the query and returns the ranked matches.
func (h *ResolveLibraryHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ResolveLibraryArgs) (*mcp.CallToolResult, any, error) {
	result, err := h.service.ResolveLibrary(ctx, args.Query)
	return toolResult(result, err)
}

// GetToolDefinition returns the MCP tool definition.
func (h *ResolveLibraryHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name: "resolve_library",
		Description: "Resolve a library name, package name or alias to a known library ID. " +
			"Call this first, then pass the library_id to get_library_docs.",
	}
}

// GetLibraryDocsHandler handles the get_library_docs MCP tool.
type GetLibraryDocsHandler struct {
	service *Service
}

// NewGetLibraryDocsHandler creates a new get_library_docs handler.
func NewGetLibraryDocsHandler(service *Service) *GetLibraryDocsHandler {
	return &GetLibraryDocsHandler{service: service}
}

// Handle returns the library's llms.txt table of contents.
func (h *GetLibraryDocsHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args GetLibraryDocsArgs) (*mcp.CallToolResult, any, error) {
	result, err := h.service.GetLibraryDocs(ctx, args.LibraryID)
	return toolResult(result, err)
}

// GetToolDefinition returns the MCP tool definition.
func (h *GetLibraryDocsHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name: "get_library_docs",
		Description: "Get the llms.txt table of contents for a library. " +
			"The content lists documentation pages that can be read with read_page.",
	}
}

// ReadPageHandler handles the read_page MCP tool.
type ReadPageHandler struct {
	service *Service
}

// NewReadPageHandler creates a new read_page handler.
func NewReadPageHandler(service *Service) *ReadPageHandler {
	return &ReadPageHandler{service: service}
}

// Handle returns a window of a documentation page with its heading map.
func (h *ReadPageHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ReadPageArgs) (*mcp.CallToolResult, any, error) {
	offset, limit := 1, DefaultLimit
	if args.Offset != nil {
		offset = *args.Offset
	}
	if args.Limit != nil {
		limit = *args.Limit
	}

	result, err := h.service.ReadPage(ctx, args.URL, offset, limit)
	return toolResult(result, err)
}

// GetToolDefinition returns the MCP tool definition.
func (h *ReadPageHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name: "read_page",
		Description: "Read a documentation page. Returns a window of lines plus a heading map " +
			"with line numbers; use offset and limit to page through long documents.",
	}
}

// RegisterTools registers every documentation tool with an MCP server.
func RegisterTools(server *mcp.Server, service *Service) {
	resolve := NewResolveLibraryHandler(service)
	mcp.AddTool(server, resolve.GetToolDefinition(), resolve.Handle)

	libraryDocs := NewGetLibraryDocsHandler(service)
	mcp.AddTool(server, libraryDocs.GetToolDefinition(), libraryDocs.Handle)

	readPage := NewReadPageHandler(service)
	mcp.AddTool(server, readPage.GetToolDefinition(), readPage.Handle)
}

// toolResult renders a service result as JSON text. Expected failures become
// tool errors carrying the {"error": {...}} envelope; anything else is
// returned as a handler error.
func toolResult(result any, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		var e *domain.Error
		if !errors.As(err, &e) {
			return nil, nil, err
		}
		text, merr := json.Marshal(e.Envelope())
		if merr != nil {
			return nil, nil, merr
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
			IsError: true,
		}, nil, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
	}, nil, nil
}
