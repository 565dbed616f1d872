package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-docsproxy-server/internal/docs"
)

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string

	// Docs serves the documentation tools. Nil creates a server without tools.
	Docs *docs.Service
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &mcp.ServerOptions{
		Instructions: "Resolve a library with resolve_library, read its llms.txt table of contents " +
			"with get_library_docs, then read individual pages with read_page.",
	})

	if cfg.Docs != nil {
		docs.RegisterTools(s, cfg.Docs)
	}

	return s
}
