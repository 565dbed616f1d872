package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-docsproxy-server/internal/config"
	mcputil "github.com/sha1n/mcp-docsproxy-server/internal/mcp"
)

// ServerName is reported to MCP clients during initialization.
const ServerName = "docsproxy-mcp"

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartHTTPServer   func(context.Context, *mcp.Server, *config.Settings, *slog.Logger) error
	CreateServer      func(context.Context, *config.Settings, *slog.Logger, string) (*mcp.Server, func(), error)
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
	LogOutput         io.Writer     // Optional: defaults to stderr
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:    config.LoadSettingsWithFlags,
		ValidSettings:   config.ValidateSettings,
		StartHTTPServer: StartHTTPServer,
		CreateServer:    CreateMCPServer,
	}
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	// Load settings
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Validate settings
	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Configure logging - always use stderr, stdout carries the stdio transport
	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := config.NewLogger(out, settings.Logging)
	slog.SetDefault(logger)

	logger.Info("Starting docsproxy MCP server", "version", version, "transport", settings.Transport)
	config.LogWithLogger(settings, logger)

	mcpServer, cleanup, err := params.CreateServer(ctx, settings, logger, version)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	// Start server
	if settings.Transport == config.TransportStdio {
		// Use custom transport if provided (for testing), otherwise use stdio
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return mcpServer.Run(ctx, transport)
	}

	logger.Info("Starting HTTP server", "host", settings.Host, "port", settings.Port)
	return params.StartHTTPServer(ctx, mcpServer, settings, logger)
}

// CreateMCPServer builds the runtime, starts its background duties and
// creates the MCP server with the documentation tools registered. The
// returned cleanup shuts the runtime down.
func CreateMCPServer(ctx context.Context, settings *config.Settings, logger *slog.Logger, version string) (*mcp.Server, func(), error) {
	rt, err := NewRuntime(ctx, settings, logger, version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create runtime: %w", err)
	}

	rt.Bootstrap(ctx)
	rt.Start(ctx)

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:    ServerName,
		Version: version,
		Docs:    rt.Docs,
	})

	cleanup := func() {
		if err := rt.Close(); err != nil {
			logger.Error("Failed to shut down cleanly", "error", err)
		}
		logger.Info("Server stopped")
	}

	return server, cleanup, nil
}
