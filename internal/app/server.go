package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-docsproxy-server/internal/auth"
	"github.com/sha1n/mcp-docsproxy-server/internal/config"
)

const shutdownTimeout = 10 * time.Second

// StartHTTPServer serves the streamable HTTP transport until ctx is done.
func StartHTTPServer(ctx context.Context, s *mcp.Server, settings *config.Settings, logger *slog.Logger) error {
	authSettings, generated, err := auth.ResolveKey(settings.Auth)
	if err != nil {
		return err
	}
	if generated {
		logger.Warn("HTTP auth key auto-generated", "auth_key", authSettings.Key)
	}
	if !authSettings.Enabled {
		logger.Warn("HTTP auth disabled")
	}

	srv, err := NewHTTPServer(s, settings, authSettings)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening (HTTP)", "addr", srv.Addr, "auth_enabled", authSettings.Enabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewHTTPServer creates the streamable HTTP server behind the security middleware
func NewHTTPServer(s *mcp.Server, settings *config.Settings, authSettings config.AuthSettings) (*http.Server, error) {
	// Factory function returns the server instance for each request
	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s
	}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/mcp", mcpHandler)

	middleware, err := auth.NewMiddleware(authSettings)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth middleware: %w", err)
	}

	handler := middleware(mux)
	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}
