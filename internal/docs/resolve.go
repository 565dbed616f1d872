package docs

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
	"github.com/sha1n/mcp-docsproxy-server/internal/resolver"
)

// MaxQueryLength is the longest accepted resolve_library query, in characters.
const MaxQueryLength = 500

// ResolveLibraryResult is the resolve_library output.
type ResolveLibraryResult struct {
	Matches []domain.LibraryMatch `json:"matches"`
}

// ResolveLibrary resolves query against the current registry.
func (s *Service) ResolveLibrary(_ context.Context, query string) (*ResolveLibraryResult, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > MaxQueryLength {
		return nil, domain.Errorf(domain.EINVALIDINPUT,
			"Provide a non-empty library name, package name, or alias (max 500 chars).",
			"query must be between 1 and %d characters", MaxQueryLength)
	}

	matches := resolver.Resolve(trimmed, s.state.Snapshot().Index, s.cfg.Resolver)
	s.logger.Info("Resolve complete", "query", trimmed, "match_count", len(matches))

	return &ResolveLibraryResult{Matches: matches}, nil
}
