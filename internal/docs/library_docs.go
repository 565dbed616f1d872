package docs

import (
	"context"
	"errors"
	"time"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
)

// LibraryDocs is the get_library_docs output.
type LibraryDocs struct {
	LibraryID string     `json:"library_id"`
	Name      string     `json:"name"`
	Content   string     `json:"content"`
	Cached    bool       `json:"cached"`
	CachedAt  *time.Time `json:"cached_at"`
	Stale     bool       `json:"stale"`
}

// GetLibraryDocs returns the llms.txt table of contents of a library.
func (s *Service) GetLibraryDocs(ctx context.Context, libraryID string) (*LibraryDocs, error) {
	if !domain.IsValidLibraryID(libraryID) {
		return nil, domain.Errorf(domain.EINVALIDINPUT,
			"Provide a valid library ID (lowercase alphanumeric, hyphens, underscores).",
			"invalid library ID: %q", libraryID)
	}

	snap := s.state.Snapshot()
	entry, ok := snap.Index.Entry(libraryID)
	if !ok {
		return nil, domain.Errorf(domain.ELIBRARYNOTFOUND,
			"Call resolve_library with your query to find the correct library ID.",
			"library '%s' not found in registry", libraryID)
	}

	logger := s.logger.With("tool", "get_library_docs", "library_id", libraryID)

	if cached := s.cache.GetToc(ctx, libraryID); cached != nil {
		logger.Info("Cache hit", "stale", cached.Stale)
		if cached.Stale {
			s.refresh("toc:"+libraryID, func(ctx context.Context) error {
				_, err := s.fetchToc(ctx, libraryID, entry.LlmsTxtURL)
				return err
			})
		}
		fetchedAt := cached.FetchedAt
		return &LibraryDocs{
			LibraryID: entry.ID,
			Name:      entry.Name,
			Content:   cached.Content,
			Cached:    true,
			CachedAt:  &fetchedAt,
			Stale:     cached.Stale,
		}, nil
	}

	logger.Info("Cache miss, fetching", "url", entry.LlmsTxtURL)
	content, err := s.fetchToc(ctx, libraryID, entry.LlmsTxtURL)
	if err != nil {
		return nil, tocError(err)
	}

	return &LibraryDocs{
		LibraryID: entry.ID,
		Name:      entry.Name,
		Content:   content,
	}, nil
}

// fetchToc fetches a table of contents and writes it back to the cache.
func (s *Service) fetchToc(ctx context.Context, libraryID, llmsTxtURL string) (string, error) {
	content, err := s.fetcher.Fetch(ctx, llmsTxtURL, s.state.Snapshot().Allowlist)
	if err != nil {
		return "", err
	}

	domains := s.discover(content, tocDepth)
	s.cache.SetToc(ctx, libraryID, llmsTxtURL, content, s.cfg.TTL, domains)
	return content, nil
}

// tocError maps page-level fetch failures to their llms.txt equivalents.
func tocError(err error) error {
	var e *domain.Error
	if !errors.As(err, &e) {
		return err
	}

	switch e.Code {
	case domain.EPAGENOTFOUND:
		return &domain.Error{
			Code:       domain.ELLMSTXTNOTFOUND,
			Message:    e.Message,
			Suggestion: "The llms.txt URL in the registry may be incorrect.",
		}
	case domain.EPAGEFETCHFAILED:
		return &domain.Error{
			Code:        domain.ELLMSTXTFETCHFAILED,
			Message:     e.Message,
			Suggestion:  "The llms.txt file may be temporarily unavailable. Try again later.",
			Recoverable: true,
		}
	}
	return err
}
