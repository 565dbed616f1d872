package docs

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/sha1n/mcp-docsproxy-server/internal/cache"
	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
	"github.com/sha1n/mcp-docsproxy-server/internal/fetcher"
)

const (
	MaxURLLength = 2048
	DefaultLimit = 2000
)

// Page is the read_page output. Content holds only the requested window of lines.
type Page struct {
	URL        string     `json:"url"`
	Headings   string     `json:"headings"`
	TotalLines int        `json:"total_lines"`
	Offset     int        `json:"offset"`
	Limit      int        `json:"limit"`
	Content    string     `json:"content"`
	Cached     bool       `json:"cached"`
	CachedAt   *time.Time `json:"cached_at"`
	Stale      bool       `json:"stale"`
}

// ReadPage returns a window of lines from a documentation page together with
// the page's heading map. offset is 1-based.
func (s *Service) ReadPage(ctx context.Context, rawURL string, offset, limit int) (*Page, error) {
	if err := validatePageRequest(rawURL, offset, limit); err != nil {
		return nil, err
	}

	// Checked before the cache so pages whose domain left the allowlist are
	// not served from cache either.
	if !fetcher.IsAllowed(rawURL, s.state.Snapshot().Allowlist) {
		s.logger.Warn("SSRF blocked", "url", rawURL, "reason", "not_in_allowlist")
		return nil, domain.Errorf(domain.EURLNOTALLOWED,
			"Only URLs from known documentation domains are permitted.",
			"URL not in allowlist: %s", rawURL)
	}

	logger := s.logger.With("tool", "read_page", "url", rawURL)
	urlHash := cache.URLHash(rawURL)

	if cached := s.cache.GetPage(ctx, urlHash); cached != nil {
		logger.Info("Cache hit", "stale", cached.Stale)
		if cached.Stale {
			pageURL := cached.URL
			s.refresh("page:"+urlHash, func(ctx context.Context) error {
				_, _, err := s.fetchPage(ctx, pageURL, urlHash)
				return err
			})
		}
		page := buildPage(cached.URL, cached.Content, cached.Headings, offset, limit)
		fetchedAt := cached.FetchedAt
		page.Cached = true
		page.CachedAt = &fetchedAt
		page.Stale = cached.Stale
		return page, nil
	}

	logger.Info("Cache miss, fetching")
	content, headings, err := s.fetchPage(ctx, rawURL, urlHash)
	if err != nil {
		return nil, err
	}

	return buildPage(rawURL, content, headings, offset, limit), nil
}

// fetchPage fetches a page, extracts its headings and writes it back to the cache.
func (s *Service) fetchPage(ctx context.Context, pageURL, urlHash string) (string, string, error) {
	content, err := s.fetcher.Fetch(ctx, pageURL, s.state.Snapshot().Allowlist)
	if err != nil {
		return "", "", err
	}

	headings := ParseHeadings(content)
	domains := s.discover(content, pageDepth)
	s.cache.SetPage(ctx, pageURL, urlHash, content, headings, s.cfg.TTL, domains)
	return content, headings, nil
}

func validatePageRequest(rawURL string, offset, limit int) error {
	const suggestion = "Provide a valid URL (http/https, max 2048 chars), offset >= 1, limit >= 1."

	if rawURL == "" || len(rawURL) > MaxURLLength {
		return domain.Errorf(domain.EINVALIDINPUT, suggestion, "url must be between 1 and %d characters", MaxURLLength)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.Errorf(domain.EINVALIDINPUT, suggestion, "url must be an absolute http or https URL")
	}
	if offset < 1 {
		return domain.Errorf(domain.EINVALIDINPUT, suggestion, "offset must be >= 1, got %d", offset)
	}
	if limit < 1 {
		return domain.Errorf(domain.EINVALIDINPUT, suggestion, "limit must be >= 1, got %d", limit)
	}
	return nil
}

func buildPage(pageURL, content, headings string, offset, limit int) *Page {
	lines := splitLines(content)
	return &Page{
		URL:        pageURL,
		Headings:   headings,
		TotalLines: len(lines),
		Offset:     offset,
		Limit:      limit,
		Content:    strings.Join(window(lines, offset, limit), "\n"),
	}
}

// window returns lines[offset-1 : offset-1+limit], clamped to the slice.
func window(lines []string, offset, limit int) []string {
	start := offset - 1
	if start >= len(lines) {
		return nil
	}
	end := min(start+limit, len(lines))
	return lines[start:end]
}
