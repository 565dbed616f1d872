// Package docs implements the documentation tools: library resolution,
// table of contents retrieval and page reading, all backed by the cache
// with stale-while-revalidate.
package docs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
	"github.com/sha1n/mcp-docsproxy-server/internal/fetcher"
	"github.com/sha1n/mcp-docsproxy-server/internal/resolver"
	"github.com/sha1n/mcp-docsproxy-server/internal/state"
)

// Allowlist expansion thresholds: discovered domains widen the live
// allowlist only when the configured depth reaches the content's level.
const (
	tocDepth  = 1
	pageDepth = 2
)

const (
	DefaultTTL            = 24 * time.Hour
	DefaultRefreshTimeout = 30 * time.Second
)

// Fetcher fetches a URL under the SSRF allowlist.
type Fetcher interface {
	Fetch(ctx context.Context, url string, allowlist *fetcher.Allowlist) (string, error)
}

// Cache stores fetched content. Implementations never fail loudly.
type Cache interface {
	GetToc(ctx context.Context, libraryID string) *domain.TocEntry
	SetToc(ctx context.Context, libraryID, llmsTxtURL, content string, ttl time.Duration, discoveredDomains []string)
	GetPage(ctx context.Context, urlHash string) *domain.PageEntry
	SetPage(ctx context.Context, url, urlHash, content, headings string, ttl time.Duration, discoveredDomains []string)
}

// Config configures a Service.
type Config struct {
	// TTL is how long fetched content stays fresh.
	TTL time.Duration

	// AllowlistDepth gates live allowlist expansion: 0 never, 1 from tables
	// of contents, 2 also from pages.
	AllowlistDepth int

	// RefreshTimeout bounds each background refresh.
	RefreshTimeout time.Duration

	Resolver resolver.Options
}

// Service serves the documentation tools.
type Service struct {
	state   *state.State
	fetcher Fetcher
	cache   Cache
	cfg     Config
	logger  *slog.Logger

	refreshCtx    context.Context
	cancelRefresh context.CancelFunc
	refreshes     sync.WaitGroup
	inflight      sync.Map
}

// NewService creates a Service.
func NewService(st *state.State, f Fetcher, c Cache, cfg Config, logger *slog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		state:         st,
		fetcher:       f,
		cache:         c,
		cfg:           cfg,
		logger:        logger,
		refreshCtx:    ctx,
		cancelRefresh: cancel,
	}
}

// Shutdown cancels in-flight background refreshes and waits for them to exit.
func (s *Service) Shutdown() {
	s.cancelRefresh()
	s.refreshes.Wait()
}

// refresh runs fn in the background, detached from the request that
// triggered it. At most one refresh per key runs at a time. Failures and
// panics are logged and never reach the caller.
func (s *Service) refresh(key string, fn func(ctx context.Context) error) {
	if s.refreshCtx.Err() != nil {
		return
	}
	if _, running := s.inflight.LoadOrStore(key, struct{}{}); running {
		return
	}

	s.refreshes.Add(1)
	go func() {
		defer s.refreshes.Done()
		defer s.inflight.Delete(key)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Warn("Stale refresh failed", "key", key, "error", fmt.Sprint(r))
			}
		}()

		ctx, cancel := context.WithTimeout(s.refreshCtx, s.cfg.RefreshTimeout)
		defer cancel()

		s.logger.Info("Stale refresh started", "key", key)
		if err := fn(ctx); err != nil {
			s.logger.Warn("Stale refresh failed", "key", key, "error", err)
			return
		}
		s.logger.Info("Stale refresh complete", "key", key)
	}()
}

// discover returns the base domains referenced by content, widening the live
// allowlist with them when the configured depth reaches threshold.
func (s *Service) discover(content string, threshold int) []string {
	domains := fetcher.ExtractBaseDomains(content)
	if s.cfg.AllowlistDepth >= threshold && len(domains) > 0 {
		if s.state.ExpandAllowlist(domains) {
			s.logger.Info("Allowlist expanded", "domains", len(domains),
				"allowlist_size", s.state.Snapshot().Allowlist.Len())
		}
	}
	return domains
}
