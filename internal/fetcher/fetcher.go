package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
)

const (
	DefaultMaxRedirects   = 3
	DefaultRequestTimeout = 30 * time.Second

	suggestionNotAllowed  = "Only URLs from known documentation domains are permitted."
	suggestionUnavailable = "The documentation source may be temporarily unavailable."
)

// Config configures a Fetcher.
type Config struct {
	// Client is the HTTP client to use. Its redirect policy is always
	// overridden so that every hop is validated.
	Client *http.Client

	MaxRedirects int
	Timeout      time.Duration
	UserAgent    string

	// RateLimit is the requests per second allowed per base domain; 0 disables it.
	RateLimit float64

	Logger *slog.Logger
}

// Fetcher fetches documentation over HTTP, re-validating every redirect hop
// against the SSRF guard.
type Fetcher struct {
	client       *http.Client
	maxRedirects int
	userAgent    string
	limiter      *DomainLimiter
	logger       *slog.Logger
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	var client http.Client
	if cfg.Client != nil {
		client = *cfg.Client
	} else {
		client.Transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	client.Timeout = timeout
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	f := &Fetcher{
		client:       &client,
		maxRedirects: cfg.MaxRedirects,
		userAgent:    cfg.UserAgent,
		logger:       cfg.Logger,
	}
	if f.maxRedirects <= 0 {
		f.maxRedirects = DefaultMaxRedirects
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if cfg.RateLimit > 0 {
		f.limiter = NewDomainLimiter(cfg.RateLimit)
	}
	return f
}

// Fetch returns the body of rawURL. Failures are *domain.Error values:
// URL_NOT_ALLOWED when any hop fails the guard, PAGE_NOT_FOUND on 404 and
// PAGE_FETCH_FAILED otherwise.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, allowlist *Allowlist) (string, error) {
	current := rawURL

	for hop := 0; hop <= f.maxRedirects; hop++ {
		if !IsAllowed(current, allowlist) {
			f.logger.Warn("SSRF blocked", "url", current, "reason", "not_in_allowlist")
			return "", domain.Errorf(domain.EURLNOTALLOWED, suggestionNotAllowed,
				"URL not in allowlist: %s", current)
		}

		resp, err := f.do(ctx, current)
		if err != nil {
			return "", domain.RecoverableErrorf(domain.EPAGEFETCHFAILED, suggestionUnavailable,
				"network error fetching %s: %v", rawURL, err)
		}

		if location := resp.Header.Get("Location"); isRedirect(resp.StatusCode) && location != "" {
			drain(resp)
			if hop == f.maxRedirects {
				return "", domain.Errorf(domain.EPAGEFETCHFAILED,
					"The documentation URL has an unusually long redirect chain.",
					"too many redirects fetching %s", rawURL)
			}
			next, err := resolveLocation(current, location)
			if err != nil {
				return "", domain.Errorf(domain.EPAGEFETCHFAILED, suggestionUnavailable,
					"invalid redirect location %q: %v", location, err)
			}
			current = next
			continue
		}

		return f.readBody(resp, rawURL)
	}

	// Unreachable: the final hop either returns or fails on redirect.
	return "", domain.Errorf(domain.EPAGEFETCHFAILED, suggestionUnavailable, "redirect loop fetching %s", rawURL)
}

// CloseIdleConnections closes idle connections held by the HTTP client.
func (f *Fetcher) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*http.Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, BaseDomain(hostname(rawURL))); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	return f.client.Do(req)
}

func (f *Fetcher) readBody(resp *http.Response, rawURL string) (string, error) {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusNotFound {
			return "", domain.Errorf(domain.EPAGENOTFOUND,
				"The requested documentation page does not exist at this URL.",
				"HTTP 404 fetching %s", rawURL)
		}
		return "", domain.RecoverableErrorf(domain.EPAGEFETCHFAILED, suggestionUnavailable,
			"HTTP %d fetching %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.RecoverableErrorf(domain.EPAGEFETCHFAILED, suggestionUnavailable,
			"network error reading %s: %v", rawURL, err)
	}

	f.logger.Info("Fetch complete", "url", rawURL, "status", resp.StatusCode, "content_length", len(body))
	return string(body), nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveLocation(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
