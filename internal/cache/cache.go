package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
)

const (
	// GracePeriod is how long past expiry an entry is kept for stale serving.
	GracePeriod = 7 * 24 * time.Hour

	// timeFormat is fixed-width so stored timestamps compare lexically.
	timeFormat = "2006-01-02T15:04:05.000000Z"

	lastCleanupKey = "last_cleanup_at"
)

// Cache is the documentation cache. Storage failures never escape it:
// failed reads are misses and failed writes are logged and dropped.
type Cache struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Cache on an open DB.
func New(db *DB, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{db: db, logger: logger, now: time.Now}
}

// URLHash returns the page cache key for url.
func URLHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// GetToc returns the cached table of contents for libraryID, or nil on miss.
func (c *Cache) GetToc(ctx context.Context, libraryID string) *domain.TocEntry {
	var (
		entry     domain.TocEntry
		domains   string
		fetchedAt string
		expiresAt string
	)
	err := c.db.queryRow(ctx,
		`SELECT library_id, llms_txt_url, content, discovered_domains, fetched_at, expires_at
		FROM toc_cache WHERE library_id = ?`, libraryID,
	).Scan(&entry.LibraryID, &entry.LlmsTxtURL, &entry.Content, &domains, &fetchedAt, &expiresAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.Warn("Cache read failed", "key", "toc:"+libraryID, "error", err)
		}
		return nil
	}

	if entry.FetchedAt, entry.ExpiresAt, err = parseTimes(fetchedAt, expiresAt); err != nil {
		c.logger.Warn("Cache read failed", "key", "toc:"+libraryID, "error", err)
		return nil
	}
	entry.DiscoveredDomains = splitDomains(domains)
	entry.Stale = c.now().After(entry.ExpiresAt)
	return &entry
}

// SetToc upserts a table of contents that expires after ttl.
func (c *Cache) SetToc(ctx context.Context, libraryID, llmsTxtURL, content string, ttl time.Duration, discoveredDomains []string) {
	now := c.now().UTC()
	_, err := c.db.exec(ctx,
		`INSERT OR REPLACE INTO toc_cache
		(library_id, llms_txt_url, content, discovered_domains, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		libraryID, llmsTxtURL, content, joinDomains(discoveredDomains),
		now.Format(timeFormat), now.Add(ttl).Format(timeFormat),
	)
	if err != nil {
		c.logger.Warn("Cache write failed", "key", "toc:"+libraryID, "error", err)
	}
}

// GetPage returns the cached page for urlHash, or nil on miss.
func (c *Cache) GetPage(ctx context.Context, urlHash string) *domain.PageEntry {
	var (
		entry     domain.PageEntry
		domains   string
		fetchedAt string
		expiresAt string
	)
	err := c.db.queryRow(ctx,
		`SELECT url_hash, url, content, headings, discovered_domains, fetched_at, expires_at
		FROM page_cache WHERE url_hash = ?`, urlHash,
	).Scan(&entry.URLHash, &entry.URL, &entry.Content, &entry.Headings, &domains, &fetchedAt, &expiresAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.Warn("Cache read failed", "key", "page:"+urlHash, "error", err)
		}
		return nil
	}

	if entry.FetchedAt, entry.ExpiresAt, err = parseTimes(fetchedAt, expiresAt); err != nil {
		c.logger.Warn("Cache read failed", "key", "page:"+urlHash, "error", err)
		return nil
	}
	entry.DiscoveredDomains = splitDomains(domains)
	entry.Stale = c.now().After(entry.ExpiresAt)
	return &entry
}

// SetPage upserts a page that expires after ttl.
func (c *Cache) SetPage(ctx context.Context, url, urlHash, content, headings string, ttl time.Duration, discoveredDomains []string) {
	now := c.now().UTC()
	_, err := c.db.exec(ctx,
		`INSERT OR REPLACE INTO page_cache
		(url_hash, url, content, headings, discovered_domains, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		urlHash, url, content, headings, joinDomains(discoveredDomains),
		now.Format(timeFormat), now.Add(ttl).Format(timeFormat),
	)
	if err != nil {
		c.logger.Warn("Cache write failed", "key", "page:"+urlHash, "error", err)
	}
}

// LoadDiscoveredDomains returns the union of discovered domains recorded on
// the requested entry kinds, sorted. Any failure yields an empty result.
func (c *Cache) LoadDiscoveredDomains(ctx context.Context, includeToc, includePages bool) []string {
	var tables []string
	if includeToc {
		tables = append(tables, "toc_cache")
	}
	if includePages {
		tables = append(tables, "page_cache")
	}

	seen := make(map[string]struct{})
	for _, table := range tables {
		if err := c.collectDomains(ctx, table, seen); err != nil {
			c.logger.Warn("Failed to load discovered domains", "table", table, "error", err)
			return []string{}
		}
	}

	domains := make([]string, 0, len(seen))
	for d := range seen {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

func (c *Cache) collectDomains(ctx context.Context, table string, seen map[string]struct{}) error {
	rows, err := c.db.query(ctx, "SELECT discovered_domains FROM "+table+" WHERE discovered_domains != ''")
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var joined string
		if err := rows.Scan(&joined); err != nil {
			return err
		}
		for _, d := range strings.Fields(joined) {
			seen[d] = struct{}{}
		}
	}
	return rows.Err()
}

// CleanupExpired deletes entries that expired more than GracePeriod ago.
func (c *Cache) CleanupExpired(ctx context.Context) {
	cutoff := c.now().UTC().Add(-GracePeriod).Format(timeFormat)

	tocDeleted, err := c.deleteExpired(ctx, "toc_cache", cutoff)
	if err != nil {
		c.logger.Warn("Cache cleanup failed", "table", "toc_cache", "error", err)
		return
	}
	pageDeleted, err := c.deleteExpired(ctx, "page_cache", cutoff)
	if err != nil {
		c.logger.Warn("Cache cleanup failed", "table", "page_cache", "error", err)
		return
	}

	c.logger.Info("Cache cleanup complete", "toc_deleted", tocDeleted, "page_deleted", pageDeleted)
}

func (c *Cache) deleteExpired(ctx context.Context, table, cutoff string) (int64, error) {
	res, err := c.db.exec(ctx, "DELETE FROM "+table+" WHERE expires_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CleanupIfDue runs CleanupExpired when interval has elapsed since the last
// recorded cleanup. An unreadable timestamp counts as due.
func (c *Cache) CleanupIfDue(ctx context.Context, interval time.Duration) {
	var value string
	err := c.db.queryRow(ctx, "SELECT value FROM server_metadata WHERE key = ?", lastCleanupKey).Scan(&value)
	switch {
	case err == nil:
		if last, perr := time.Parse(timeFormat, value); perr == nil && c.now().Sub(last) < interval {
			c.logger.Debug("Cache cleanup skipped", "reason", "not_due")
			return
		}
	case !errors.Is(err, sql.ErrNoRows):
		c.logger.Warn("Cache metadata read failed", "error", err)
	}

	c.CleanupExpired(ctx)

	_, err = c.db.exec(ctx,
		"INSERT OR REPLACE INTO server_metadata (key, value) VALUES (?, ?)",
		lastCleanupKey, c.now().UTC().Format(timeFormat))
	if err != nil {
		c.logger.Warn("Cache metadata write failed", "error", err)
	}
}

func parseTimes(fetchedAt, expiresAt string) (time.Time, time.Time, error) {
	fetched, err := time.Parse(timeFormat, fetchedAt)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to parse fetched_at: %w", err)
	}
	expires, err := time.Parse(timeFormat, expiresAt)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to parse expires_at: %w", err)
	}
	return fetched, expires, nil
}

func joinDomains(domains []string) string {
	sorted := append([]string(nil), domains...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

func splitDomains(joined string) []string {
	return strings.Fields(joined)
}
