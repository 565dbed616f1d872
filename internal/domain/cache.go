package domain

import "time"

// TocEntry is a cached llms.txt table of contents for a library.
type TocEntry struct {
	LibraryID         string
	LlmsTxtURL        string
	Content           string
	DiscoveredDomains []string
	FetchedAt         time.Time
	ExpiresAt         time.Time

	// Stale is derived at read time and never stored.
	Stale bool
}

// PageEntry is a cached documentation page, keyed by the SHA-256 of its URL.
type PageEntry struct {
	URL               string
	URLHash           string
	Content           string
	Headings          string
	DiscoveredDomains []string
	FetchedAt         time.Time
	ExpiresAt         time.Time

	// Stale is derived at read time and never stored.
	Stale bool
}
