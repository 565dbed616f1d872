package domain

import (
	"fmt"
	"regexp"
)

// libraryIDPattern constrains registry identifiers to lowercase slugs.
var libraryIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Matched-via values reported by the resolver.
const (
	MatchedViaPackageName = "package_name"
	MatchedViaLibraryID   = "library_id"
	MatchedViaAlias       = "alias"
	MatchedViaFuzzy       = "fuzzy"
)

// Packages lists the package names a library is published under, per ecosystem.
type Packages struct {
	PyPI []string `json:"pypi,omitempty"`
	NPM  []string `json:"npm,omitempty"`
}

// All returns every package name across ecosystems.
func (p Packages) All() []string {
	names := make([]string, 0, len(p.PyPI)+len(p.NPM))
	names = append(names, p.PyPI...)
	return append(names, p.NPM...)
}

// RegistryEntry is a single library in the known-libraries registry.
// Entries are immutable once loaded.
type RegistryEntry struct {
	// ID is the canonical library identifier, e.g. "langchain".
	ID string `json:"id"`

	// Name is the human-readable library name.
	Name string `json:"name"`

	DocsURL   string   `json:"docs_url,omitempty"`
	RepoURL   string   `json:"repo_url,omitempty"`
	Languages []string `json:"languages,omitempty"`
	Packages  Packages `json:"packages"`
	Aliases   []string `json:"aliases,omitempty"`

	// LlmsTxtURL points at the library's table of contents.
	LlmsTxtURL string `json:"llms_txt_url"`
}

// Validate checks the entry's identity and required fields.
func (e *RegistryEntry) Validate() error {
	if !IsValidLibraryID(e.ID) {
		return fmt.Errorf("invalid library ID: %q", e.ID)
	}
	if e.LlmsTxtURL == "" {
		return fmt.Errorf("library %q has no llms_txt_url", e.ID)
	}
	return nil
}

// IsValidLibraryID reports whether id is a well-formed library identifier.
func IsValidLibraryID(id string) bool {
	return libraryIDPattern.MatchString(id)
}

// LibraryMatch is a single result returned by the resolver.
type LibraryMatch struct {
	LibraryID  string   `json:"library_id"`
	Name       string   `json:"name"`
	Languages  []string `json:"languages"`
	DocsURL    string   `json:"docs_url,omitempty"`
	MatchedVia string   `json:"matched_via"`
	Relevance  float64  `json:"relevance"`
}
