// Package registry holds the known-libraries registry: the immutable lookup
// index built from it, the on-disk registry pair, and the update protocol
// that keeps the pair current.
package registry

import (
	"strings"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
)

// Term is a single (term, library ID) pair of the fuzzy matching corpus.
type Term struct {
	Term      string
	LibraryID string
}

// Index is the in-memory lookup structure derived from a registry snapshot.
// It is never modified after BuildIndex returns and is safe for concurrent reads.
type Index struct {
	// ByPackage maps a lowercase package name to a library ID.
	ByPackage map[string]string

	// ByID maps a library ID to its full registry entry.
	ByID map[string]domain.RegistryEntry

	// ByAlias maps a lowercase alias to a library ID.
	ByAlias map[string]string

	// Corpus holds every ID, package name and alias for fuzzy matching.
	Corpus []Term
}

// BuildIndex builds an Index from entries in a single pass.
func BuildIndex(entries []domain.RegistryEntry) *Index {
	idx := &Index{
		ByPackage: make(map[string]string),
		ByID:      make(map[string]domain.RegistryEntry, len(entries)),
		ByAlias:   make(map[string]string),
		Corpus:    make([]Term, 0, len(entries)),
	}

	for _, entry := range entries {
		idx.ByID[entry.ID] = entry
		idx.Corpus = append(idx.Corpus, Term{Term: entry.ID, LibraryID: entry.ID})

		for _, pkg := range entry.Packages.All() {
			name := strings.ToLower(pkg)
			idx.ByPackage[name] = entry.ID
			idx.Corpus = append(idx.Corpus, Term{Term: name, LibraryID: entry.ID})
		}

		for _, alias := range entry.Aliases {
			name := strings.ToLower(alias)
			idx.ByAlias[name] = entry.ID
			idx.Corpus = append(idx.Corpus, Term{Term: name, LibraryID: entry.ID})
		}
	}

	return idx
}

// Entry returns the registry entry for id.
func (i *Index) Entry(id string) (domain.RegistryEntry, bool) {
	entry, ok := i.ByID[id]
	return entry, ok
}

// Len returns the number of libraries in the index.
func (i *Index) Len() int {
	return len(i.ByID)
}
