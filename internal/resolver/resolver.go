// Package resolver maps free-form library, package or alias queries to
// registry entries.
package resolver

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
	"github.com/sha1n/mcp-docsproxy-server/internal/registry"
)

const (
	DefaultFuzzyScoreCutoff = 70
	DefaultFuzzyMaxResults  = 5
)

var (
	extrasPattern  = regexp.MustCompile(`\[.*?\]`)
	versionPattern = regexp.MustCompile(`[><=!~^].*`)
)

// Options tunes the fuzzy step of the cascade.
type Options struct {
	// FuzzyScoreCutoff is the minimum similarity (0-100) a fuzzy match must
	// reach. 0 keeps every scored term; negative values select the default.
	FuzzyScoreCutoff int

	// FuzzyMaxResults caps the number of fuzzy matches returned.
	FuzzyMaxResults int
}

// DefaultOptions returns the cutoff and result cap used when none are configured.
func DefaultOptions() Options {
	return Options{
		FuzzyScoreCutoff: DefaultFuzzyScoreCutoff,
		FuzzyMaxResults:  DefaultFuzzyMaxResults,
	}
}

func (o Options) withDefaults() Options {
	if o.FuzzyScoreCutoff < 0 {
		o.FuzzyScoreCutoff = DefaultFuzzyScoreCutoff
	}
	if o.FuzzyMaxResults <= 0 {
		o.FuzzyMaxResults = DefaultFuzzyMaxResults
	}
	return o
}

// Normalize strips pip extras and version specifiers, lowercases and trims.
// "langchain-openai[extras]>=0.3" becomes "langchain-openai".
func Normalize(raw string) string {
	query := extrasPattern.ReplaceAllString(raw, "")
	query = versionPattern.ReplaceAllString(query, "")
	return strings.TrimSpace(strings.ToLower(query))
}

// Resolve runs the resolution cascade: package name, library ID, alias and
// finally fuzzy matching. The first exact hit wins with relevance 1.0.
// Results are always sorted by relevance, descending. No match yields an
// empty slice.
func Resolve(query string, idx *registry.Index, opts Options) []domain.LibraryMatch {
	normalized := Normalize(query)
	if normalized == "" || idx == nil {
		return []domain.LibraryMatch{}
	}

	if id, ok := idx.ByPackage[normalized]; ok {
		return []domain.LibraryMatch{newMatch(idx.ByID[id], domain.MatchedViaPackageName, 1.0)}
	}
	if entry, ok := idx.ByID[normalized]; ok {
		return []domain.LibraryMatch{newMatch(entry, domain.MatchedViaLibraryID, 1.0)}
	}
	if id, ok := idx.ByAlias[normalized]; ok {
		return []domain.LibraryMatch{newMatch(idx.ByID[id], domain.MatchedViaAlias, 1.0)}
	}

	return fuzzySearch(normalized, idx, opts.withDefaults())
}

type scored struct {
	libraryID string
	score     float64
}

func fuzzySearch(query string, idx *registry.Index, opts Options) []domain.LibraryMatch {
	best := make(map[string]float64)
	for _, term := range idx.Corpus {
		score := Similarity(query, term.Term)
		if score < float64(opts.FuzzyScoreCutoff) {
			continue
		}
		if prev, ok := best[term.LibraryID]; !ok || score > prev {
			best[term.LibraryID] = score
		}
	}

	ranked := make([]scored, 0, len(best))
	for id, score := range best {
		ranked = append(ranked, scored{libraryID: id, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].libraryID < ranked[j].libraryID
	})
	if len(ranked) > opts.FuzzyMaxResults {
		ranked = ranked[:opts.FuzzyMaxResults]
	}

	matches := make([]domain.LibraryMatch, 0, len(ranked))
	for _, r := range ranked {
		relevance := math.Round(r.score) / 100
		matches = append(matches, newMatch(idx.ByID[r.libraryID], domain.MatchedViaFuzzy, relevance))
	}
	return matches
}

// Similarity returns the normalized Levenshtein similarity of a and b in [0, 100].
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 100
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(distance)/float64(longest))
}

func newMatch(entry domain.RegistryEntry, matchedVia string, relevance float64) domain.LibraryMatch {
	languages := entry.Languages
	if languages == nil {
		languages = []string{}
	}
	return domain.LibraryMatch{
		LibraryID:  entry.ID,
		Name:       entry.Name,
		Languages:  languages,
		DocsURL:    entry.DocsURL,
		MatchedVia: matchedVia,
		Relevance:  relevance,
	}
}
