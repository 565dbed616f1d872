// Package state holds the live registry snapshot shared by every request.
package state

import (
	"sync/atomic"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
	"github.com/sha1n/mcp-docsproxy-server/internal/fetcher"
	"github.com/sha1n/mcp-docsproxy-server/internal/registry"
)

// Snapshot is an immutable view of the registry index, the allowlist and
// the registry version. It is replaced wholesale, never modified.
type Snapshot struct {
	Index     *registry.Index
	Allowlist *fetcher.Allowlist
	Version   string
}

// State publishes the current Snapshot to concurrent readers.
type State struct {
	current      atomic.Pointer[Snapshot]
	extraDomains []string
}

// New creates a State that serves entries at version. extraDomains are
// added to every allowlist built from registry entries.
func New(entries []domain.RegistryEntry, version string, extraDomains []string) *State {
	s := &State{extraDomains: extraDomains}
	s.ReplaceRegistry(entries, version)
	return s
}

// Snapshot returns the current snapshot.
func (s *State) Snapshot() *Snapshot {
	return s.current.Load()
}

// RegistryVersion returns the version of the current registry.
func (s *State) RegistryVersion() string {
	return s.Snapshot().Version
}

// ReplaceRegistry builds a new index and allowlist from entries and swaps
// them in together, so readers never see one without the other.
func (s *State) ReplaceRegistry(entries []domain.RegistryEntry, version string) {
	s.current.Store(&Snapshot{
		Index:     registry.BuildIndex(entries),
		Allowlist: fetcher.BuildAllowlist(entries, s.extraDomains),
		Version:   version,
	})
}

// ExpandAllowlist adds baseDomains to the live allowlist. It reports whether
// anything was added.
func (s *State) ExpandAllowlist(baseDomains []string) bool {
	for {
		old := s.current.Load()
		allowlist, changed := old.Allowlist.With(baseDomains)
		if !changed {
			return false
		}
		next := &Snapshot{Index: old.Index, Allowlist: allowlist, Version: old.Version}
		if s.current.CompareAndSwap(old, next) {
			return true
		}
	}
}
