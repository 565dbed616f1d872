package registry

import (
	_ "embed"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
)

// BundledVersion is the version reported for the snapshot shipped in the binary.
const BundledVersion = "unknown"

//go:embed bundled/known-libraries.json
var bundledPayload []byte

// Bundled returns the registry snapshot compiled into the binary.
func Bundled() ([]domain.RegistryEntry, error) {
	return ParseEntries(bundledPayload)
}
