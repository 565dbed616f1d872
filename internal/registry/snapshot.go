package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
)

const (
	// RegistryFilename is the name of the registry payload file.
	RegistryFilename = "known-libraries.json"

	// StateFilename is the name of the state descriptor stored next to the payload.
	StateFilename = "registry-state.json"

	// ChecksumPrefix prefixes every registry checksum.
	ChecksumPrefix = "sha256:"
)

var (
	// ErrNoLocalRegistry indicates that one or both files of the registry pair are missing.
	ErrNoLocalRegistry = errors.New("local registry pair not found")

	// ErrChecksumMismatch indicates that the payload does not match the recorded checksum.
	ErrChecksumMismatch = errors.New("registry checksum mismatch")
)

// Paths locates the registry pair on disk.
type Paths struct {
	Registry string
	State    string
}

// NewPaths returns the registry pair paths inside dir.
func NewPaths(dir string) Paths {
	return Paths{
		Registry: filepath.Join(dir, RegistryFilename),
		State:    filepath.Join(dir, StateFilename),
	}
}

// IsZero reports whether persistence is disabled.
func (p Paths) IsZero() bool {
	return p.Registry == "" || p.State == ""
}

// StateDescriptor is the metadata persisted alongside the registry payload.
type StateDescriptor struct {
	Version       string    `json:"version"`
	Checksum      string    `json:"checksum"`
	UpdatedAt     time.Time `json:"updated_at"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// Checksum returns the prefixed hex SHA-256 of payload.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return ChecksumPrefix + hex.EncodeToString(sum[:])
}

// ParseEntries decodes and validates a registry payload.
func ParseEntries(payload []byte) ([]domain.RegistryEntry, error) {
	var entries []domain.RegistryEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if seen[entries[i].ID] {
			return nil, fmt.Errorf("duplicate library ID: %q", entries[i].ID)
		}
		seen[entries[i].ID] = true
	}

	return entries, nil
}

// LoadPair reads the registry pair and verifies the payload against the
// recorded checksum. A pair that fails verification is never returned.
func LoadPair(paths Paths) ([]domain.RegistryEntry, *StateDescriptor, error) {
	if paths.IsZero() || !isFile(paths.Registry) || !isFile(paths.State) {
		return nil, nil, ErrNoLocalRegistry
	}

	payload, err := os.ReadFile(paths.Registry)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read registry: %w", err)
	}

	state, err := readState(paths.State)
	if err != nil {
		return nil, nil, err
	}
	if state.Version == "" {
		return nil, nil, fmt.Errorf("%s: 'version' must be a non-empty string", StateFilename)
	}
	if !strings.HasPrefix(state.Checksum, ChecksumPrefix) {
		return nil, nil, fmt.Errorf("%s: 'checksum' must be 'sha256:<hex>'", StateFilename)
	}

	if Checksum(payload) != state.Checksum {
		return nil, nil, ErrChecksumMismatch
	}

	entries, err := ParseEntries(payload)
	if err != nil {
		return nil, nil, err
	}

	return entries, state, nil
}

// SavePair persists the registry pair with atomic replace semantics:
// both files are written to temporaries and fsync'd, renamed into place,
// and the parent directory is fsync'd so the renames survive a crash.
func SavePair(paths Paths, payload []byte, version, checksum string, now time.Time) error {
	for _, dir := range []string{filepath.Dir(paths.Registry), filepath.Dir(paths.State)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create registry directory: %w", err)
		}
	}

	now = now.UTC()
	stateBytes, err := json.Marshal(StateDescriptor{
		Version:       version,
		Checksum:      checksum,
		UpdatedAt:     now,
		LastCheckedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal registry state: %w", err)
	}

	registryTmp := paths.Registry + ".tmp"
	stateTmp := paths.State + ".tmp"
	defer func() {
		_ = os.Remove(registryTmp)
		_ = os.Remove(stateTmp)
	}()

	if err := writeFileSync(registryTmp, payload); err != nil {
		return err
	}
	if err := writeFileSync(stateTmp, stateBytes); err != nil {
		return err
	}

	if err := os.Rename(registryTmp, paths.Registry); err != nil {
		return fmt.Errorf("failed to rename registry file: %w", err)
	}
	if err := os.Rename(stateTmp, paths.State); err != nil {
		return fmt.Errorf("failed to rename registry state file: %w", err)
	}

	if err := syncDir(filepath.Dir(paths.Registry)); err != nil {
		return err
	}
	if filepath.Dir(paths.State) != filepath.Dir(paths.Registry) {
		return syncDir(filepath.Dir(paths.State))
	}
	return nil
}

// WriteLastCheckedAt refreshes last_checked_at in the state file, keeping
// every other field as it was.
func WriteLastCheckedAt(statePath string, now time.Time) error {
	data, err := os.ReadFile(statePath)
	if err != nil {
		return fmt.Errorf("failed to read registry state: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("failed to parse registry state: %w", err)
	}
	fields["last_checked_at"] = now.UTC().Format(time.RFC3339Nano)

	out, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal registry state: %w", err)
	}

	tmp := statePath + ".tmp"
	defer func() { _ = os.Remove(tmp) }()
	if err := writeFileSync(tmp, out); err != nil {
		return err
	}
	if err := os.Rename(tmp, statePath); err != nil {
		return fmt.Errorf("failed to rename registry state file: %w", err)
	}
	return nil
}

// CheckIsDue reports whether interval has elapsed since the last metadata check.
// A missing, unreadable or incomplete state file always counts as due.
func CheckIsDue(statePath string, interval time.Duration, now time.Time) bool {
	if statePath == "" {
		return true
	}
	state, err := readState(statePath)
	if err != nil || state.LastCheckedAt.IsZero() {
		return true
	}
	return now.Sub(state.LastCheckedAt) >= interval
}

func readState(path string) (*StateDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry state: %w", err)
	}
	var state StateDescriptor
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse registry state: %w", err)
	}
	return &state, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// syncDir fsyncs a directory so that renames inside it are durable.
// Windows cannot open directories for syncing.
func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory for sync: %w", err)
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
