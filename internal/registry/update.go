package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
)

// Outcome classifies the result of a single update check.
type Outcome string

const (
	// OutcomeSuccess covers both "already up to date" and "new version applied".
	OutcomeSuccess Outcome = "success"

	// OutcomeTransientFailure is a failure worth retrying with backoff.
	OutcomeTransientFailure Outcome = "transient_failure"

	// OutcomeSemanticFailure is a failure that retrying will not fix.
	OutcomeSemanticFailure Outcome = "semantic_failure"
)

const lockTimeout = 10 * time.Second

// Store is the live registry state that an Updater reads and replaces.
type Store interface {
	RegistryVersion() string
	ReplaceRegistry(entries []domain.RegistryEntry, version string)
}

// Metadata is the document served at the registry metadata URL.
type Metadata struct {
	Version     string `json:"version"`
	DownloadURL string `json:"download_url"`
	Checksum    string `json:"checksum"`
}

// Download is a verified registry payload ready to be applied.
type Download struct {
	Entries  []domain.RegistryEntry
	Payload  []byte
	Version  string
	Checksum string
}

// UpdaterConfig configures an Updater.
type UpdaterConfig struct {
	Client      *http.Client
	MetadataURL string
	Timeout     time.Duration
	Paths       Paths
	Store       Store
	Logger      *slog.Logger
	Now         func() time.Time
}

// Updater runs the metadata check / download / verify / apply protocol.
type Updater struct {
	client      *http.Client
	metadataURL string
	timeout     time.Duration
	paths       Paths
	store       Store
	logger      *slog.Logger
	now         func() time.Time
}

// NewUpdater creates an Updater. A zero Paths disables persistence.
func NewUpdater(cfg UpdaterConfig) *Updater {
	u := &Updater{
		client:      cfg.Client,
		metadataURL: cfg.MetadataURL,
		timeout:     cfg.Timeout,
		paths:       cfg.Paths,
		store:       cfg.Store,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if u.client == nil {
		u.client = &http.Client{}
	}
	if u.timeout <= 0 {
		u.timeout = 300 * time.Second
	}
	if u.logger == nil {
		u.logger = slog.Default()
	}
	if u.now == nil {
		u.now = time.Now
	}
	return u
}

// Check performs one update check. On a newer verified version the store is
// swapped first and persistence is attempted afterwards; a persistence
// failure is logged and the in-memory update stands.
func (u *Updater) Check(ctx context.Context) Outcome {
	download, outcome := u.DownloadIfNewer(ctx, u.store.RegistryVersion())
	if download == nil {
		if outcome == OutcomeSuccess && !u.paths.IsZero() {
			if err := WriteLastCheckedAt(u.paths.State, u.now()); err != nil {
				u.logger.Debug("Failed to record registry check time", "error", err)
			}
		}
		return outcome
	}

	previous := u.store.RegistryVersion()
	u.store.ReplaceRegistry(download.Entries, download.Version)
	u.logger.Info("Registry updated",
		"from_version", previous,
		"to_version", download.Version,
		"entries", len(download.Entries))

	if !u.paths.IsZero() {
		if err := u.save(ctx, download); err != nil {
			u.logger.Warn("Failed to persist registry", "error", err)
		}
	}

	return OutcomeSuccess
}

// DownloadIfNewer fetches metadata and, when its version differs from
// currentVersion, downloads and verifies the payload. A nil Download with
// OutcomeSuccess means the registry is already current.
func (u *Updater) DownloadIfNewer(ctx context.Context, currentVersion string) (*Download, Outcome) {
	status, body, err := u.get(ctx, u.metadataURL)
	if err != nil {
		u.logger.Warn("Registry metadata fetch failed", "url", u.metadataURL, "error", err)
		return nil, OutcomeTransientFailure
	}
	if outcome, ok := classifyStatus(status); !ok {
		u.logger.Warn("Registry metadata fetch failed", "url", u.metadataURL, "status", status)
		return nil, outcome
	}

	var meta Metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		u.logger.Warn("Registry metadata is not valid JSON", "error", err)
		return nil, OutcomeSemanticFailure
	}
	if meta.Version == "" || meta.DownloadURL == "" || !strings.HasPrefix(meta.Checksum, ChecksumPrefix) {
		u.logger.Warn("Registry metadata is missing required fields")
		return nil, OutcomeSemanticFailure
	}

	if meta.Version == currentVersion {
		u.logger.Debug("Registry is up to date", "version", currentVersion)
		return nil, OutcomeSuccess
	}

	status, payload, err := u.get(ctx, meta.DownloadURL)
	if err != nil {
		u.logger.Warn("Registry download failed", "url", meta.DownloadURL, "error", err)
		return nil, OutcomeTransientFailure
	}
	if outcome, ok := classifyStatus(status); !ok {
		u.logger.Warn("Registry download failed", "url", meta.DownloadURL, "status", status)
		return nil, outcome
	}

	if checksum := Checksum(payload); checksum != meta.Checksum {
		u.logger.Warn("Registry checksum mismatch", "expected", meta.Checksum, "actual", checksum)
		return nil, OutcomeSemanticFailure
	}

	entries, err := ParseEntries(payload)
	if err != nil {
		u.logger.Warn("Registry payload is invalid", "error", err)
		return nil, OutcomeSemanticFailure
	}

	return &Download{
		Entries:  entries,
		Payload:  payload,
		Version:  meta.Version,
		Checksum: meta.Checksum,
	}, OutcomeSuccess
}

// Setup downloads the latest registry unconditionally and persists it.
func (u *Updater) Setup(ctx context.Context) error {
	download, outcome := u.DownloadIfNewer(ctx, "")
	if download == nil {
		return fmt.Errorf("registry download failed: %s", outcome)
	}
	if u.paths.IsZero() {
		return fmt.Errorf("registry persistence is not configured")
	}
	return u.save(ctx, download)
}

func (u *Updater) save(ctx context.Context, d *Download) error {
	unlock, err := acquireLock(ctx, filepath.Dir(u.paths.Registry), lockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	return SavePair(u.paths, d.Payload, d.Version, d.Checksum, u.now())
}

func (u *Updater) get(ctx context.Context, url string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// classifyStatus maps a non-2xx status to its failure outcome.
func classifyStatus(status int) (Outcome, bool) {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess, true
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return OutcomeTransientFailure, false
	default:
		return OutcomeSemanticFailure, false
	}
}
