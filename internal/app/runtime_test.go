package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sha1n/mcp-docsproxy-server/internal/cache"
	"github.com/sha1n/mcp-docsproxy-server/internal/config"
	"github.com/sha1n/mcp-docsproxy-server/internal/registry"
)

const testPayload = `[{"id":"fastapi","name":"FastAPI","packages":{"pypi":["fastapi"]},"llms_txt_url":"https://fastapi.tiangolo.com/llms.txt"}]`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// registryServer serves a metadata document and a registry payload.
type registryServer struct {
	*httptest.Server
	version  string
	block    atomic.Bool
	requests atomic.Int32
}

func newRegistryServer(t *testing.T, version string) *registryServer {
	t.Helper()
	rs := &registryServer{version: version}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.requests.Add(1)
		if rs.block.Load() {
			<-r.Context().Done()
			return
		}
		switch r.URL.Path {
		case "/metadata.json":
			_, _ = fmt.Fprintf(w, `{"version":%q,"download_url":%q,"checksum":%q}`,
				rs.version, rs.URL+"/registry.json", registry.Checksum([]byte(testPayload)))
		case "/registry.json":
			_, _ = io.WriteString(w, testPayload)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func testSettings(t *testing.T, metadataURL string) *config.Settings {
	t.Helper()
	dir := t.TempDir()
	return &config.Settings{
		Transport: config.TransportStdio,
		Host:      "127.0.0.1",
		Port:      0,
		DataDir:   dir,
		Registry: config.RegistrySettings{
			MetadataURL:          metadataURL,
			PollInterval:         24 * time.Hour,
			InitialBackoff:       time.Minute,
			MaxBackoff:           time.Hour,
			MaxTransientFailures: 8,
			Timeout:              5 * time.Second,
			BootstrapTimeout:     2 * time.Second,
		},
		Cache: config.CacheSettings{
			TTLHours:             24,
			CleanupIntervalHours: 6,
			DBPath:               filepath.Join(dir, "cache.db"),
		},
		Fetcher: config.FetcherSettings{
			MaxRedirects:   3,
			RequestTimeout: 5 * time.Second,
		},
		Resolver: config.ResolverSettings{
			FuzzyScoreCutoff: 70,
			FuzzyMaxResults:  5,
		},
		Logging: config.LoggingSettings{Level: "info", Format: config.LogFormatText},
	}
}

func newTestRuntime(t *testing.T, settings *config.Settings) *Runtime {
	t.Helper()
	rt, err := NewRuntime(context.Background(), settings, discardLogger(), "test")
	if err != nil {
		t.Fatalf("NewRuntime failed: %v", err)
	}
	return rt
}

func TestNewRuntime_BundledFallback(t *testing.T) {
	rt := newTestRuntime(t, testSettings(t, "http://127.0.0.1:1/metadata.json"))
	defer func() { _ = rt.Close() }()

	if got := rt.State.RegistryVersion(); got != registry.BundledVersion {
		t.Errorf("Expected bundled version, got %q", got)
	}
	if _, ok := rt.State.Snapshot().Index.Entry("langchain"); !ok {
		t.Error("Expected bundled entries to be loaded")
	}
}

func TestNewRuntime_LocalPair(t *testing.T) {
	settings := testSettings(t, "http://127.0.0.1:1/metadata.json")
	paths := registry.NewPaths(settings.RegistryDir())
	if err := registry.SavePair(paths, []byte(testPayload), "2026-01-01", registry.Checksum([]byte(testPayload)), time.Now()); err != nil {
		t.Fatalf("SavePair failed: %v", err)
	}

	rt := newTestRuntime(t, settings)
	defer func() { _ = rt.Close() }()

	if got := rt.State.RegistryVersion(); got != "2026-01-01" {
		t.Errorf("Expected local version, got %q", got)
	}
	if rt.Bootstrap(context.Background()) {
		t.Error("Expected no bootstrap when a local registry exists")
	}
}

func TestNewRuntime_CorruptLocalPairFallsBack(t *testing.T) {
	settings := testSettings(t, "http://127.0.0.1:1/metadata.json")
	paths := registry.NewPaths(settings.RegistryDir())
	if err := registry.SavePair(paths, []byte(testPayload), "2026-01-01", registry.Checksum([]byte(testPayload)), time.Now()); err != nil {
		t.Fatalf("SavePair failed: %v", err)
	}
	if err := os.WriteFile(paths.Registry, []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}

	rt := newTestRuntime(t, settings)
	defer func() { _ = rt.Close() }()

	if got := rt.State.RegistryVersion(); got != registry.BundledVersion {
		t.Errorf("Expected bundled fallback for a tampered pair, got %q", got)
	}
}

func TestNewRuntime_CacheOpenFailure(t *testing.T) {
	settings := testSettings(t, "http://127.0.0.1:1/metadata.json")
	blocker := filepath.Join(settings.DataDir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	settings.Cache.DBPath = filepath.Join(blocker, "cache.db")

	if _, err := NewRuntime(context.Background(), settings, discardLogger(), "test"); err == nil {
		t.Fatal("Expected error when the cache cannot be opened")
	}
}

func TestNewRuntime_RestoresAllowlistFromCache(t *testing.T) {
	tests := []struct {
		name        string
		depth       int
		wantTocDom  bool
		wantPageDom bool
	}{
		{"depth 0", 0, false, false},
		{"depth 1", 1, true, false},
		{"depth 2", 2, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings(t, "http://127.0.0.1:1/metadata.json")
			settings.Fetcher.AllowlistDepth = tt.depth

			db := cache.NewDB(settings.Cache.DBPath)
			if err := db.Open(); err != nil {
				t.Fatal(err)
			}
			c := cache.New(db, discardLogger())
			ctx := context.Background()
			c.SetToc(ctx, "langchain", "https://python.langchain.com/llms.txt", "toc", time.Hour, []string{"toc-docs.dev"})
			c.SetPage(ctx, "https://python.langchain.com/a", cache.URLHash("https://python.langchain.com/a"), "page", "", time.Hour, []string{"page-docs.dev"})
			if err := db.Close(); err != nil {
				t.Fatal(err)
			}

			rt := newTestRuntime(t, settings)
			defer func() { _ = rt.Close() }()

			allowlist := rt.State.Snapshot().Allowlist
			if got := allowlist.Contains("toc-docs.dev"); got != tt.wantTocDom {
				t.Errorf("toc domain allowed = %v, want %v", got, tt.wantTocDom)
			}
			if got := allowlist.Contains("page-docs.dev"); got != tt.wantPageDom {
				t.Errorf("page domain allowed = %v, want %v", got, tt.wantPageDom)
			}
		})
	}
}

func TestNewRuntime_ExtraDomains(t *testing.T) {
	settings := testSettings(t, "http://127.0.0.1:1/metadata.json")
	settings.Fetcher.ExtraAllowedDomains = []string{"docs.internal.example"}

	rt := newTestRuntime(t, settings)
	defer func() { _ = rt.Close() }()

	if !rt.State.Snapshot().Allowlist.Contains("internal.example") {
		t.Error("Expected extra domain in allowlist")
	}
}

func TestNewRuntime_FuzzyCutoffFromSettings(t *testing.T) {
	tests := []struct {
		name        string
		cutoff      int
		wantMatches bool
	}{
		{"default cutoff", 70, false},
		{"zero cutoff keeps every term", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings(t, "http://127.0.0.1:1/metadata.json")
			settings.Resolver.FuzzyScoreCutoff = tt.cutoff

			rt := newTestRuntime(t, settings)
			defer func() { _ = rt.Close() }()

			result, err := rt.Docs.ResolveLibrary(context.Background(), "zzzzzzzzzz")
			if err != nil {
				t.Fatalf("ResolveLibrary failed: %v", err)
			}
			if got := len(result.Matches) > 0; got != tt.wantMatches {
				t.Errorf("matches = %+v, want any = %v", result.Matches, tt.wantMatches)
			}
			if len(result.Matches) > settings.Resolver.FuzzyMaxResults {
				t.Errorf("got %d matches, want at most %d", len(result.Matches), settings.Resolver.FuzzyMaxResults)
			}
		})
	}
}

func TestRuntime_BootstrapSuccess(t *testing.T) {
	rs := newRegistryServer(t, "2026-02-01")
	settings := testSettings(t, rs.URL+"/metadata.json")

	rt := newTestRuntime(t, settings)
	defer func() { _ = rt.Close() }()

	if !rt.Bootstrap(context.Background()) {
		t.Fatal("Expected bootstrap to be attempted on the bundled snapshot")
	}
	if got := rt.State.RegistryVersion(); got != "2026-02-01" {
		t.Errorf("Expected bootstrapped version, got %q", got)
	}
	if _, ok := rt.State.Snapshot().Index.Entry("fastapi"); !ok {
		t.Error("Expected downloaded entries to be live")
	}

	entries, desc, err := registry.LoadPair(registry.NewPaths(settings.RegistryDir()))
	if err != nil {
		t.Fatalf("Expected persisted pair: %v", err)
	}
	if desc.Version != "2026-02-01" || len(entries) != 1 {
		t.Errorf("Unexpected persisted pair: %s / %d entries", desc.Version, len(entries))
	}
}

func TestRuntime_BootstrapTimeoutKeepsBundled(t *testing.T) {
	rs := newRegistryServer(t, "2026-02-01")
	rs.block.Store(true)
	settings := testSettings(t, rs.URL+"/metadata.json")
	settings.Registry.BootstrapTimeout = 50 * time.Millisecond

	rt := newTestRuntime(t, settings)
	defer func() { _ = rt.Close() }()

	start := time.Now()
	if !rt.Bootstrap(context.Background()) {
		t.Fatal("Expected bootstrap to be attempted")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Bootstrap exceeded its timeout: %v", elapsed)
	}
	if got := rt.State.RegistryVersion(); got != registry.BundledVersion {
		t.Errorf("Expected bundled version after timeout, got %q", got)
	}
}

func TestRuntime_StartSkipsInitialCheckAfterBootstrap(t *testing.T) {
	rs := newRegistryServer(t, "2026-02-01")
	settings := testSettings(t, rs.URL+"/metadata.json")

	rt := newTestRuntime(t, settings)
	rt.Bootstrap(context.Background())
	before := rs.requests.Load()

	rt.Start(context.Background())
	if err := rt.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if after := rs.requests.Load(); after != before {
		t.Errorf("Expected no scheduler check after bootstrap, got %d extra requests", after-before)
	}
}

func TestRuntime_StartChecksWhenDue(t *testing.T) {
	rs := newRegistryServer(t, "2026-03-01")
	settings := testSettings(t, rs.URL+"/metadata.json")
	paths := registry.NewPaths(settings.RegistryDir())
	past := time.Now().Add(-48 * time.Hour)
	if err := registry.SavePair(paths, []byte(testPayload), "2026-01-01", registry.Checksum([]byte(testPayload)), past); err != nil {
		t.Fatal(err)
	}

	rt := newTestRuntime(t, settings)
	rt.Start(context.Background())
	defer func() { _ = rt.Close() }()

	// Close cancels in-flight duties, so wait for the startup check to land first.
	waitFor(t, 5*time.Second, func() bool {
		return rt.State.RegistryVersion() == "2026-03-01"
	})
	if got := rs.requests.Load(); got != 2 {
		t.Errorf("Expected metadata and payload requests, got %d", got)
	}
}

func TestRuntime_CloseCancelsStartupCheck(t *testing.T) {
	rs := newRegistryServer(t, "2026-03-01")
	rs.block.Store(true)
	settings := testSettings(t, rs.URL+"/metadata.json")
	paths := registry.NewPaths(settings.RegistryDir())
	past := time.Now().Add(-48 * time.Hour)
	if err := registry.SavePair(paths, []byte(testPayload), "2026-01-01", registry.Checksum([]byte(testPayload)), past); err != nil {
		t.Fatal(err)
	}

	rt := newTestRuntime(t, settings)
	rt.Start(context.Background())
	waitFor(t, 5*time.Second, func() bool { return rs.requests.Load() > 0 })

	done := make(chan error, 1)
	go func() { done <- rt.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not cancel the blocked startup check")
	}
	if got := rt.State.RegistryVersion(); got != "2026-01-01" {
		t.Errorf("Expected the cancelled check to keep the local version, got %q", got)
	}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met after %v", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRuntime_CloseStopsPeriodicDuties(t *testing.T) {
	rs := newRegistryServer(t, "2026-02-01")
	settings := testSettings(t, rs.URL+"/metadata.json")
	settings.Transport = config.TransportHTTP

	rt := newTestRuntime(t, settings)
	rt.Start(context.Background())

	done := make(chan error, 1)
	go func() { done <- rt.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the periodic duties")
	}

	if err := rt.DB.Close(); err != nil {
		t.Errorf("Closing an already closed DB should be harmless: %v", err)
	}
}

func TestUserAgent(t *testing.T) {
	if got := userAgent("1.2.3"); got != "docsproxy-mcp/1.2.3" {
		t.Errorf("userAgent = %q", got)
	}
}
