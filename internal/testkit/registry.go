package testkit

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/sha1n/mcp-docsproxy-server/internal/registry"
)

// DefaultRegistryPayload is a single-entry registry served by RegistryFixture.
const DefaultRegistryPayload = `[{"id":"fastapi","name":"FastAPI","languages":["python"],` +
	`"packages":{"pypi":["fastapi"]},"llms_txt_url":"https://fastapi.tiangolo.com/llms.txt"}]`

// RegistryFixture serves a registry metadata document and its payload.
type RegistryFixture struct {
	Version string
	Payload string

	server   *httptest.Server
	requests atomic.Int32
}

// NewRegistryFixture creates a registry fixture publishing version.
func NewRegistryFixture(version string) *RegistryFixture {
	return &RegistryFixture{Version: version, Payload: DefaultRegistryPayload}
}

func (s *RegistryFixture) Name() string {
	return "registry"
}

// Start serves the registry and publishes its metadata URL.
func (s *RegistryFixture) Start() (Published, error) {
	if s.server != nil {
		return nil, fmt.Errorf("registry fixture already started")
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return Published{"registry-metadata-url": s.MetadataURL()}, nil
}

func (s *RegistryFixture) Stop() error {
	if s.server != nil {
		s.server.Close()
		s.server = nil
	}
	return nil
}

// MetadataURL returns the metadata document URL of a started fixture.
func (s *RegistryFixture) MetadataURL() string {
	if s.server == nil {
		return ""
	}
	return s.server.URL + "/metadata.json"
}

// Requests returns the number of requests served so far.
func (s *RegistryFixture) Requests() int {
	return int(s.requests.Load())
}

func (s *RegistryFixture) handle(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	switch r.URL.Path {
	case "/metadata.json":
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"version":%q,"download_url":%q,"checksum":%q}`,
			s.Version, "http://"+r.Host+"/registry.json", registry.Checksum([]byte(s.Payload)))
	case "/registry.json":
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, s.Payload)
	default:
		http.NotFound(w, r)
	}
}
