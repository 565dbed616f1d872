// Package testkit runs the server against local fixtures in tests.
package testkit

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-docsproxy-server/internal/app"
)

// Published maps flag names to the values a started fixture exposes,
// e.g. "registry-metadata-url".
type Published map[string]string

// Fixture is a local stand-in for an upstream the server talks to.
type Fixture interface {
	Name() string
	Start() (Published, error)
	Stop() error
}

// Env starts fixtures in order and stops them in reverse.
type Env struct {
	fixtures  []Fixture
	started   []Fixture
	published Published
}

// NewEnv creates an environment for the given fixtures without starting them.
func NewEnv(fixtures ...Fixture) *Env {
	return &Env{fixtures: fixtures, published: Published{}}
}

// StartEnv starts the fixtures and stops them when the test ends.
func StartEnv(t testing.TB, fixtures ...Fixture) *Env {
	t.Helper()
	env := NewEnv(fixtures...)
	if err := env.Start(); err != nil {
		t.Fatalf("Failed to start fixtures: %v", err)
	}
	t.Cleanup(func() { _ = env.Stop() })
	return env
}

// Start starts every fixture. When one fails, the ones already running
// are stopped again.
func (e *Env) Start() error {
	for _, f := range e.fixtures {
		values, err := f.Start()
		if err != nil {
			return errors.Join(fmt.Errorf("failed to start %s: %w", f.Name(), err), e.Stop())
		}
		e.started = append(e.started, f)
		for k, v := range values {
			e.published[k] = v
		}
	}
	return nil
}

// Stop stops the started fixtures in reverse order and joins their errors.
func (e *Env) Stop() error {
	var errs []error
	for i := len(e.started) - 1; i >= 0; i-- {
		if err := e.started[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", e.started[i].Name(), err))
		}
	}
	e.started = nil
	return errors.Join(errs...)
}

// Value returns a published value.
func (e *Env) Value(flag string) (string, bool) {
	v, ok := e.published[flag]
	return v, ok
}

// Args renders the published values as command line flags, sorted by name.
func (e *Env) Args() []string {
	names := make([]string, 0, len(e.published))
	for name := range e.published {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]string, 0, 2*len(names))
	for _, name := range names {
		args = append(args, "--"+name, e.published[name])
	}
	return args
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("127.0.0.1:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// WaitForHTTP polls url until it answers 200 OK or the timeout elapses.
func WaitForHTTP(url string, timeout time.Duration) error {
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)
	for {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s not ready after %v", url, timeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// FlagOptions configures NewTestFlags and NewTestArgs
type FlagOptions struct {
	Port        int    // Uses free port if 0
	Transport   string // Defaults to "http"
	Host        string // Defaults to "127.0.0.1"
	DataDir     string // Defaults to a per-test temp dir
	MetadataURL string // Left unset when empty
	AuthKey     string // Enables auth when set
}

// NewTestArgs returns command line arguments for a server isolated to the test.
func NewTestArgs(t testing.TB, opts *FlagOptions) []string {
	t.Helper()

	o := FlagOptions{}
	if opts != nil {
		o = *opts
	}
	if o.Port == 0 {
		o.Port = MustGetFreePort(t)
	}
	if o.Transport == "" {
		o.Transport = "http"
	}
	if o.Host == "" {
		o.Host = "127.0.0.1"
	}

	args := append(NewCommonArgs(t, &o),
		"--transport", o.Transport,
		"--host", o.Host,
		"--port", fmt.Sprintf("%d", o.Port),
	)
	if o.AuthKey != "" {
		args = append(args, "--auth-enabled", "--auth-key", o.AuthKey)
	}
	return args
}

// NewCommonArgs returns the arguments accepted by every command.
func NewCommonArgs(t testing.TB, opts *FlagOptions) []string {
	t.Helper()

	dataDir := ""
	metadataURL := ""
	if opts != nil {
		dataDir = opts.DataDir
		metadataURL = opts.MetadataURL
	}
	if dataDir == "" {
		dataDir = t.TempDir()
	}

	args := []string{"--data-dir", dataDir, "--log-level", "error"}
	if metadataURL != "" {
		args = append(args, "--registry-metadata-url", metadataURL)
	}
	return args
}

// NewTestFlags creates a configured pflag.FlagSet for testing
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)
	if err := flags.Parse(NewTestArgs(t, opts)); err != nil {
		t.Fatalf("Failed to parse test flags: %v", err)
	}
	return flags
}
