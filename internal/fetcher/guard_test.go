package fetcher

import (
	"net/netip"
	"slices"
	"testing"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
)

func TestBaseDomain(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"api.langchain.com", "langchain.com"},
		{"python.langchain.com", "langchain.com"},
		{"langchain.com", "langchain.com"},
		{"Docs.Pydantic.DEV", "pydantic.dev"},
		{"docs.example.com.", "example.com"},
		{"localhost", "localhost"},
		{"bücher.example", "xn--bcher-kva.example"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := BaseDomain(tt.host); got != tt.want {
				t.Errorf("BaseDomain(%q) = %q, want %q", tt.host, got, tt.want)
			}
		})
	}
}

func TestIsAllowed(t *testing.T) {
	allowlist := NewAllowlist("langchain.com", "pydantic.dev")

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"allowed subdomain", "https://python.langchain.com/docs/intro", true},
		{"allowed base", "https://langchain.com/", true},
		{"allowed http", "http://docs.pydantic.dev/llms.txt", true},
		{"trailing dot host", "https://docs.pydantic.dev./x", true},
		{"not in allowlist", "https://evil.example.com/", false},
		{"lookalike suffix", "https://langchain.com.evil.io/", false},
		{"private 10/8", "http://10.0.0.1/", false},
		{"private 172.16/12", "http://172.20.1.1/", false},
		{"private 192.168/16", "http://192.168.1.1/", false},
		{"loopback", "http://127.0.0.1:8080/", false},
		{"ipv6 loopback", "http://[::1]/", false},
		{"ipv6 unique local", "http://[fd00::1]/", false},
		{"ipv4 mapped loopback", "http://[::ffff:127.0.0.1]/", false},
		{"public ip not listed", "http://8.8.8.8/", false},
		{"ftp scheme", "ftp://python.langchain.com/file", false},
		{"no host", "https:///path", false},
		{"garbage", "::not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAllowed(tt.url, allowlist); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestIsAllowed_PrivateIPWinsOverAllowlist(t *testing.T) {
	// Even an allowlist that names the private address must not admit it
	allowlist := NewAllowlist("10.0.0.1", "0.1", "127.0.0.1", "0.0.1")

	for _, u := range []string{"http://10.0.0.1/", "http://127.0.0.1/"} {
		if IsAllowed(u, allowlist) {
			t.Errorf("IsAllowed(%q) = true, want false", u)
		}
	}
}

func TestIsAllowed_NilAllowlist(t *testing.T) {
	if IsAllowed("https://langchain.com/", nil) {
		t.Error("nil allowlist should deny everything")
	}
}

func TestIsPrivateAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"10.1.2.3", true},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"192.168.0.1", true},
		{"127.0.0.53", true},
		{"::1", true},
		{"fc00::1", true},
		{"fe80::1", false},
		{"::ffff:10.0.0.1", true},
		{"1.1.1.1", false},
		{"2606:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := IsPrivateAddr(netip.MustParseAddr(tt.addr)); got != tt.want {
				t.Errorf("IsPrivateAddr(%s) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestBuildAllowlist(t *testing.T) {
	entries := []domain.RegistryEntry{
		{ID: "langchain", LlmsTxtURL: "https://python.langchain.com/llms.txt", DocsURL: "https://docs.langchain.com/"},
		{ID: "svelte", LlmsTxtURL: "https://svelte.dev/llms.txt"},
		{ID: "broken", LlmsTxtURL: "::bad"},
	}

	allowlist := BuildAllowlist(entries, []string{"docs.extra.io"})

	want := []string{"extra.io", "langchain.com", "svelte.dev"}
	if got := allowlist.Domains(); !slices.Equal(got, want) {
		t.Errorf("Domains() = %v, want %v", got, want)
	}
}

func TestAllowlist_With(t *testing.T) {
	base := NewAllowlist("langchain.com")

	same, changed := base.With([]string{"langchain.com", ""})
	if changed || same != base {
		t.Error("With should return the receiver when nothing is added")
	}

	next, changed := base.With([]string{"pydantic.dev"})
	if !changed {
		t.Fatal("With should report a change")
	}
	if !next.Contains("pydantic.dev") || !next.Contains("langchain.com") {
		t.Errorf("next = %v", next.Domains())
	}
	if base.Contains("pydantic.dev") {
		t.Error("With must not mutate the receiver")
	}

	var empty *Allowlist
	grown, changed := empty.With([]string{"svelte.dev"})
	if !changed || !grown.Contains("svelte.dev") {
		t.Error("With on a nil allowlist should build a new one")
	}
}
