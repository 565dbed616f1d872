// Package fetcher performs SSRF-guarded HTTP fetches of documentation content.
package fetcher

import (
	"net/netip"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"

	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
)

// privateNetworks are denied for literal IP hosts regardless of the allowlist.
var privateNetworks = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
}

// Allowlist is an immutable set of base domains permitted for outbound fetches.
type Allowlist struct {
	domains map[string]struct{}
}

// NewAllowlist returns an allowlist of the base domains of the given hosts.
func NewAllowlist(hosts ...string) *Allowlist {
	a := &Allowlist{domains: make(map[string]struct{}, len(hosts))}
	for _, host := range hosts {
		if base := BaseDomain(host); base != "" {
			a.domains[base] = struct{}{}
		}
	}
	return a
}

// BuildAllowlist collects the base domains of every entry's llms_txt_url and
// docs_url, plus the configured extra domains.
func BuildAllowlist(entries []domain.RegistryEntry, extraDomains []string) *Allowlist {
	hosts := make([]string, 0, 2*len(entries)+len(extraDomains))
	for _, entry := range entries {
		for _, raw := range []string{entry.LlmsTxtURL, entry.DocsURL} {
			if host := hostname(raw); host != "" {
				hosts = append(hosts, host)
			}
		}
	}
	hosts = append(hosts, extraDomains...)
	return NewAllowlist(hosts...)
}

// Contains reports whether baseDomain is allowed.
func (a *Allowlist) Contains(baseDomain string) bool {
	if a == nil {
		return false
	}
	_, ok := a.domains[baseDomain]
	return ok
}

// Len returns the number of allowed base domains.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.domains)
}

// Domains returns the allowed base domains in sorted order.
func (a *Allowlist) Domains() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.domains))
	for d := range a.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// With returns a new allowlist that also contains baseDomains. When nothing
// new would be added it returns the receiver and false.
func (a *Allowlist) With(baseDomains []string) (*Allowlist, bool) {
	var added []string
	for _, d := range baseDomains {
		if d != "" && !a.Contains(d) {
			added = append(added, d)
		}
	}
	if len(added) == 0 {
		return a, false
	}

	next := &Allowlist{domains: make(map[string]struct{}, a.Len()+len(added))}
	if a != nil {
		for d := range a.domains {
			next.domains[d] = struct{}{}
		}
	}
	for _, d := range added {
		next.domains[d] = struct{}{}
	}
	return next, true
}

// IsAllowed reports whether rawURL may be fetched. Literal private IP hosts
// are always denied; any other host is allowed iff its base domain is in
// the allowlist.
func IsAllowed(rawURL string, allowlist *Allowlist) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if addr, err := netip.ParseAddr(host); err == nil && IsPrivateAddr(addr) {
		return false
	}
	return allowlist.Contains(BaseDomain(host))
}

// IsPrivateAddr reports whether addr falls in a private or loopback network.
// IPv4-mapped IPv6 addresses are checked as IPv4.
func IsPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, prefix := range privateNetworks {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// BaseDomain returns the last two DNS labels of host: "api.langchain.com"
// becomes "langchain.com". Internationalized names are converted to ASCII.
func BaseDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

func hostname(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
