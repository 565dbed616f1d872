package fetcher

import (
	"net/netip"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// trailingPunctuation is trimmed from URLs that end a sentence.
const trailingPunctuation = ".,;:!?*"

var absoluteURLPattern = regexp.MustCompile("https?://[^\\s<>\"'`()\\[\\]{}|\\\\^]+")

// ExtractBaseDomains scans content for absolute http(s) URLs and returns the
// distinct base domains they point at, sorted. Private IP hosts are skipped.
func ExtractBaseDomains(content string) []string {
	seen := make(map[string]struct{})
	for _, raw := range absoluteURLPattern.FindAllString(content, -1) {
		u, err := url.Parse(strings.TrimRight(raw, trailingPunctuation))
		if err != nil {
			continue
		}
		host := u.Hostname()
		if host == "" {
			continue
		}
		if addr, err := netip.ParseAddr(host); err == nil && IsPrivateAddr(addr) {
			continue
		}
		if base := BaseDomain(host); base != "" {
			seen[base] = struct{}{}
		}
	}

	domains := make([]string, 0, len(seen))
	for d := range seen {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}
