package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	RegisterCommonFlags(flags)
	flags.StringP("transport", "t", "", "Transport type: stdio or http")
	flags.StringP("host", "H", "", "Host for HTTP transport")
	flags.IntP("port", "p", 0, "Port for HTTP transport")
	flags.Bool("auth-enabled", false, "Require a bearer key on the HTTP transport")
	flags.StringP("auth-key", "k", "", "Bearer key for the HTTP transport (generated when enabled and empty)")
	flags.Duration("registry-poll-interval", 0, "Interval between registry update checks in HTTP mode")
	flags.Int("cache-ttl-hours", 0, "Hours fetched documentation stays fresh")
	flags.String("cache-db-path", "", "Path of the SQLite cache database")
	flags.Int("allowlist-depth", 0, "Allowlist expansion depth: 0 off, 1 tables of contents, 2 pages too")
	flags.StringSlice("extra-allowed-domains", nil, "Additional allowed base domains (comma-separated)")
	flags.Float64("rate-limit", 0, "Maximum requests per second per domain (0 disables)")
	flags.Int("fuzzy-score-cutoff", 0, "Minimum fuzzy similarity score (0-100)")
	flags.Int("fuzzy-max-results", 0, "Maximum number of fuzzy matches")
}

// RegisterCommonFlags registers the flags shared by every command
func RegisterCommonFlags(flags *pflag.FlagSet) {
	flags.StringP("data-dir", "d", "", "Directory for the registry and cache")
	flags.String("registry-metadata-url", "", "URL of the registry metadata document")
	flags.StringP("log-level", "l", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")
}
