package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// AppName names the data and config directories.
const AppName = "docsproxy"

// Transport constants
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Log format constants
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// AuthSettings configuration for HTTP transport authentication
type AuthSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Key     string `mapstructure:"key"`
}

// RegistrySettings configuration for the library registry update protocol
type RegistrySettings struct {
	MetadataURL          string        `mapstructure:"metadata_url"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	InitialBackoff       time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff"`
	MaxTransientFailures int           `mapstructure:"max_transient_failures"`
	Timeout              time.Duration `mapstructure:"timeout"`
	BootstrapTimeout     time.Duration `mapstructure:"bootstrap_timeout"`
}

// CacheSettings configuration for the SQLite content cache
type CacheSettings struct {
	TTLHours             int    `mapstructure:"ttl_hours"`
	CleanupIntervalHours int    `mapstructure:"cleanup_interval_hours"`
	DBPath               string `mapstructure:"db_path"`
}

// TTL returns the cache freshness window.
func (c CacheSettings) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// CleanupInterval returns the minimum time between expired-entry sweeps.
func (c CacheSettings) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalHours) * time.Hour
}

// FetcherSettings configuration for outbound documentation fetches
type FetcherSettings struct {
	MaxRedirects        int           `mapstructure:"max_redirects"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	AllowlistDepth      int           `mapstructure:"allowlist_depth"`
	ExtraAllowedDomains []string      `mapstructure:"extra_allowed_domains"`
	RateLimit           float64       `mapstructure:"rate_limit"`
}

// ResolverSettings configuration for library resolution
type ResolverSettings struct {
	FuzzyScoreCutoff int `mapstructure:"fuzzy_score_cutoff"`
	FuzzyMaxResults  int `mapstructure:"fuzzy_max_results"`
}

// LoggingSettings configuration for the process logger
type LoggingSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Settings application settings
type Settings struct {
	Transport string           `mapstructure:"transport"`
	Host      string           `mapstructure:"host"`
	Port      int              `mapstructure:"port"`
	DataDir   string           `mapstructure:"data_dir"`
	Auth      AuthSettings     `mapstructure:"auth"`
	Registry  RegistrySettings `mapstructure:"registry"`
	Cache     CacheSettings    `mapstructure:"cache"`
	Fetcher   FetcherSettings  `mapstructure:"fetcher"`
	Resolver  ResolverSettings `mapstructure:"resolver"`
	Logging   LoggingSettings  `mapstructure:"logging"`
}

// RegistryDir returns the directory holding the persisted registry pair.
func (s *Settings) RegistryDir() string {
	return filepath.Join(s.DataDir, "registry")
}

// flagBindings maps setting keys to CLI flag names
var flagBindings = map[string]string{
	"transport":                     "transport",
	"host":                          "host",
	"port":                          "port",
	"data_dir":                      "data-dir",
	"auth.enabled":                  "auth-enabled",
	"auth.key":                      "auth-key",
	"registry.metadata_url":         "registry-metadata-url",
	"registry.poll_interval":        "registry-poll-interval",
	"cache.ttl_hours":               "cache-ttl-hours",
	"cache.db_path":                 "cache-db-path",
	"fetcher.allowlist_depth":       "allowlist-depth",
	"fetcher.extra_allowed_domains": "extra-allowed-domains",
	"fetcher.rate_limit":            "rate-limit",
	"resolver.fuzzy_score_cutoff":   "fuzzy-score-cutoff",
	"resolver.fuzzy_max_results":    "fuzzy-max-results",
	"logging.level":                 "log-level",
	"logging.format":                "log-format",
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > docsproxy.yaml > defaults.
// If flags is nil, only env vars, the config file and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	dataDir := defaultDataDir()

	v.SetDefault("transport", TransportStdio)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("data_dir", dataDir)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.key", "")

	v.SetDefault("registry.metadata_url", "https://procontext.github.io/registry_metadata.json")
	v.SetDefault("registry.poll_interval", 24*time.Hour)
	v.SetDefault("registry.initial_backoff", 60*time.Second)
	v.SetDefault("registry.max_backoff", time.Hour)
	v.SetDefault("registry.max_transient_failures", 8)
	v.SetDefault("registry.timeout", 300*time.Second)
	v.SetDefault("registry.bootstrap_timeout", 5*time.Second)

	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.cleanup_interval_hours", 6)
	v.SetDefault("cache.db_path", "")

	v.SetDefault("fetcher.max_redirects", 3)
	v.SetDefault("fetcher.request_timeout", 30*time.Second)
	v.SetDefault("fetcher.allowlist_depth", 0)
	v.SetDefault("fetcher.extra_allowed_domains", []string{})
	v.SetDefault("fetcher.rate_limit", 0.0)

	v.SetDefault("resolver.fuzzy_score_cutoff", 70)
	v.SetDefault("resolver.fuzzy_max_results", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", LogFormatText)

	// Environment variables: DOCSPROXY_CACHE_TTL_HOURS etc.
	v.SetEnvPrefix("DOCSPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, AppName))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Handle explicit parsing of extra domains if provided via env var as comma-separated string
	if env := os.Getenv("DOCSPROXY_FETCHER_EXTRA_ALLOWED_DOMAINS"); env != "" {
		domains := settings.Fetcher.ExtraAllowedDomains
		if len(domains) == 0 || (len(domains) == 1 && strings.Contains(domains[0], ",")) {
			settings.Fetcher.ExtraAllowedDomains = strings.Split(env, ",")
		}
	}
	for i := range settings.Fetcher.ExtraAllowedDomains {
		settings.Fetcher.ExtraAllowedDomains[i] = strings.TrimSpace(settings.Fetcher.ExtraAllowedDomains[i])
	}
	settings.Fetcher.ExtraAllowedDomains = filterEmptyStrings(settings.Fetcher.ExtraAllowedDomains)

	settings.Transport = strings.ToLower(strings.TrimSpace(settings.Transport))
	settings.Logging.Level = strings.ToLower(strings.TrimSpace(settings.Logging.Level))
	settings.Logging.Format = strings.ToLower(strings.TrimSpace(settings.Logging.Format))

	settings.DataDir = expandHomeDir(settings.DataDir)
	if settings.Cache.DBPath == "" {
		settings.Cache.DBPath = filepath.Join(settings.DataDir, "cache.db")
	}
	settings.Cache.DBPath = expandHomeDir(settings.Cache.DBPath)

	return &settings, nil
}

// defaultDataDir returns the per-user data directory for the application
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + AppName
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppName)
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, AppName)
		}
		return filepath.Join(home, "AppData", "Local", AppName)
	default:
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
			return filepath.Join(dir, AppName)
		}
		return filepath.Join(home, ".local", "share", AppName)
	}
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for invalid enumerations and out-of-range values.
func ValidateSettings(s *Settings) error {
	switch s.Transport {
	case TransportStdio, TransportHTTP:
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'http', got: " + s.Transport)
	}

	if s.Transport == TransportHTTP && (s.Port <= 0 || s.Port > 65535) {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", s.Port)
	}

	if _, err := ParseLevel(s.Logging.Level); err != nil {
		return err
	}
	switch s.Logging.Format {
	case LogFormatText, LogFormatJSON:
		// valid
	default:
		return errors.New("logging format must be 'text' or 'json', got: " + s.Logging.Format)
	}

	if s.DataDir == "" {
		return errors.New("data-dir cannot be empty")
	}

	if err := validateRegistrySettings(&s.Registry); err != nil {
		return err
	}
	if err := validateCacheSettings(&s.Cache); err != nil {
		return err
	}
	if err := validateFetcherSettings(&s.Fetcher); err != nil {
		return err
	}
	return validateResolverSettings(&s.Resolver)
}

func validateRegistrySettings(r *RegistrySettings) error {
	if r.MetadataURL == "" {
		return errors.New("registry metadata_url cannot be empty")
	}
	if r.PollInterval <= 0 {
		return errors.New("registry poll_interval must be positive")
	}
	if r.InitialBackoff <= 0 {
		return errors.New("registry initial_backoff must be positive")
	}
	if r.MaxBackoff < r.InitialBackoff {
		return errors.New("registry max_backoff must not be less than initial_backoff")
	}
	if r.MaxTransientFailures <= 0 {
		return errors.New("registry max_transient_failures must be positive")
	}
	if r.Timeout <= 0 {
		return errors.New("registry timeout must be positive")
	}
	if r.BootstrapTimeout <= 0 {
		return errors.New("registry bootstrap_timeout must be positive")
	}
	return nil
}

func validateCacheSettings(c *CacheSettings) error {
	if c.TTLHours <= 0 {
		return errors.New("cache ttl_hours must be positive")
	}
	if c.CleanupIntervalHours <= 0 {
		return errors.New("cache cleanup_interval_hours must be positive")
	}
	if c.DBPath == "" {
		return errors.New("cache db_path cannot be empty")
	}
	return nil
}

func validateFetcherSettings(f *FetcherSettings) error {
	if f.MaxRedirects <= 0 {
		return errors.New("fetcher max_redirects must be positive")
	}
	if f.RequestTimeout <= 0 {
		return errors.New("fetcher request_timeout must be positive")
	}
	if f.AllowlistDepth < 0 || f.AllowlistDepth > 2 {
		return fmt.Errorf("fetcher allowlist_depth must be 0, 1 or 2, got: %d", f.AllowlistDepth)
	}
	if f.RateLimit < 0 {
		return errors.New("fetcher rate_limit cannot be negative")
	}
	return nil
}

func validateResolverSettings(r *ResolverSettings) error {
	if r.FuzzyScoreCutoff < 0 || r.FuzzyScoreCutoff > 100 {
		return fmt.Errorf("resolver fuzzy_score_cutoff must be between 0 and 100, got: %d", r.FuzzyScoreCutoff)
	}
	if r.FuzzyMaxResults <= 0 {
		return errors.New("resolver fuzzy_max_results must be positive")
	}
	return nil
}
