package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

const masked = "****"

// ParseLevel maps a configured level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown logging level: %s", level)
	}
}

// NewLogger builds a logger writing to w in the configured format.
// Callers pass stderr; stdout carries the stdio MCP stream.
func NewLogger(w io.Writer, s LoggingSettings) *slog.Logger {
	level, err := ParseLevel(s.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if s.Format == LogFormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// LogWithLogger logs the resolved settings in a granular way, skipping irrelevant ones
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == TransportHTTP {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
		logger.InfoContext(ctx, "Config: auth.enabled", "value", s.Auth.Enabled)
		if s.Auth.Key != "" {
			logger.InfoContext(ctx, "Config: auth.key", "value", masked)
		}
	}

	logger.InfoContext(ctx, "Config: data_dir", "value", s.DataDir)
	logger.InfoContext(ctx, "Config: registry", "value", RegistrySettingsLogValue(s.Registry))
	logger.InfoContext(ctx, "Config: cache", "value", CacheSettingsLogValue(s.Cache))
	logger.InfoContext(ctx, "Config: fetcher", "value", FetcherSettingsLogValue(s.Fetcher))
	logger.InfoContext(ctx, "Config: resolver",
		"fuzzy_score_cutoff", s.Resolver.FuzzyScoreCutoff,
		"fuzzy_max_results", s.Resolver.FuzzyMaxResults)
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	key := ""
	if s.Key != "" {
		key = masked
	}
	return slog.GroupValue(
		slog.Bool("enabled", s.Enabled),
		slog.String("key", key),
	)
}

// RegistrySettingsLogValue returns a slog.Value for RegistrySettings
func RegistrySettingsLogValue(s RegistrySettings) slog.Value {
	return slog.GroupValue(
		slog.String("metadata_url", s.MetadataURL),
		slog.Duration("poll_interval", s.PollInterval),
		slog.Duration("initial_backoff", s.InitialBackoff),
		slog.Duration("max_backoff", s.MaxBackoff),
		slog.Int("max_transient_failures", s.MaxTransientFailures),
	)
}

// CacheSettingsLogValue returns a slog.Value for CacheSettings
func CacheSettingsLogValue(s CacheSettings) slog.Value {
	return slog.GroupValue(
		slog.Int("ttl_hours", s.TTLHours),
		slog.Int("cleanup_interval_hours", s.CleanupIntervalHours),
		slog.String("db_path", s.DBPath),
	)
}

// FetcherSettingsLogValue returns a slog.Value for FetcherSettings
func FetcherSettingsLogValue(s FetcherSettings) slog.Value {
	return slog.GroupValue(
		slog.Int("max_redirects", s.MaxRedirects),
		slog.Duration("request_timeout", s.RequestTimeout),
		slog.Int("allowlist_depth", s.AllowlistDepth),
		slog.Any("extra_allowed_domains", s.ExtraAllowedDomains),
		slog.Float64("rate_limit", s.RateLimit),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.String("data_dir", s.DataDir),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.Any("registry", RegistrySettingsLogValue(s.Registry)),
		slog.Any("cache", CacheSettingsLogValue(s.Cache)),
		slog.Any("fetcher", FetcherSettingsLogValue(s.Fetcher)),
		slog.String("logging_level", s.Logging.Level),
		slog.String("logging_format", s.Logging.Format),
	)
}
