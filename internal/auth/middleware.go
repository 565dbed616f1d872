package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/sha1n/mcp-docsproxy-server/internal/config"
)

// ProtocolVersionHeader carries the negotiated MCP protocol revision.
const ProtocolVersionHeader = "MCP-Protocol-Version"

const bearerPrefix = "Bearer "

// SupportedProtocolVersions lists the MCP revisions accepted over HTTP.
var SupportedProtocolVersions = map[string]bool{
	"2025-11-25": true,
	"2025-06-18": true,
	"2025-03-26": true,
}

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1)(:\d+)?$`)

// excludedPaths are paths that bypass the security checks (e.g., health checks)
var excludedPaths = map[string]bool{
	"/health": true,
}

// ErrMissingKey is returned when authentication is enabled without a key.
var ErrMissingKey = errors.New("auth enabled but no key configured")

// isExcludedPath checks if the request path should bypass the security checks
func isExcludedPath(path string) bool {
	return excludedPaths[path]
}

// GenerateKey returns a random URL-safe key with 256 bits of entropy.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate auth key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ResolveKey returns settings with a generated key when authentication is
// enabled and none was configured. generated reports whether that happened.
func ResolveKey(settings config.AuthSettings) (resolved config.AuthSettings, generated bool, err error) {
	if !settings.Enabled || settings.Key != "" {
		return settings, false, nil
	}
	key, err := GenerateKey()
	if err != nil {
		return settings, false, err
	}
	settings.Key = key
	return settings, true, nil
}

// NewMiddleware creates the HTTP security middleware: optional bearer key
// authentication, localhost Origin enforcement and protocol version checks.
func NewMiddleware(settings config.AuthSettings) (func(http.Handler) http.Handler, error) {
	if settings.Enabled && settings.Key == "" {
		return nil, ErrMissingKey
	}

	return func(next http.Handler) http.Handler {
		secured := protocolVersionMiddleware(next)
		secured = originMiddleware(secured)
		if settings.Enabled {
			secured = bearerMiddleware(settings.Key)(secured)
		}
		return withExclusions(secured, next)
	}, nil
}

// withExclusions routes excluded paths around the secured handler
func withExclusions(secured, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isExcludedPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		secured.ServeHTTP(w, r)
	})
}

func bearerMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, bearerPrefix)
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="docsproxy"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// originMiddleware rejects browser requests from non-local origins to
// prevent DNS rebinding.
func originMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !localhostOrigin.MatchString(origin) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func protocolVersionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version := r.Header.Get(ProtocolVersionHeader)
		if version != "" && !SupportedProtocolVersions[version] {
			http.Error(w, "Unsupported protocol version: "+version, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}
