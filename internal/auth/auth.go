// Package auth guards the HTTP API with a static bearer token.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool
	Token   string
	// Public lists extra paths served without a token. An entry ending in
	// "/" matches every path below it.
	Public []string
}

// defaultPublic paths are served without a token whenever auth is enabled.
var defaultPublic = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/api/v1/status",
	"/api/v1/almanac",
}

// queryTokenPrefix marks routes that also accept the token as the
// access_token query parameter. Browser EventSource clients cannot set
// request headers.
const queryTokenPrefix = "/api/v1/stream/"

func (c Config) isPublic(path string) bool {
	for _, list := range [][]string{defaultPublic, c.Public} {
		for _, p := range list {
			if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
				return true
			}
		}
	}
	return false
}

// requestToken returns the bearer token of r, or "" when none was sent.
func requestToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if strings.HasPrefix(r.URL.Path, queryTokenPrefix) {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// Middleware returns an HTTP middleware that enforces Bearer token auth
// on non-public paths when auth is enabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || cfg.isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := requestToken(r)
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="gnsssynth"`)
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
