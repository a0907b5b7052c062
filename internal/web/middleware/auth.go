package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/JonMunkholm/herdbook/internal/config"
	"github.com/JonMunkholm/herdbook/internal/logging"
)

// APIKeyAuth returns middleware that checks the caller's API key against the
// configured keys. The key is read from X-API-Key or an "Authorization:
// Bearer" header. With RequireAPIKey false every request passes; with it true
// and no keys configured every request is rejected.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAPIKey {
				next.ServeHTTP(w, r)
				return
			}

			logger := logging.FromContext(r.Context())
			apiKey := requestAPIKey(r)
			if apiKey == "" {
				logger.Warn("auth: missing API key", "path", r.URL.Path, "ip", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
				return
			}
			if !isValidAPIKey(apiKey, cfg.APIKeys) {
				logger.Warn("auth: invalid API key", "path", r.URL.Path, "ip", r.RemoteAddr)
				writeError(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// isValidAPIKey compares against every configured key in constant time, so
// the response time does not reveal which key (if any) matched.
func isValidAPIKey(key string, validKeys []string) bool {
	valid := 0
	for _, validKey := range validKeys {
		valid |= subtle.ConstantTimeCompare([]byte(key), []byte(validKey))
	}
	return valid == 1
}
