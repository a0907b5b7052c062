package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/JonMunkholm/herdbook/internal/core"
	"github.com/JonMunkholm/herdbook/internal/logging"
)

// MaxTenantIDLength bounds the tenant header value.
const MaxTenantIDLength = 128

// Tenant returns middleware that reads the tenant id from header and stores
// the resulting core.Scope in the request context. Requests without a usable
// tenant id are rejected before reaching a handler.
//
// The request logger gains a tenant field, so every later log line for the
// request carries it.
func Tenant(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(r.Header.Get(header))
			if tenantID == "" {
				writeError(w, http.StatusBadRequest, "missing tenant: set the "+header+" header", "IMP008")
				return
			}
			if len(tenantID) > MaxTenantIDLength {
				writeError(w, http.StatusBadRequest, "tenant id is too long", "IMP008")
				return
			}

			ctx := core.ContextWithScope(r.Context(), core.Scope{TenantID: tenantID})
			ctx = logging.WithLogger(ctx, logging.WithFields(ctx, "tenant", tenantID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeError writes the JSON error shape shared with the web package.
func writeError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   msg,
		"message": msg,
		"code":    code,
	})
}
