package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/herdbook/internal/config"
	"github.com/JonMunkholm/herdbook/internal/core"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "untrusted peer keeps remote addr",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "203.0.113.9:5000",
			headers:    map[string]string{"X-Real-IP": "198.51.100.1"},
			want:       "203.0.113.9:5000",
		},
		{
			name:       "trusted peer uses X-Real-IP",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:5000",
			headers:    map[string]string{"X-Real-IP": "198.51.100.1"},
			want:       "198.51.100.1",
		},
		{
			name:       "trusted single ip uses first forwarded hop",
			trusted:    []string{"10.1.2.3"},
			remoteAddr: "10.1.2.3:5000",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"},
			want:       "198.51.100.7",
		},
		{
			name:       "invalid header ignored",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:5000",
			headers:    map[string]string{"X-Real-IP": "not-an-ip"},
			want:       "10.1.2.3:5000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTenant(t *testing.T) {
	var scope core.Scope
	var ok bool
	h := Tenant("X-Tenant-ID")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, ok = core.ScopeFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "  ranch-1 ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ok)
	assert.Equal(t, "ranch-1", scope.TenantID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "IMP008")
}

func TestAPIKeyAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		name string
		cfg  config.SecurityConfig
		key  string
		want int
	}{
		{"disabled", config.SecurityConfig{}, "", http.StatusOK},
		{"missing", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"a"}}, "", http.StatusUnauthorized},
		{"invalid", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"a"}}, "b", http.StatusForbidden},
		{"second key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"a", "b"}}, "b", http.StatusOK},
		{"no keys configured", config.SecurityConfig{RequireAPIKey: true}, "a", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			APIKeyAuth(&tt.cfg)(next).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAPIKeyAuth_Bearer(t *testing.T) {
	cfg := config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	h := APIKeyAuth(&cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogger_CapturesStatus(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
