package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseLevel(tt.in); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestFromContext_RequestID(t *testing.T) {
	buf := captureDefault(t)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-123")
	FromContext(ctx).Info("hello")

	if !strings.Contains(buf.String(), "request_id=req-123") {
		t.Errorf("log output = %q, want request_id", buf.String())
	}
}

func TestWithLogger(t *testing.T) {
	buf := captureDefault(t)

	ctx := WithLogger(context.Background(), slog.Default().With("tenant_id", "farm-1"))
	WithFields(ctx, "import_id", "abc").Info("import committed")

	out := buf.String()
	if !strings.Contains(out, "tenant_id=farm-1") {
		t.Errorf("log output = %q, want tenant_id", out)
	}
	if !strings.Contains(out, "import_id=abc") {
		t.Errorf("log output = %q, want import_id", out)
	}
}

func TestNewHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, "warn", "JSON")).Warn("import committed", "imported", 2)
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"imported":2`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	slog.New(NewHandler(&buf, "warn", "text")).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info logged below warn level: %q", buf.String())
	}
}
