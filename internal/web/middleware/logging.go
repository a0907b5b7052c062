// Package middleware provides HTTP middleware for the import API.
package middleware

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/herdbook/internal/logging"
)

// Logger logs one line per request and stores a request-scoped logger in the
// context. Handlers and core code that call logging.FromContext then share
// the request_id of chi's RequestID middleware, which must run first.
//
// Log fields: method, path, status, bytes, duration_ms, ip, user_agent.
// Server errors log at error level, client errors at warn, the rest at info.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := r.Context()
		logger := logging.FromContext(ctx)
		r = r.WithContext(logging.WithLogger(ctx, logger))

		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		log := logger.Info
		switch {
		case ww.status >= http.StatusInternalServerError:
			log = logger.Error
		case ww.status >= http.StatusBadRequest:
			log = logger.Warn
		}
		log("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"bytes", ww.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// responseWriter captures the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
