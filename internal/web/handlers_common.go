package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/herdbook/internal/core"
	"github.com/JonMunkholm/herdbook/internal/logging"
)

// healthResponse is the body of GET /healthz.
type healthResponse struct {
	Status   string                   `json:"status"`
	Database string                   `json:"database"`
	Imports  core.ImportLimiterStatus `json:"imports"`
}

// handleHealth reports store reachability and import capacity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:   "ok",
		Database: "ok",
		Imports:  s.service.Limiter().Status(),
	}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Warn("health check: store unreachable", "error", err)
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	if resp.Imports.Closed {
		resp.Status = "shutting_down"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleListBreeds returns the breeds selectable for ?species=.
func (s *Server) handleListBreeds(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("species")
	species, ok := core.ParseSpecies(raw)
	if !ok {
		err := fmt.Errorf("%w %q", errUnknownSpecies, raw)
		s.respondError(w, r, err, statusFor(err))
		return
	}

	scope, _ := core.ScopeFromContext(r.Context())
	breeds, err := s.service.ListBreeds(r.Context(), scope, species)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, breeds)
}

// handleDownloadTemplate serves a CSV import template.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	data, err := core.TemplateCSV()
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="animal_import_template.csv"`)
	_, _ = w.Write(data)
}

// requestLogger returns the request's logger with route fields attached.
func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	return logging.WithFields(r.Context(), "path", r.URL.Path, "method", r.Method)
}
