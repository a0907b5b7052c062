package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. statusFor picks the HTTP status from the error's type
//  3. respondError maps it via core.MapError to a user-friendly message
//  4. Technical error and request ID are logged for correlation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/herdbook/internal/core"
	"github.com/JonMunkholm/herdbook/internal/logging"
)

var (
	errRateLimited   = errors.New("rate limit exceeded")
	errNoFile        = errors.New("no file provided")
	errFileTooLarge  = errors.New("file too large")
	errInvalidBase64 = errors.New("invalid base64 in fileContent")
	errBadRequest    = errors.New("malformed request body")

	errUnknownSpecies = errors.New("unknown species")
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor maps an error from the import pipeline to an HTTP status.
func statusFor(err error) int {
	var (
		decodeErr     *core.DecodeError
		resolutionErr *core.ResolutionError
		cycleErr      *core.CycleError
		commitErr     *core.CommitError
		maxBytesErr   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &maxBytesErr), errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &decodeErr),
		errors.Is(err, errNoFile),
		errors.Is(err, errInvalidBase64),
		errors.Is(err, errBadRequest),
		errors.Is(err, errUnknownSpecies),
		errors.Is(err, core.ErrIdempotencyKeyTooLong),
		errors.Is(err, core.ErrMissingTenant):
		return http.StatusBadRequest
	case errors.As(err, &resolutionErr), errors.As(err, &cycleErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &commitErr):
		if errors.Is(err, core.ErrInvalidReference) {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	case errors.Is(err, core.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrLimiterClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrPreviewTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error server-side and writes a JSON error
// response with a user-friendly message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	log := logger.Warn
	if statusCode >= http.StatusInternalServerError {
		log = logger.Error
	}
	log("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	if errors.Is(err, core.ErrTooManyImports) {
		w.Header().Set("Retry-After", "5")
	}
	respondErrorJSON(w, userMsg, statusCode)
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}
