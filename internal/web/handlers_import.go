package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/JonMunkholm/herdbook/internal/core"
)

// previewRequest is the JSON body form of a preview upload.
type previewRequest struct {
	FileContent string `json:"fileContent"`
}

// executeRequest is the JSON body of an execute call.
type executeRequest struct {
	FileContent    string               `json:"fileContent"`
	Resolutions    []core.RowResolution `json:"resolutions"`
	IdempotencyKey string               `json:"idempotencyKey,omitempty"`
}

// handlePreview classifies an uploaded file. The file arrives as a multipart
// "file" field, a raw CSV body, or base64 inside a JSON body.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	scope, _ := core.ScopeFromContext(r.Context())
	preview, err := s.service.Preview(r.Context(), scope, data)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleExecute commits a previewed file with the client's resolutions.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.jsonBodyLimit())

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = bodyError(err)
		s.respondError(w, r, err, statusFor(err))
		return
	}
	data, err := decodeFileContent(req.FileContent)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	scope, _ := core.ScopeFromContext(ctx)
	result, err := s.service.Execute(ctx, scope, core.ExecuteRequest{
		FileContent:    data,
		Resolutions:    req.Resolutions,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if result == nil {
			s.respondError(w, r, err, statusFor(err))
			return
		}
		// The failed result carries the row and user message of the failure.
		status := statusFor(err)
		s.logFailure(r, err, status)
		writeJSON(w, status, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// readUpload extracts the file bytes from a preview request.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+multipartOverhead)
		if err := r.ParseMultipartForm(s.cfg.Import.MaxFileSize); err != nil {
			return nil, bodyError(err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, errNoFile
		}
		defer file.Close()
		if header.Size > s.cfg.Import.MaxFileSize {
			return nil, errFileTooLarge
		}
		return io.ReadAll(file)

	case "application/json":
		r.Body = http.MaxBytesReader(w, r.Body, s.jsonBodyLimit())
		var req previewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, bodyError(err)
		}
		return decodeFileContent(req.FileContent)

	default:
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyError(err)
		}
		if len(data) == 0 {
			return nil, errNoFile
		}
		return data, nil
	}
}

// multipartOverhead leaves room for boundaries and part headers.
const multipartOverhead = 64 << 10

// jsonBodyLimit allows for base64 growth of a maximum size file.
func (s *Server) jsonBodyLimit() int64 {
	return s.cfg.Import.MaxFileSize/3*4 + multipartOverhead
}

func decodeFileContent(content string) ([]byte, error) {
	if content == "" {
		return nil, errNoFile
	}
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidBase64, err)
	}
	return data, nil
}

// bodyError classifies a failure reading the request body.
func bodyError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return fmt.Errorf("%w: limit %d bytes", errFileTooLarge, maxBytesErr.Limit)
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

// logFailure records an execute failure that is answered with a result body.
func (s *Server) logFailure(r *http.Request, err error, status int) {
	msg := core.MapError(err)
	logger := s.requestLogger(r)
	if status >= http.StatusInternalServerError {
		logger.Error("import execute failed", "status", status, "error", err, "code", msg.Code)
		return
	}
	logger.Warn("import execute rejected", "status", status, "error", err, "code", msg.Code)
}
