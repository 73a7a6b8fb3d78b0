// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tapon/qrengine/internal/analytics"
	"github.com/tapon/qrengine/internal/auth"
	"github.com/tapon/qrengine/internal/handler/dto"
	"github.com/tapon/qrengine/internal/qr"
	"github.com/tapon/qrengine/internal/service"
)

// Handler serves the router-level fallbacks.
type Handler struct{}

// New creates a new Handler instance.
func New() *Handler {
	return &Handler{}
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// decodeJSON reads a JSON body into dst and validates it. An empty body is
// accepted when allowEmpty is set. It writes the error response itself and
// reports whether the caller may continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v *dto.Validator, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
				return false
			}
			writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
			return false
		}
	}

	if err := v.Validate(dst); err != nil {
		var verr *dto.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
				Error:  "Request validation failed",
				Code:   "VALIDATION_FAILED",
				Fields: verr.Fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
}

// requireOwner returns the owner set by the owner middleware, writing a 401
// when there is none.
func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := auth.OwnerFromContext(r.Context())
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "OWNER_REQUIRED", "Owner identity is required")
		return "", false
	}
	return owner, true
}

// handleServiceError maps service errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var encErr *qr.EncodingError
	switch {
	case errors.As(err, &encErr):
		writeJSON(w, http.StatusUnprocessableEntity, dto.ErrorResponse{
			Error:  encErr.Error(),
			Code:   "INVALID_CONTENT",
			Fields: encodingFields(encErr),
		})
	case errors.Is(err, service.ErrQRNotFound):
		writeError(w, http.StatusNotFound, "QR_NOT_FOUND", "QR code not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "QR code belongs to another owner")
	case errors.Is(err, service.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "PROFILE_NOT_FOUND", "Profile not found")
	case errors.Is(err, service.ErrProfileRequired):
		writeError(w, http.StatusBadRequest, "PROFILE_REQUIRED", "Profile codes require a profile_id")
	case errors.Is(err, service.ErrInvalidProfile):
		writeError(w, http.StatusBadRequest, "INVALID_PROFILE", "Invalid profile")
	case errors.Is(err, service.ErrInvalidType):
		writeError(w, http.StatusBadRequest, "INVALID_TYPE", "Unsupported QR type")
	case errors.Is(err, service.ErrInvalidTitle):
		writeError(w, http.StatusBadRequest, "INVALID_TITLE", "Title too long")
	case errors.Is(err, service.ErrInvalidDesign):
		writeError(w, http.StatusBadRequest, "INVALID_DESIGN", err.Error())
	case errors.Is(err, service.ErrExpiresInPast):
		writeError(w, http.StatusUnprocessableEntity, "EXPIRES_IN_PAST", "Expiry date must be in the future")
	case errors.Is(err, service.ErrInvalidMaxScans):
		writeError(w, http.StatusBadRequest, "INVALID_MAX_SCANS", "max_scans must be positive")
	case errors.Is(err, auth.ErrPasswordLength):
		writeError(w, http.StatusBadRequest, "INVALID_PASSWORD", err.Error())
	case errors.Is(err, service.ErrPasswordRequired):
		writeError(w, http.StatusUnauthorized, "PASSWORD_REQUIRED", "This QR code is password protected")
	case errors.Is(err, service.ErrPasswordMismatch):
		writeError(w, http.StatusForbidden, "PASSWORD_MISMATCH", "Incorrect password")
	case errors.Is(err, service.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "INVALID_CURSOR", "Invalid pagination cursor")
	case errors.Is(err, analytics.ErrInvalidWindow), errors.Is(err, analytics.ErrWindowTooLarge):
		writeError(w, http.StatusBadRequest, "INVALID_WINDOW", err.Error())
	case errors.Is(err, analytics.ErrInvalidSubject), errors.Is(err, analytics.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, "INVALID_SUBJECT", err.Error())
	default:
		logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

func encodingFields(e *qr.EncodingError) map[string]string {
	if e.Field == "" {
		return nil
	}
	return map[string]string{"content." + e.Field: e.Reason}
}
