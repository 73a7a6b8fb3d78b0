package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tapon/qrengine/internal/handler/dto"
	"github.com/tapon/qrengine/internal/model"
	"github.com/tapon/qrengine/internal/service"
)

// QRHandler handles HTTP requests for QR code management.
type QRHandler struct {
	svc       *service.QRService
	validator *dto.Validator
	baseURL   string
	logger    *slog.Logger
}

// NewQRHandler creates a new QRHandler. baseURL is the public origin scan
// links are built under.
func NewQRHandler(svc *service.QRService, validator *dto.Validator, baseURL string, logger *slog.Logger) *QRHandler {
	return &QRHandler{
		svc:       svc,
		validator: validator,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger.With("component", "handler.qr"),
	}
}

// Create handles POST /api/v1/qr.
func (h *QRHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req dto.CreateQRRequest
	if !decodeJSON(w, r, h.validator, &req, false) {
		return
	}
	qrType, _ := model.ParseQRType(req.Type)

	rec, err := h.svc.Create(r.Context(), service.CreateQRInput{
		OwnerID:   owner,
		ProfileID: req.ProfileID,
		Title:     req.Title,
		Type:      qrType,
		Content:   req.Content,
		Design:    req.Design.ToModel(),
		IsActive:  req.IsActive,
		ExpiresAt: req.ExpiresAt,
		MaxScans:  req.MaxScans,
		Password:  req.Password,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.ToQRResponse(rec, h.baseURL))
}

// Get handles GET /api/v1/qr/{id}.
func (h *QRHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToQRResponse(rec, h.baseURL))
}

// List handles GET /api/v1/qr.
func (h *QRHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()

	limit := 20
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	input := service.ListQRInput{
		OwnerID: owner,
		Cursor:  query.Get("cursor"),
		Limit:   limit,
	}

	for _, raw := range query["type"] {
		for _, part := range strings.Split(raw, ",") {
			if part == "" {
				continue
			}
			t, ok := model.ParseQRType(part)
			if !ok {
				writeError(w, http.StatusBadRequest, "INVALID_TYPE", "Unsupported QR type: "+part)
				return
			}
			input.Types = append(input.Types, t)
		}
	}

	if a := query.Get("active"); a != "" {
		active, err := strconv.ParseBool(a)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_FILTER", "active must be true or false")
			return
		}
		input.Active = &active
	}

	result, err := h.svc.List(r.Context(), input)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToQRListResponse(result.Codes, h.baseURL, result.NextCursor, result.HasMore))
}

// Update handles PATCH /api/v1/qr/{id}.
func (h *QRHandler) Update(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req dto.UpdateQRRequest
	if !decodeJSON(w, r, h.validator, &req, false) {
		return
	}

	input := service.UpdateQRInput{
		ID:            chi.URLParam(r, "id"),
		OwnerID:       owner,
		Title:         req.Title,
		Content:       req.Content,
		ProfileID:     req.ProfileID,
		Design:        req.Design.ToModel(),
		IsActive:      req.IsActive,
		ExpiresAt:     req.ExpiresAt,
		ClearExpiry:   req.ClearExpiry,
		MaxScans:      req.MaxScans,
		ClearMaxScans: req.ClearMaxScans,
		Password:      req.Password,
	}
	if req.Type != nil {
		t, _ := model.ParseQRType(*req.Type)
		input.Type = &t
	}

	rec, err := h.svc.Update(r.Context(), input)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToQRResponse(rec, h.baseURL))
}

// Delete handles DELETE /api/v1/qr/{id}.
func (h *QRHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"), owner); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Toggle handles PATCH /api/v1/qr/{id}/toggle.
func (h *QRHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	rec, err := h.svc.Toggle(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToQRResponse(rec, h.baseURL))
}

// Regenerate handles POST /api/v1/qr/{id}/regenerate.
func (h *QRHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	rec, err := h.svc.Regenerate(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToQRResponse(rec, h.baseURL))
}

// Download handles GET /api/v1/qr/{id}/download.
func (h *QRHandler) Download(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	dl, err := h.svc.Download(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dl)
}

// Stats handles GET /api/v1/qr/{id}/stats.
func (h *QRHandler) Stats(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	stats, err := h.svc.Stats(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// EnsureProfileCode handles POST /api/v1/profiles/{id}/qr.
func (h *QRHandler) EnsureProfileCode(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req dto.EnsureProfileCodeRequest
	if !decodeJSON(w, r, h.validator, &req, true) {
		return
	}

	rec, created, err := h.svc.EnsureProfileCode(r.Context(), service.EnsureProfileCodeInput{
		ProfileID: chi.URLParam(r, "id"),
		OwnerID:   owner,
		Username:  req.Username,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, dto.ToQRResponse(rec, h.baseURL))
}
