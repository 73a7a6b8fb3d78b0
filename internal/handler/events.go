package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tapon/qrengine/internal/analytics"
	"github.com/tapon/qrengine/internal/handler/dto"
	"github.com/tapon/qrengine/internal/middleware"
	"github.com/tapon/qrengine/internal/service"
)

// EventHandler accepts analytics facts reported by clients.
type EventHandler struct {
	recorder  service.EventRecorder
	validator *dto.Validator
	logger    *slog.Logger
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(recorder service.EventRecorder, validator *dto.Validator, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		recorder:  recorder,
		validator: validator,
		logger:    logger.With("component", "handler.events"),
	}
}

// Track handles POST /api/v1/events. The event is queued, not stored, by
// the time the 202 is written.
func (h *EventHandler) Track(w http.ResponseWriter, r *http.Request) {
	var req dto.EventRequest
	if !decodeJSON(w, r, h.validator, &req, false) {
		return
	}

	e := req.ToModel()
	now := time.Now().UTC()
	ua := r.Header.Get("User-Agent")
	device := analytics.ClassifyUserAgent(ua)

	e.OccurredAt = now
	e.Metadata.DeviceType = device.DeviceType
	e.Metadata.Browser = device.Browser
	e.Metadata.Platform = device.Platform
	e.Metadata.Referrer = analytics.SanitizeReferrer(r.Header.Get("Referer"))
	e.Metadata.Country = analytics.ExtractCountryCode(r.Header.Get("CF-IPCountry"))
	e.Metadata.City = r.Header.Get("CF-IPCity")
	e.Metadata.VisitorHash = analytics.GenerateVisitorHash(middleware.ClientIP(r), ua, now)
	if e.Metadata.Language == "" {
		e.Metadata.Language = primaryLanguage(r.Header.Get("Accept-Language"))
	}

	recorded := h.recorder.Record(r.Context(), e)
	if recorded == nil {
		writeError(w, http.StatusBadRequest, "INVALID_EVENT", "Event rejected")
		return
	}

	writeJSON(w, http.StatusAccepted, dto.EventAccepted{ID: recorded.ID})
}
