package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tapon/qrengine/internal/analytics"
	"github.com/tapon/qrengine/internal/handler/dto"
	"github.com/tapon/qrengine/internal/middleware"
	"github.com/tapon/qrengine/internal/qr"
	"github.com/tapon/qrengine/internal/service"
)

// Scan request headers.
const (
	HeaderPassword  = "X-QR-Password"
	HeaderVisitorID = "X-Visitor-ID"
)

// ScanHandler serves the public scan endpoint.
type ScanHandler struct {
	svc       *service.ScanService
	validator *dto.Validator
	logger    *slog.Logger
}

// NewScanHandler creates a new ScanHandler.
func NewScanHandler(svc *service.ScanService, validator *dto.Validator, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{
		svc:       svc,
		validator: validator,
		logger:    logger.With("component", "handler.scan"),
	}
}

// Scan handles GET and POST /s/{id}. GET takes the password from the
// X-QR-Password header; POST takes it and the device context from the body.
// With ?redirect=1 an eligible web payload is answered with a 302.
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	start := time.Now()

	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Cache-Control", "private, max-age=0")

	var req dto.ScanRequest
	if r.Method == http.MethodPost {
		if !decodeJSON(w, r, h.validator, &req, true) {
			return
		}
	} else {
		req.Password = r.Header.Get(HeaderPassword)
	}

	input := scanInput(r, req)
	result, err := h.svc.Scan(r.Context(), id, input)
	duration := time.Since(start)
	if err != nil {
		h.logger.Info("scan_failed",
			"qr_id", id,
			"error", err,
			"duration_ms", float64(duration.Microseconds())/1000,
		)
		handleServiceError(w, h.logger, err)
		return
	}

	resp := dto.ScanResponse{
		Eligible: result.Eligible,
		Reason:   result.Reason,
		Payload:  result.Payload,
		Type:     result.Type,
	}

	if !result.Eligible {
		h.logger.Info("scan_refused",
			"qr_id", id,
			"reason", result.Reason,
			"duration_ms", float64(duration.Microseconds())/1000,
		)
		resp.Code = refusalCode(result.Reason)
		writeJSON(w, http.StatusGone, resp)
		return
	}

	h.logger.Info("scan_success",
		"qr_id", id,
		"type", result.Type,
		"unique", result.IsUnique,
		"duration_ms", float64(duration.Microseconds())/1000,
	)

	if wantsRedirect(r) && qr.CheckAbsoluteURL(result.Payload) == nil {
		http.Redirect(w, r, result.Payload, http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// scanInput merges the body with what the request headers say about the
// scanning device. Body fields win.
func scanInput(r *http.Request, req dto.ScanRequest) service.ScanInput {
	sc := service.ScanContext{
		DeviceType:  req.DeviceType,
		Country:     req.Country,
		City:        req.City,
		Fingerprint: req.Fingerprint,
		SessionID:   req.SessionID,
		Referrer:    analytics.SanitizeReferrer(r.Header.Get("Referer")),
		Language:    primaryLanguage(r.Header.Get("Accept-Language")),
	}
	if sc.Fingerprint == "" {
		sc.Fingerprint = r.Header.Get(HeaderVisitorID)
	}
	if sc.Country == "" {
		sc.Country = analytics.ExtractCountryCode(r.Header.Get("CF-IPCountry"))
	}
	if sc.City == "" {
		sc.City = r.Header.Get("CF-IPCity")
	}

	return service.ScanInput{
		Context:   sc,
		Password:  req.Password,
		IP:        middleware.ClientIP(r),
		UserAgent: analytics.TruncateUserAgent(r.Header.Get("User-Agent")),
	}
}

func wantsRedirect(r *http.Request) bool {
	switch r.URL.Query().Get("redirect") {
	case "1", "true":
		return true
	}
	return false
}

func refusalCode(reason qr.Reason) string {
	switch reason {
	case qr.ReasonInactive:
		return "QR_INACTIVE"
	case qr.ReasonExpired:
		return "QR_EXPIRED"
	case qr.ReasonLimitReached:
		return "QR_LIMIT_REACHED"
	}
	return "QR_UNAVAILABLE"
}

// primaryLanguage returns the first tag of an Accept-Language header.
func primaryLanguage(header string) string {
	tag, _, _ := strings.Cut(header, ",")
	tag, _, _ = strings.Cut(tag, ";")
	tag = strings.TrimSpace(tag)
	if tag == "*" || len(tag) > 35 {
		return ""
	}
	return tag
}
