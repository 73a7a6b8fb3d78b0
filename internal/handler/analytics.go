package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tapon/qrengine/internal/analytics"
	"github.com/tapon/qrengine/internal/service"
)

const (
	streamReadLimit   = 4 * 1024
	streamPongWait    = 90 * time.Second
	streamPingPeriod  = 30 * time.Second
	streamWriteWait   = 10 * time.Second
	defaultPushPeriod = 5 * time.Second
)

var errBadTimestamp = errors.New("timestamps must be RFC 3339 or YYYY-MM-DD")

// AnalyticsHandler serves the event log views.
type AnalyticsHandler struct {
	svc          *service.AnalyticsService
	pushInterval time.Duration
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

// NewAnalyticsHandler creates a new AnalyticsHandler. allowedOrigins bounds
// which browser origins may open the realtime stream; empty or "*" allows
// any.
func NewAnalyticsHandler(svc *service.AnalyticsService, pushInterval time.Duration, allowedOrigins []string, logger *slog.Logger) *AnalyticsHandler {
	if pushInterval <= 0 {
		pushInterval = defaultPushPeriod
	}
	return &AnalyticsHandler{
		svc:          svc,
		pushInterval: pushInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With("component", "handler.analytics"),
	}
}

// QRFunnel handles GET /api/v1/analytics/qr/{id}/funnel.
func (h *AnalyticsHandler) QRFunnel(w http.ResponseWriter, r *http.Request) {
	h.funnel(w, r, h.svc.QRFunnel)
}

// ProfileFunnel handles GET /api/v1/analytics/profiles/{id}/funnel.
func (h *AnalyticsHandler) ProfileFunnel(w http.ResponseWriter, r *http.Request) {
	h.funnel(w, r, h.svc.ProfileFunnel)
}

func (h *AnalyticsHandler) funnel(w http.ResponseWriter, r *http.Request, query func(ctx context.Context, in service.FunnelInput) (*analytics.Funnel, error)) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	window, ok := parseWindow(w, r)
	if !ok {
		return
	}

	f, err := query(r.Context(), service.FunnelInput{
		ID:          chi.URLParam(r, "id"),
		OwnerID:     owner,
		EventType:   r.URL.Query().Get("event_type"),
		Window:      window,
		RecentLimit: queryInt(r, "recent"),
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, f)
}

// ProfileOverview handles GET /api/v1/analytics/profiles/{id}/overview.
func (h *AnalyticsHandler) ProfileOverview(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	window, ok := parseWindow(w, r)
	if !ok {
		return
	}

	overview, err := h.svc.ProfileOverview(r.Context(), chi.URLParam(r, "id"), owner, window)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, overview)
}

// Trend handles GET /api/v1/analytics/trend?event_type=.
func (h *AnalyticsHandler) Trend(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r)
	if !ok {
		return
	}

	trend, err := h.svc.Trend(r.Context(), r.URL.Query().Get("event_type"), window)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, trend)
}

// Summary handles GET /api/v1/analytics/summary.
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r)
	if !ok {
		return
	}

	summary, err := h.svc.Summary(r.Context(), window, queryInt(r, "top"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// Realtime handles GET /api/v1/analytics/realtime.
func (h *AnalyticsHandler) Realtime(w http.ResponseWriter, r *http.Request) {
	rt, err := h.svc.Realtime(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, rt)
}

// RealtimeStream handles GET /api/v1/analytics/realtime/ws. It upgrades
// to a websocket and pushes the realtime view every push interval until the
// client goes away.
func (h *AnalyticsHandler) RealtimeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("realtime_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()

	// The client only sends control frames. The reader exists to process
	// pongs and notice the close.
	closed := make(chan struct{})
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := time.NewTicker(h.pushInterval)
	defer push.Stop()
	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	if !h.pushRealtime(conn, r) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-push.C:
			if !h.pushRealtime(conn, r) {
				return
			}
		}
	}
}

func (h *AnalyticsHandler) pushRealtime(conn *websocket.Conn, r *http.Request) bool {
	rt, err := h.svc.Realtime(r.Context())
	if err != nil {
		h.logger.Warn("realtime_query_failed", "error", err)
		return r.Context().Err() == nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(rt) == nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// parseWindow reads from and to. A date-only to covers that whole day.
func parseWindow(w http.ResponseWriter, r *http.Request) (analytics.Window, bool) {
	var window analytics.Window
	for _, p := range []struct {
		name     string
		dst      *time.Time
		endOfDay bool
	}{
		{"from", &window.From, false},
		{"to", &window.To, true},
	} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		t, err := parseTimestamp(raw, p.endOfDay)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_WINDOW", p.name+": "+err.Error())
			return analytics.Window{}, false
		}
		*p.dst = t
	}
	return window, true
}

func parseTimestamp(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errBadTimestamp
	}
	if endOfDay {
		t = t.Add(24 * time.Hour)
	}
	return t, nil
}

// queryInt returns a positive integer query value, or 0.
func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
