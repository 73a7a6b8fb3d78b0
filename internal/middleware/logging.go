package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
// It passes Hijack and Flush through so websocket upgrades keep working.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	rw.wroteHeader = true
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logger writes one structured line per request. Once routing has run the
// line carries the chi route pattern, and scan and management routes also
// carry the code they touched. Probes log at debug level.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrapResponseWriter(w)

			next.ServeHTTP(rw, r)

			attrs := make([]slog.Attr, 0, 12)
			attrs = append(attrs,
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status_code", rw.status),
				slog.Int("bytes", rw.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
				slog.String("client_ip", ClientIP(r)),
				slog.String("user_agent", r.UserAgent()),
			)
			attrs = append(attrs, routeAttrs(r)...)
			if id := GetTraceID(r.Context()); id != "" {
				attrs = append(attrs, slog.String("trace_id", id))
			}
			if owner := r.Header.Get(HeaderOwnerID); owner != "" && len(owner) <= maxOwnerIDLength {
				attrs = append(attrs, slog.String("owner_id", owner))
			}

			logger.LogAttrs(r.Context(), requestLevel(r.URL.Path, rw.status), "http request", attrs...)
		})
	}
}

// routeAttrs reads what chi resolved for the request.
func routeAttrs(r *http.Request) []slog.Attr {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	var attrs []slog.Attr
	pattern := rctx.RoutePattern()
	if pattern != "" {
		attrs = append(attrs, slog.String("route", pattern))
	}
	if id := rctx.URLParam("id"); id != "" && isCodeRoute(pattern) {
		attrs = append(attrs, slog.String("qr_id", id))
	}
	return attrs
}

func isCodeRoute(pattern string) bool {
	return strings.HasPrefix(pattern, "/s/") ||
		strings.HasPrefix(pattern, "/api/v1/qr/") ||
		strings.HasPrefix(pattern, "/api/v1/analytics/qr/")
}

func requestLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case path == "/healthz" || path == "/readyz" || path == "/metrics":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
