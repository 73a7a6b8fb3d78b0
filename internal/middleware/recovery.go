package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recoverer converts a handler panic into a logged 500 INTERNAL_ERROR. When
// the handler already started its response only the log line is written.
// http.ErrAbortHandler is re-raised.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				switch {
				case v == nil:
					return
				case v == http.ErrAbortHandler:
					panic(v)
				}

				logger.Error("handler panic",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Any("panic", v),
					slog.String("stack", string(debug.Stack())),
				)
				if rw, ok := w.(*responseWriter); ok && rw.wroteHeader {
					return
				}
				writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
