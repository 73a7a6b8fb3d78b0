package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS_Origins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"nothing configured", nil, "https://menu.example.com", ""},
		{"exact", []string{"https://dashboard.example.com"}, "https://dashboard.example.com", "https://dashboard.example.com"},
		{"other site", []string{"https://dashboard.example.com"}, "https://evil.example.net", ""},
		{"wildcard tenant", []string{"https://*.cards.example.com"}, "https://acme.cards.example.com", "https://acme.cards.example.com"},
		{"case folded", []string{"HTTPS://DASHBOARD.EXAMPLE.COM"}, "https://dashboard.example.com", "https://dashboard.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/api/v1/qr", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			CORS(tt.allowed)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS_ScanPreflight(t *testing.T) {
	t.Parallel()

	reached := false
	h := CORS([]string{"https://cards.example.com"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/s/01HQR", nil)
	req.Header.Set("Origin", "https://cards.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-QR-Password, X-Visitor-ID")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if reached {
		t.Error("preflight reached the handler")
	}
	allowHeaders := strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers"))
	for _, name := range []string{"x-qr-password", "x-visitor-id"} {
		if !strings.Contains(allowHeaders, name) {
			t.Errorf("Access-Control-Allow-Headers %q lacks %s", allowHeaders, name)
		}
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "86400" {
		t.Errorf("Access-Control-Max-Age = %q", got)
	}
}

func TestCORS_ExposesRateLimitHeaders(t *testing.T) {
	t.Parallel()

	h := CORS([]string{"https://cards.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	req := httptest.NewRequest(http.MethodPost, "/s/01HQR", nil)
	req.Header.Set("Origin", "https://cards.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	exposed := rec.Header().Get("Access-Control-Expose-Headers")
	for _, name := range []string{"Retry-After", "X-Ratelimit-Remaining", "X-Request-Id"} {
		if !strings.Contains(strings.ToLower(exposed), strings.ToLower(name)) {
			t.Errorf("Access-Control-Expose-Headers %q lacks %s", exposed, name)
		}
	}
}
