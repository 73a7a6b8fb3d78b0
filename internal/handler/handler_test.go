package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tapon/qrengine/internal/handler/dto"
	"github.com/tapon/qrengine/internal/middleware"
	"github.com/tapon/qrengine/internal/model"
	"github.com/tapon/qrengine/internal/qr"
	"github.com/tapon/qrengine/internal/repository"
	"github.com/tapon/qrengine/internal/service"
)

const testOwner = "owner-1"

func TestHandler_NotFound(t *testing.T) {
	h := New()

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()

	h.NotFound(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}

	var response dto.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Error != "resource not found" || response.Code != "NOT_FOUND" {
		t.Errorf("unexpected error response: %+v", response)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := New()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()

	h.MethodNotAllowed(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
}

// codeStore is an in-memory QR store; mu stands in for the row lock.
type codeStore struct {
	mu   sync.Mutex
	recs map[string]*model.QRRecord
}

func (s *codeStore) CreateQRCode(_ context.Context, rec *model.QRRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Version = 1
	s.recs[rec.ID] = rec.Clone()
	return nil
}

func (s *codeStore) GetQRCode(_ context.Context, id string) (*model.QRRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, repository.ErrQRNotFound
	}
	return rec.Clone(), nil
}

func (s *codeStore) FindProfileCode(context.Context, string) (*model.QRRecord, error) {
	return nil, repository.ErrQRNotFound
}

func (s *codeStore) ListQRCodes(_ context.Context, filter repository.QRFilter, _ string, _ int) ([]*model.QRRecord, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.QRRecord
	for _, rec := range s.recs {
		if rec.OwnerID == filter.OwnerID {
			out = append(out, rec.Clone())
		}
	}
	return out, "", nil
}

func (s *codeStore) UpdateQRCode(_ context.Context, id string, fn func(cur *model.QRRecord) error) (*model.QRRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.recs[id]
	if !ok {
		return nil, repository.ErrQRNotFound
	}
	cur := stored.Clone()
	if err := fn(cur); err != nil {
		return nil, err
	}
	cur.Version++
	s.recs[id] = cur.Clone()
	return cur, nil
}

func (s *codeStore) ApplyScan(_ context.Context, id string, apply func(cur *model.QRRecord) (*model.QRRecord, error)) (*model.QRRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.recs[id]
	if !ok {
		return nil, repository.ErrQRNotFound
	}
	next, err := apply(stored.Clone())
	if err != nil {
		return nil, err
	}
	updated := stored.Clone()
	updated.Stats = next.Clone().Stats
	updated.Version++
	s.recs[id] = updated
	next.Version = updated.Version
	return next, nil
}

func (s *codeStore) DeleteQRCode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

type noProfiles struct{}

func (noProfiles) GetProfile(context.Context, string) (*model.Profile, error) {
	return nil, repository.ErrProfileNotFound
}
func (noProfiles) UpsertProfile(context.Context, *model.Profile) error { return nil }

type stubRecorder struct {
	mu     sync.Mutex
	events []*model.AnalyticsEvent
}

func (s *stubRecorder) Record(_ context.Context, e *model.AnalyticsEvent) *model.AnalyticsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = "evt-" + e.EventType
	}
	s.events = append(s.events, e)
	return e
}

func newTestRouter(t *testing.T) (http.Handler, *stubRecorder) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &codeStore{recs: make(map[string]*model.QRRecord)}
	events := &stubRecorder{}
	v := dto.NewValidator()

	resolver := service.NewProfileResolver(noProfiles{}, nil, "https://x.test", logger, nil)
	qrs := NewQRHandler(service.NewQRService(store, resolver, nil, events, logger, nil), v, "https://x.test", logger)
	scans := NewScanHandler(service.NewScanService(store, nil, events, service.ScanConfig{}, logger, nil), v, logger)
	tracker := NewEventHandler(events, v, logger)

	r := chi.NewRouter()
	r.HandleFunc("/s/{id}", scans.Scan)
	r.Post("/api/v1/events", tracker.Track)
	r.Route("/api/v1/qr", func(r chi.Router) {
		r.Use(middleware.Owner)
		r.Post("/", qrs.Create)
		r.Get("/", qrs.List)
		r.Get("/{id}", qrs.Get)
		r.Patch("/{id}/toggle", qrs.Toggle)
	})
	return r, events
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func owned() map[string]string {
	return map[string]string{middleware.HeaderOwnerID: testOwner}
}

func createCode(t *testing.T, h http.Handler, body map[string]any) dto.QRResponse {
	t.Helper()

	rec := do(t, h, http.MethodPost, "/api/v1/qr", body, owned())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp dto.QRResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp
}

func TestQRHandler_CreateRequiresOwner(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	rec := do(t, h, http.MethodPost, "/api/v1/qr", map[string]any{"type": "text"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestQRHandler_CreateValidation(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/v1/qr", map[string]any{"type": "hologram"}, owned())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp dto.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "VALIDATION_FAILED" || resp.Fields["type"] == "" {
		t.Fatalf("unexpected error response %+v", resp)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/qr", map[string]any{"type": "email", "content": map[string]any{"email": "nope"}}, owned())
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad content, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/v1/qr", map[string]any{"type": "text", "colour": "red"}, owned())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestQRHandler_OwnershipIsEnforced(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	created := createCode(t, h, map[string]any{"type": "text", "content": map[string]any{"text": "hi"}})

	rec := do(t, h, http.MethodGet, "/api/v1/qr/"+created.ID, nil, map[string]string{middleware.HeaderOwnerID: "intruder"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/v1/qr/missing", nil, owned())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestScanHandler_ResolvesAndRedirects(t *testing.T) {
	t.Parallel()

	h, events := newTestRouter(t)
	created := createCode(t, h, map[string]any{"type": "url", "content": map[string]any{"url": "https://example.com/menu"}})
	if created.ScanURL != "https://x.test/s/"+created.ID {
		t.Fatalf("unexpected scan url %q", created.ScanURL)
	}

	rec := do(t, h, http.MethodGet, "/s/"+created.ID, nil, map[string]string{
		"User-Agent":   "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
		"CF-IPCountry": "de",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp dto.ScanResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Eligible || resp.Payload != "https://example.com/menu" {
		t.Fatalf("unexpected scan response %+v", resp)
	}
	if rec.Header().Get("Cache-Control") != "private, max-age=0" {
		t.Fatalf("expected private cache control, got %q", rec.Header().Get("Cache-Control"))
	}

	rec = do(t, h, http.MethodGet, "/s/"+created.ID+"?redirect=1", nil, nil)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "https://example.com/menu" {
		t.Fatalf("expected redirect, got %d to %q", rec.Code, rec.Header().Get("Location"))
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	var scans int
	for _, e := range events.events {
		if e.EventType == model.EventQRScan {
			scans++
		}
	}
	if scans != 2 {
		t.Fatalf("expected 2 scan events, got %d", scans)
	}
}

func TestScanHandler_Refusals(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	inactive := createCode(t, h, map[string]any{"type": "text", "content": map[string]any{"text": "hi"}, "is_active": false})
	locked := createCode(t, h, map[string]any{"type": "text", "content": map[string]any{"text": "secret"}, "password": "hunter22"})

	rec := do(t, h, http.MethodGet, "/s/"+inactive.ID, nil, nil)
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", rec.Code)
	}
	var refused dto.ScanResponse
	if err := json.NewDecoder(rec.Body).Decode(&refused); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if refused.Code != "QR_INACTIVE" || refused.Reason != qr.ReasonInactive || refused.Payload != "" {
		t.Fatalf("unexpected refusal %+v", refused)
	}

	rec = do(t, h, http.MethodGet, "/s/"+locked.ID, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without password, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/s/"+locked.ID, map[string]any{"password": "wrong-one"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong password, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/s/"+locked.ID, nil, map[string]string{HeaderPassword: "hunter22"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with password, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/s/unknown", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestEventHandler_Track(t *testing.T) {
	t.Parallel()

	h, events := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/v1/events", map[string]any{
		"event_type":   "link_click",
		"event_action": "click",
		"profile_id":   "prof-1",
	}, map[string]string{"Referer": "https://social.example/post?id=1", "Accept-Language": "en-US,en;q=0.8"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var accepted dto.EventAccepted
	if err := json.NewDecoder(rec.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if accepted.ID == "" {
		t.Fatal("expected an event id")
	}

	events.mu.Lock()
	got := events.events[len(events.events)-1]
	events.mu.Unlock()
	if got.Metadata.Referrer != "https://social.example/post" || got.Metadata.Language != "en-US" {
		t.Fatalf("unexpected metadata %+v", got.Metadata)
	}
	if len(got.Metadata.VisitorHash) != 16 {
		t.Fatalf("expected a visitor hash, got %q", got.Metadata.VisitorHash)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/events", map[string]any{"event_type": "link_click"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing action, got %d", rec.Code)
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw      string
		endOfDay bool
		want     time.Time
		wantErr  bool
	}{
		{"2026-03-01T10:00:00Z", false, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"2026-03-01", false, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"2026-03-01", true, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), false},
		{"yesterday", false, time.Time{}, true},
	}

	for _, test := range tests {
		got, err := parseTimestamp(test.raw, test.endOfDay)
		if (err != nil) != test.wantErr {
			t.Fatalf("%s: unexpected error %v", test.raw, err)
		}
		if !got.Equal(test.want) {
			t.Fatalf("%s: expected %s, got %s", test.raw, test.want, got)
		}
	}
}

func TestPrimaryLanguage(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":                "",
		"fr-CH, fr;q=0.9": "fr-CH",
		"de;q=0.7":        "de",
		"*":               "",
	}
	for header, want := range tests {
		if got := primaryLanguage(header); got != want {
			t.Fatalf("primaryLanguage(%q) = %q, want %q", header, got, want)
		}
	}
}
