// Package contract provides contract tests that validate API responses against the OpenAPI document.
package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/oklog/ulid/v2"
)

// testConfig holds test configuration.
type testConfig struct {
	BaseURL  string
	OwnerID  string
	SpecPath string
}

// getConfig returns test configuration from environment.
func getConfig(t *testing.T) *testConfig {
	t.Helper()

	baseURL := os.Getenv("API_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	owner := os.Getenv("TEST_OWNER_ID")
	if owner == "" {
		owner = "contract-" + strings.ToLower(ulid.Make().String())
	}

	specPath := os.Getenv("OPENAPI_SPEC_PATH")
	if specPath == "" {
		wd, _ := os.Getwd()
		specPath = filepath.Join(wd, "..", "..", "docs", "api", "openapi.yaml")
	}

	return &testConfig{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		OwnerID:  owner,
		SpecPath: specPath,
	}
}

// loadSpec loads and validates the OpenAPI document.
func loadSpec(t *testing.T, path string) (*openapi3.T, routers.Router) {
	t.Helper()

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load OpenAPI document from %s: %v", path, err)
	}

	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("OpenAPI document validation failed: %v", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		t.Fatalf("Failed to create router from document: %v", err)
	}

	return doc, router
}

// exchange sends a request and returns the response with its body read.
// The test is skipped when the server is not running.
func exchange(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Skipf("Server not available: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return resp, body
}

func newRequest(t *testing.T, cfg *testConfig, method, path string, body any, owned bool) *http.Request {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, cfg.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if owned {
		req.Header.Set("X-Owner-ID", cfg.OwnerID)
	}
	return req
}

// validateAgainstSpec checks a response against the documented operation.
func validateAgainstSpec(t *testing.T, router routers.Router, req *http.Request, resp *http.Response, body []byte) {
	t.Helper()

	route, pathParams, err := router.FindRoute(req)
	if err != nil {
		t.Fatalf("Could not find %s %s in document: %v", req.Method, req.URL.Path, err)
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   io.NopCloser(bytes.NewReader(body)),
	}
	if err := openapi3filter.ValidateResponse(context.Background(), input); err != nil {
		t.Errorf("Response validation failed for %s %s: %v", req.Method, req.URL.Path, err)
	}
}

// TestOpenAPISpecValid ensures the OpenAPI document is valid.
func TestOpenAPISpecValid(t *testing.T) {
	cfg := getConfig(t)
	_, _ = loadSpec(t, cfg.SpecPath)
	t.Log("OpenAPI document is valid")
}

// TestEndpointsExist validates that documented endpoints respond.
func TestEndpointsExist(t *testing.T) {
	cfg := getConfig(t)
	doc, _ := loadSpec(t, cfg.SpecPath)

	expectedPaths := []string{
		"/healthz",
		"/readyz",
		"/s/{id}",
		"/api/v1/events",
		"/api/v1/qr",
		"/api/v1/qr/{id}",
		"/api/v1/profiles/{id}/qr",
		"/api/v1/analytics/qr/{id}/funnel",
		"/api/v1/analytics/summary",
	}
	for _, path := range expectedPaths {
		if doc.Paths.Find(path) == nil {
			t.Errorf("Expected path %s not found in document", path)
		}
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(fmt.Sprintf("GET_%s", path), func(t *testing.T) {
			resp, _ := exchange(t, newRequest(t, cfg, http.MethodGet, path, nil, false))
			if resp.StatusCode == http.StatusNotFound {
				t.Errorf("Endpoint GET %s returned 404 - not implemented", path)
			}
		})
	}
}

// TestErrorResponseSchema validates error responses match the schema.
func TestErrorResponseSchema(t *testing.T) {
	cfg := getConfig(t)
	_, router := loadSpec(t, cfg.SpecPath)

	errorCases := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
		owned          bool
	}{
		{"OwnerRequired", http.MethodGet, "/api/v1/qr", http.StatusUnauthorized, false},
		{"QRNotFound", http.MethodGet, "/api/v1/qr/nonexistent-id-12345", http.StatusNotFound, true},
		{"ScanNotFound", http.MethodGet, "/s/nonexistent-id-12345", http.StatusNotFound, false},
		{"InvalidType", http.MethodGet, "/api/v1/qr?type=fax", http.StatusBadRequest, true},
	}

	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			req := newRequest(t, cfg, tc.method, tc.path, nil, tc.owned)
			resp, body := exchange(t, req)

			if resp.StatusCode != tc.expectedStatus {
				t.Errorf("Expected status %d, got %d: %s", tc.expectedStatus, resp.StatusCode, body)
			}
			validateErrorResponse(t, resp, body)
			validateAgainstSpec(t, router, req, resp, body)
		})
	}
}

// validateErrorResponse checks that error responses have required fields.
func validateErrorResponse(t *testing.T, resp *http.Response, body []byte) {
	t.Helper()

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		t.Errorf("Error response Content-Type should be application/json, got: %s", contentType)
		return
	}

	var errorResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &errorResp); err != nil {
		t.Errorf("Failed to parse error response as JSON: %v\nBody: %s", err, string(body))
		return
	}

	if errorResp.Error == "" {
		t.Errorf("Error response missing 'error' field. Body: %s", string(body))
	}
	if errorResp.Code == "" {
		t.Errorf("Error response missing 'code' field. Body: %s", string(body))
	}
}

// TestResponseContentType validates Content-Type headers.
func TestResponseContentType(t *testing.T) {
	cfg := getConfig(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			resp, _ := exchange(t, newRequest(t, cfg, http.MethodGet, path, nil, false))

			contentType := resp.Header.Get("Content-Type")
			if !strings.Contains(contentType, "application/json") {
				t.Errorf("Expected application/json Content-Type for %s, got: %s", path, contentType)
			}
		})
	}
}

// TestQRLifecycle walks a code through create, read, scan and analytics and
// checks every response against the document.
func TestQRLifecycle(t *testing.T) {
	cfg := getConfig(t)
	doc, router := loadSpec(t, cfg.SpecPath)

	createReq := newRequest(t, cfg, http.MethodPost, "/api/v1/qr", map[string]any{
		"type":    "wifi",
		"title":   "Contract WiFi",
		"content": map[string]any{"ssid": "Home", "password": "secret", "security": "WPA"},
	}, true)
	resp, body := exchange(t, createReq)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", resp.StatusCode, body)
	}
	validateAgainstSpec(t, router, createReq, resp, body)

	var created struct {
		ID      string `json:"id"`
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if created.Payload != "WIFI:T:WPA;S:Home;P:secret;H:false;" {
		t.Errorf("unexpected payload %q", created.Payload)
	}

	steps := []struct {
		method string
		path   string
		body   any
		owned  bool
		status int
	}{
		{http.MethodGet, "/api/v1/qr/" + created.ID, nil, true, http.StatusOK},
		{http.MethodGet, "/api/v1/qr?type=wifi&limit=5", nil, true, http.StatusOK},
		{http.MethodPost, "/s/" + created.ID, map[string]any{"fingerprint": "contract-visitor"}, false, http.StatusOK},
		{http.MethodGet, "/api/v1/qr/" + created.ID + "/download", nil, true, http.StatusOK},
		{http.MethodGet, "/api/v1/analytics/qr/" + created.ID + "/funnel", nil, true, http.StatusOK},
		{http.MethodPatch, "/api/v1/qr/" + created.ID + "/toggle", nil, true, http.StatusOK},
		{http.MethodGet, "/s/" + created.ID, nil, false, http.StatusGone},
		{http.MethodDelete, "/api/v1/qr/" + created.ID, nil, true, http.StatusNoContent},
	}
	for _, step := range steps {
		req := newRequest(t, cfg, step.method, step.path, step.body, step.owned)
		resp, body := exchange(t, req)
		if resp.StatusCode != step.status {
			t.Errorf("%s %s: expected %d, got %d: %s", step.method, step.path, step.status, resp.StatusCode, body)
			continue
		}
		validateAgainstSpec(t, router, req, resp, body)
	}

	t.Logf("Document version: %s", doc.Info.Version)
}
