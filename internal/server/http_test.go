package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jasonsaas/finhelm-flags/internal/core"
	"github.com/jasonsaas/finhelm-flags/internal/metrics"
	"github.com/jasonsaas/finhelm-flags/internal/middleware"
	"github.com/jasonsaas/finhelm-flags/internal/registry"
	"github.com/jasonsaas/finhelm-flags/internal/service"
)

func testFlag(key string, percentage int) core.FeatureFlag {
	return core.FeatureFlag{
		Key:         key,
		Name:        strings.ReplaceAll(key, "_", " "),
		Description: "test flag " + key,
		Rollout:     core.Rollout{Percentage: percentage},
	}
}

func newTestServer(t *testing.T, cfg Config, flags ...core.FeatureFlag) (http.Handler, *service.Engine) {
	t.Helper()

	engine := service.New(registry.New(), "production",
		service.WithLogger(slog.New(slog.DiscardHandler)))
	for _, flag := range flags {
		if err := engine.AddFlag(flag); err != nil {
			t.Fatalf("AddFlag(%q) = %v", flag.Key, err)
		}
	}

	cfg.Engine = engine
	return NewHTTPHandler(cfg), engine
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch payload := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(payload)
	case string:
		reader = bytes.NewReader([]byte(payload))
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestEvaluateSingleFlag(t *testing.T) {
	handler, _ := newTestServer(t, Config{}, testFlag("reports", 100))

	rec := doJSON(t, handler, "POST", "/v1/evaluate", map[string]any{
		"flag":    "reports",
		"context": map[string]any{"id": "user-1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	resp := decodeResponse[evaluateJSONResponse](t, rec)
	if len(resp.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(resp.Results))
	}
	if !resp.Results[0].Enabled {
		t.Fatalf("enabled = false, want true (reason %q)", resp.Results[0].Reason)
	}
}

func TestEvaluateUnknownFlagIsNotAnError(t *testing.T) {
	handler, _ := newTestServer(t, Config{})

	rec := doJSON(t, handler, "POST", "/v1/evaluate", map[string]any{"flag": "ghost"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	resp := decodeResponse[evaluateJSONResponse](t, rec)
	if resp.Results[0].Enabled {
		t.Fatal("enabled = true for unknown flag")
	}
	if resp.Results[0].Reason != core.ReasonFlagNotFound {
		t.Fatalf("reason = %q, want %q", resp.Results[0].Reason, core.ReasonFlagNotFound)
	}
}

func TestEvaluateBatch(t *testing.T) {
	handler, _ := newTestServer(t, Config{},
		testFlag("reports", 100),
		testFlag("exports", 0),
	)

	rec := doJSON(t, handler, "POST", "/v1/evaluate", map[string]any{
		"flags":   []string{"reports", "exports"},
		"context": map[string]any{"id": "user-1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	resp := decodeResponse[evaluateJSONResponse](t, rec)
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	if resp.Results[0].Flag != "reports" || !resp.Results[0].Enabled {
		t.Fatalf("reports result = %+v", resp.Results[0])
	}
	if resp.Results[1].Flag != "exports" || resp.Results[1].Enabled {
		t.Fatalf("exports result = %+v", resp.Results[1])
	}
}

func TestEvaluateRequestValidation(t *testing.T) {
	handler, _ := newTestServer(t, Config{}, testFlag("reports", 100))

	tests := []struct {
		name string
		body any
	}{
		{"empty object", map[string]any{}},
		{"flag and flags together", map[string]any{"flag": "reports", "flags": []string{"reports"}}},
		{"blank batch entry", map[string]any{"flags": []string{"reports", " "}}},
		{"unknown field", `{"flagKey": "reports"}`},
		{"not json", "{"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := doJSON(t, handler, "POST", "/v1/evaluate", test.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateFlag(t *testing.T) {
	handler, engine := newTestServer(t, Config{})

	rec := doJSON(t, handler, "POST", "/v1/flags", testFlag("reports", 50))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}

	created := decodeResponse[core.FeatureFlag](t, rec)
	if created.Metadata.CreatedAt.IsZero() || created.Metadata.UpdatedAt.IsZero() {
		t.Fatal("timestamps not stamped on create")
	}

	if _, ok := engine.GetFlag("reports"); !ok {
		t.Fatal("flag not stored")
	}
}

func TestCreateFlagRejectsInvalid(t *testing.T) {
	handler, _ := newTestServer(t, Config{})

	flag := testFlag("reports", 101)
	rec := doJSON(t, handler, "POST", "/v1/flags", flag)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
	}

	body := decodeResponse[map[string]string](t, rec)
	if !strings.Contains(body["error"], "percentage") {
		t.Fatalf("error = %q, want mention of percentage", body["error"])
	}
}

func TestGetFlag(t *testing.T) {
	handler, _ := newTestServer(t, Config{}, testFlag("reports", 25))

	rec := doJSON(t, handler, "GET", "/v1/flags/reports", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	flag := decodeResponse[core.FeatureFlag](t, rec)
	if flag.Rollout.Percentage != 25 {
		t.Fatalf("percentage = %d, want 25", flag.Rollout.Percentage)
	}

	rec = doJSON(t, handler, "GET", "/v1/flags/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for missing flag", rec.Code)
	}
}

func TestUpdateFlag(t *testing.T) {
	handler, _ := newTestServer(t, Config{}, testFlag("reports", 25))

	updated := testFlag("reports", 75)
	rec := doJSON(t, handler, "PUT", "/v1/flags/reports", updated)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	flag := decodeResponse[core.FeatureFlag](t, rec)
	if flag.Rollout.Percentage != 75 {
		t.Fatalf("percentage = %d, want 75", flag.Rollout.Percentage)
	}
}

func TestUpdateFlagKeyMismatch(t *testing.T) {
	handler, _ := newTestServer(t, Config{}, testFlag("reports", 25))

	rec := doJSON(t, handler, "PUT", "/v1/flags/reports", testFlag("exports", 75))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteFlag(t *testing.T) {
	handler, engine := newTestServer(t, Config{}, testFlag("reports", 25))

	rec := doJSON(t, handler, "DELETE", "/v1/flags/reports", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, ok := engine.GetFlag("reports"); ok {
		t.Fatal("flag still stored after delete")
	}

	// Deleting an absent key is a no-op, not an error.
	rec = doJSON(t, handler, "DELETE", "/v1/flags/reports", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("repeat delete status = %d, want 204", rec.Code)
	}
}

func TestListFlagsByTag(t *testing.T) {
	tagged := testFlag("reports", 50)
	tagged.Metadata.Tags = []string{"beta"}

	handler, _ := newTestServer(t, Config{}, tagged, testFlag("exports", 50))

	rec := doJSON(t, handler, "GET", "/v1/flags?tag=beta", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeResponse[struct {
		Flags []core.FeatureFlag `json:"flags"`
	}](t, rec)
	if len(resp.Flags) != 1 || resp.Flags[0].Key != "reports" {
		t.Fatalf("flags = %+v, want only reports", resp.Flags)
	}

	rec = doJSON(t, handler, "GET", "/v1/flags", nil)
	resp = decodeResponse[struct {
		Flags []core.FeatureFlag `json:"flags"`
	}](t, rec)
	if len(resp.Flags) != 2 {
		t.Fatalf("unfiltered flags = %d, want 2", len(resp.Flags))
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	handler, _ := newTestServer(t, Config{}, testFlag("reports", 100))

	for i := range 3 {
		rec := doJSON(t, handler, "POST", "/v1/evaluate", map[string]any{
			"flag":    "reports",
			"context": map[string]any{"id": fmt.Sprintf("user-%d", i)},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("evaluate status = %d", rec.Code)
		}
	}

	rec := doJSON(t, handler, "GET", "/v1/analytics?flag=reports&limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analytics status = %d", rec.Code)
	}
	events := decodeResponse[struct {
		Events []map[string]any `json:"events"`
	}](t, rec)
	if len(events.Events) != 2 {
		t.Fatalf("events = %d, want 2 (limit)", len(events.Events))
	}

	rec = doJSON(t, handler, "GET", "/v1/analytics/stats?flag=reports", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	stats := decodeResponse[map[string]any](t, rec)
	if stats["totalEvents"] != float64(3) {
		t.Fatalf("totalEvents = %v, want 3", stats["totalEvents"])
	}

	rec = doJSON(t, handler, "GET", "/v1/analytics?limit=nope", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid limit status = %d, want 400", rec.Code)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	handler, _ := newTestServer(t, Config{}, testFlag("reports", 50), testFlag("exports", 10))

	rec := doJSON(t, handler, "GET", "/v1/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	document := rec.Body.Bytes()

	fresh, engine := newTestServer(t, Config{})
	rec = doJSON(t, fresh, "POST", "/v1/import", document)
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d (%s)", rec.Code, rec.Body.String())
	}
	if len(engine.ListFlags()) != 2 {
		t.Fatalf("imported flags = %d, want 2", len(engine.ListFlags()))
	}
}

func TestImportRejectsMalformedDocument(t *testing.T) {
	handler, engine := newTestServer(t, Config{})

	rec := doJSON(t, handler, "POST", "/v1/import", `{"flags": [{"key": ""}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
	}
	if len(engine.ListFlags()) != 0 {
		t.Fatal("failed import mutated registry")
	}
}

func TestBearerAuthOnMutatingRoutes(t *testing.T) {
	hash, err := middleware.HashAPIKey("admin-token")
	if err != nil {
		t.Fatalf("HashAPIKey() = %v", err)
	}

	handler, _ := newTestServer(t, Config{AdminKeyHash: hash}, testFlag("reports", 100))

	// Reads stay open.
	rec := doJSON(t, handler, "GET", "/v1/flags", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unauthenticated read status = %d, want 200", rec.Code)
	}
	rec = doJSON(t, handler, "POST", "/v1/evaluate", map[string]any{"flag": "reports"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unauthenticated evaluate status = %d, want 200", rec.Code)
	}

	// Writes require the key.
	rec = doJSON(t, handler, "POST", "/v1/flags", testFlag("exports", 10))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated write status = %d, want 401", rec.Code)
	}

	body, _ := json.Marshal(testFlag("exports", 10))
	req := httptest.NewRequest("POST", "/v1/flags", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin-token")
	authed := httptest.NewRecorder()
	handler.ServeHTTP(authed, req)
	if authed.Code != http.StatusCreated {
		t.Fatalf("authenticated write status = %d, want 201 (%s)", authed.Code, authed.Body.String())
	}
}

func TestRequestBodyTooLarge(t *testing.T) {
	handler, _ := newTestServer(t, Config{MaxBodyBytes: 64})

	flag := testFlag("reports", 50)
	flag.Description = strings.Repeat("x", 256)
	rec := doJSON(t, handler, "POST", "/v1/flags", flag)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	handler, _ := newTestServer(t, Config{})

	rec := doJSON(t, handler, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeResponse[map[string]string](t, rec)
	if body["status"] != "ok" {
		t.Fatalf("status body = %q, want ok", body["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler, _ := newTestServer(t, Config{Metrics: metrics.New()}, testFlag("reports", 100))

	rec := doJSON(t, handler, "POST", "/v1/evaluate", map[string]any{"flag": "reports"})
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate status = %d", rec.Code)
	}

	rec = doJSON(t, handler, "GET", "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "flagengine_http_requests_total") {
		t.Fatal("metrics output missing request counter")
	}
}

func TestMetricsEndpointDisabledWithoutRegistry(t *testing.T) {
	handler, _ := newTestServer(t, Config{})

	rec := doJSON(t, handler, "GET", "/metrics", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when metrics are not configured", rec.Code)
	}
}
