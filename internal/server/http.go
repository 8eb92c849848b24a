// Package server exposes the flag engine over HTTP. Routing uses the
// standard library mux with method patterns; request bodies are decoded
// strictly (unknown fields rejected, size capped).
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jasonsaas/finhelm-flags/internal/core"
	"github.com/jasonsaas/finhelm-flags/internal/metrics"
	"github.com/jasonsaas/finhelm-flags/internal/middleware"
	"github.com/jasonsaas/finhelm-flags/internal/service"
)

const defaultMaxJSONBodyBytes = 1 << 20

var errJSONBodyTooLarge = errors.New("json request body too large")

// Config carries the collaborators the HTTP layer serves.
type Config struct {
	Engine *service.Engine

	// Metrics is optional; when nil the /metrics route returns 404 and
	// request instrumentation is skipped.
	Metrics *metrics.Metrics

	// AdminKeyHash guards mutating routes when non-empty. See
	// [middleware.BearerAuth].
	AdminKeyHash string

	// MaxBodyBytes caps JSON request bodies. Zero means the default 1 MiB.
	MaxBodyBytes int64
}

type HTTPServer struct {
	engine       *service.Engine
	metrics      *metrics.Metrics
	maxBodyBytes int64
}

type evaluateJSONRequest struct {
	Flag    string            `json:"flag,omitempty"`
	Flags   []string          `json:"flags,omitempty"`
	Context *core.UserContext `json:"context,omitempty"`
}

type evaluateJSONResult struct {
	Flag    string         `json:"flag"`
	Enabled bool           `json:"enabled"`
	Variant string         `json:"variant,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
	Reason  string         `json:"reason"`
}

type evaluateJSONResponse struct {
	Results []evaluateJSONResult `json:"results"`
}

// NewHTTPHandler builds the full route table for the flag engine API.
func NewHTTPHandler(cfg Config) http.Handler {
	if cfg.Engine == nil {
		panic("engine is nil")
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxJSONBodyBytes
	}

	server := &HTTPServer{
		engine:       cfg.Engine,
		metrics:      cfg.Metrics,
		maxBodyBytes: maxBody,
	}

	authOpts := []middleware.AuthOption{}
	if cfg.Metrics != nil {
		authOpts = append(authOpts, middleware.WithOnAuthFailure(cfg.Metrics.AuthFailuresTotal.Inc))
	}
	admin := middleware.BearerAuth(cfg.AdminKeyHash, authOpts...)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/evaluate", server.instrument("/v1/evaluate", http.HandlerFunc(server.handleEvaluate)))
	mux.Handle("POST /v1/flags", server.instrument("/v1/flags", admin(http.HandlerFunc(server.handleCreateFlag))))
	mux.Handle("GET /v1/flags", server.instrument("/v1/flags", http.HandlerFunc(server.handleListFlags)))
	mux.Handle("GET /v1/flags/{key}", server.instrument("/v1/flags/{key}", http.HandlerFunc(server.handleGetFlag)))
	mux.Handle("PUT /v1/flags/{key}", server.instrument("/v1/flags/{key}", admin(http.HandlerFunc(server.handleUpdateFlag))))
	mux.Handle("DELETE /v1/flags/{key}", server.instrument("/v1/flags/{key}", admin(http.HandlerFunc(server.handleDeleteFlag))))
	mux.Handle("GET /v1/analytics", server.instrument("/v1/analytics", http.HandlerFunc(server.handleAnalytics)))
	mux.Handle("GET /v1/analytics/stats", server.instrument("/v1/analytics/stats", http.HandlerFunc(server.handleAnalyticsStats)))
	mux.Handle("GET /v1/export", server.instrument("/v1/export", http.HandlerFunc(server.handleExport)))
	mux.Handle("POST /v1/import", server.instrument("/v1/import", admin(http.HandlerFunc(server.handleImport))))
	mux.HandleFunc("GET /healthz", server.handleHealthz)
	mux.HandleFunc("GET /metrics", server.handleMetrics)

	return mux
}

// instrument records request count and latency per route pattern so metric
// cardinality stays bounded even with arbitrary path values.
func (s *HTTPServer) instrument(route string, next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		status := strconv.Itoa(recorder.status)
		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func (s *HTTPServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var request evaluateJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	keys := make([]string, 0, 1)
	switch {
	case len(request.Flags) > 0 && strings.TrimSpace(request.Flag) != "":
		writeJSONError(w, http.StatusBadRequest, "use either flag or flags")
		return
	case len(request.Flags) > 0:
		for idx, key := range request.Flags {
			if strings.TrimSpace(key) == "" {
				writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("flags[%d] is required", idx))
				return
			}
			keys = append(keys, key)
		}
	case strings.TrimSpace(request.Flag) != "":
		keys = append(keys, request.Flag)
	default:
		writeJSONError(w, http.StatusBadRequest, "flag or flags is required")
		return
	}

	results := make([]evaluateJSONResult, 0, len(keys))
	for _, key := range keys {
		result := s.engine.IsEnabledFor(key, request.Context)
		results = append(results, evaluateJSONResult{
			Flag:    key,
			Enabled: result.Enabled,
			Variant: result.Variant,
			Config:  result.Config,
			Reason:  result.Reason,
		})
	}

	writeJSON(w, http.StatusOK, evaluateJSONResponse{Results: results})
}

func (s *HTTPServer) handleCreateFlag(w http.ResponseWriter, r *http.Request) {
	var flag core.FeatureFlag
	if err := s.decodeJSONBody(w, r, &flag); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(flag.Key) == "" {
		writeJSONError(w, http.StatusBadRequest, "key is required")
		return
	}

	if err := s.engine.AddFlag(flag); err != nil {
		writeEngineError(w, err)
		return
	}

	stored, _ := s.engine.GetFlag(flag.Key)
	writeJSON(w, http.StatusCreated, stored)
}

func (s *HTTPServer) handleListFlags(w http.ResponseWriter, r *http.Request) {
	var flags []core.FeatureFlag
	if tag := strings.TrimSpace(r.URL.Query().Get("tag")); tag != "" {
		flags = s.engine.ListFlagsByTag(tag)
	} else {
		flags = s.engine.ListFlags()
	}

	writeJSON(w, http.StatusOK, map[string]any{"flags": flags})
}

func (s *HTTPServer) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.PathValue("key"))
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "key is required")
		return
	}

	flag, ok := s.engine.GetFlag(key)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "flag not found")
		return
	}

	writeJSON(w, http.StatusOK, flag)
}

func (s *HTTPServer) handleUpdateFlag(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.PathValue("key"))
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "key is required")
		return
	}

	var flag core.FeatureFlag
	if err := s.decodeJSONBody(w, r, &flag); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(flag.Key) != "" && flag.Key != key {
		writeJSONError(w, http.StatusBadRequest, "path key and body key must match")
		return
	}
	flag.Key = key

	if err := s.engine.AddFlag(flag); err != nil {
		writeEngineError(w, err)
		return
	}

	stored, _ := s.engine.GetFlag(key)
	writeJSON(w, http.StatusOK, stored)
}

func (s *HTTPServer) handleDeleteFlag(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.PathValue("key"))
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "key is required")
		return
	}

	s.engine.RemoveFlag(key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	events := s.engine.Analytics(strings.TrimSpace(query.Get("flag")), limit)
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *HTTPServer) handleAnalyticsStats(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.UsageStats(strings.TrimSpace(r.URL.Query().Get("flag")))
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, _ *http.Request) {
	data, err := s.engine.ExportFlags()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "export failed")
		return
	}

	if s.metrics != nil {
		s.metrics.ExportsTotal.Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		writeJSONDecodeError(w, normalizeJSONDecodeError(err))
		return
	}

	err = s.engine.ImportFlags(data)
	if s.metrics != nil {
		s.metrics.RecordImport(err)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.NotFound(w, r)
		return
	}

	retained, dropped := s.engine.AnalyticsDepth()
	s.metrics.AnalyticsRetained.Set(float64(retained))
	s.metrics.SetAnalyticsDropped(dropped)

	s.metrics.Handler().ServeHTTP(w, r)
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidFlag), errors.Is(err, service.ErrInvalidImport):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
