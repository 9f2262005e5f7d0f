package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/metrics"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/infrastructure/cache"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/infrastructure/resilience"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/infrastructure/translator"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/usecase"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/shared/common"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, limits map[entity.Platform]resilience.Limits) *Server {
	logger := logging.NewFromZap(zaptest.NewLogger(t), "rule-translation-test")
	collector := metrics.NewCollector("test")

	backend, err := cache.NewMemoryCache(100)
	require.NoError(t, err)

	svc := usecase.NewTranslationService(
		translator.NewAll(translator.DefaultConfig(), logger),
		cache.NewTranslationCache(backend, time.Hour, logger, collector),
		resilience.NewPolicy(limits, logger, collector),
		logger,
		collector,
	)
	return NewServer(svc,
		common.ServiceConfig{Name: "rule-translator", Version: "test"},
		common.ServerConfig{Host: "127.0.0.1", Port: 0},
		common.MetricsConfig{Enabled: true, Path: "/metrics"},
		collector,
		logger,
	)
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

const canonicalJSON = `{
	"query": {"process.name": {"operator": "equals", "value": "powershell.exe"}},
	"data_model": {"source": "process", "category": "process_creation"},
	"mitre_mappings": {"T1059": ["T1059.001"]},
	"metadata": {"title": "Encoded PowerShell", "severity": "high"}
}`

var canonical = json.RawMessage(canonicalJSON)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServer_Translate(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/translations", map[string]interface{}{
		"source_platform": "sigma",
		"target_platform": "sentinel",
		"canonical":       canonical,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result entity.TranslationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, strings.HasPrefix(result.Query, "SecurityEvent"))
	assert.Contains(t, result.Query, "where ProcessName == 'powershell.exe'")
	assert.Equal(t, entity.PlatformSentinel, result.Platform)
	assert.Equal(t, "ProcessName", result.FieldMappingsUsed["process.name"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestServer_TranslateErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   common.ErrorCode
	}{
		{
			name:   "malformed body",
			body:   map[string]interface{}{"source_platform": "sigma"},
			status: http.StatusBadRequest,
			code:   common.ErrCodeInvalidFormat,
		},
		{
			name: "unsupported platform",
			body: map[string]interface{}{
				"source_platform": "sigma",
				"target_platform": "qradar",
				"canonical":       canonical,
			},
			status: http.StatusBadRequest,
			code:   common.ErrCodeUnsupportedPlatform,
		},
		{
			name: "invalid canonical",
			body: map[string]interface{}{
				"source_platform": "sigma",
				"target_platform": "sentinel",
				"canonical":       json.RawMessage(`{"query": {"process.name": {"operator": "equals", "value": "x"}}, "data_model": {"source": "process"}, "mitre_mappings": {"T59": []}}`),
			},
			status: http.StatusBadRequest,
			code:   common.ErrCodeValidationFailed,
		},
		{
			name: "translation failure",
			body: map[string]interface{}{
				"source_platform": "sigma",
				"target_platform": "splunk",
				"canonical":       canonical,
			},
			status: http.StatusUnprocessableEntity,
			code:   common.ErrCodeTranslationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/v1/translations", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decodeError(t, rec)
			assert.Equal(t, string(tt.code), resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestServer_RateLimited(t *testing.T) {
	s := newTestServer(t, map[entity.Platform]resilience.Limits{
		entity.PlatformChronicle: {RateLimitPerMinute: 1},
	})
	body := map[string]interface{}{
		"source_platform": "sigma",
		"target_platform": "chronicle",
		"canonical":       canonical,
		"use_cache":       false,
	}

	rec := do(t, s, http.MethodPost, "/api/v1/translations", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/v1/translations", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, string(common.ErrCodeRateLimited), decodeError(t, rec).Code)
}

func TestServer_TranslateNative(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/translations/native", map[string]interface{}{
		"source_platform": "sentinel",
		"target_platform": "chronicle",
		"query":           "SecurityEvent\n| where ProcessName == 'cmd.exe'\n| project ProcessName",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result entity.TranslationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, strings.HasPrefix(result.Query, "rule "))
	assert.Contains(t, result.Query, `"cmd.exe"`)
}

func TestServer_TranslateAll(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/translations/all", map[string]interface{}{
		"source_platform": "sigma",
		"canonical":       canonical,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp TranslateAllResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Results, entity.PlatformSentinel)
	assert.Contains(t, resp.Results, entity.PlatformChronicle)
	require.Contains(t, resp.Errors, entity.PlatformSplunk)
	assert.Equal(t, string(common.ErrCodeTranslationFailed), resp.Errors[entity.PlatformSplunk].Code)
}

func TestServer_Validate(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/validations", map[string]interface{}{
		"platform": "sentinel",
		"query":    "where x == 1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result entity.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Error)
}

func TestServer_ReadEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/api/v1/platforms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var platforms struct {
		Platforms []entity.Platform `json:"platforms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &platforms))
	assert.Len(t, platforms.Platforms, 4)

	rec = do(t, s, http.MethodGet, "/api/v1/resilience", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var states struct {
		Platforms []entity.ResilienceState `json:"platforms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	require.Len(t, states.Platforms, 4)
	assert.Equal(t, entity.CircuitClosed, states.Platforms[0].CircuitState)

	rec = do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_http_requests_total")
}

func TestServer_PropagatesRequestID(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestServer_UnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	req.Header.Set(requestIDHeader, "req-404")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, string(common.ErrCodeNotFound), resp.Code)
	assert.Equal(t, "req-404", resp.RequestID)
}
