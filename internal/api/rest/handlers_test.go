package rest

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/errors"
	"github.com/davidleathers/unit-kpi-backend/internal/domain/kpi"
	"github.com/davidleathers/unit-kpi-backend/internal/infrastructure/cache"
	"github.com/davidleathers/unit-kpi-backend/internal/infrastructure/config"
	"github.com/davidleathers/unit-kpi-backend/internal/service/reporting"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) GetUnifiedKpis(ctx context.Context, domain, start, end string, scope kpi.UnitScope) (*reporting.UnifiedResult, error) {
	args := m.Called(ctx, domain, start, end, scope)
	res, _ := args.Get(0).(*reporting.UnifiedResult)
	return res, args.Error(1)
}

func (m *mockService) GetNamedKpis(ctx context.Context, domain, period string, scope kpi.UnitScope) (*reporting.UnifiedResult, error) {
	args := m.Called(ctx, domain, period, scope)
	res, _ := args.Get(0).(*reporting.UnifiedResult)
	return res, args.Error(1)
}

func (m *mockService) InvalidateDomain(domain kpi.Domain, periods ...kpi.PeriodDescriptor) int {
	args := m.Called(domain, periods)
	return args.Int(0)
}

func (m *mockService) CacheStats() cache.Stats {
	return m.Called().Get(0).(cache.Stats)
}

func (m *mockService) CacheMetrics(domain kpi.Domain) cache.MetricsSnapshot {
	return m.Called(domain).Get(0).(cache.MetricsSnapshot)
}

type testAPI struct {
	svc      *mockService
	registry *prometheus.Registry
	router   http.Handler
	metrics  *HTTPMetrics
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	svc := &mockService{}
	logger := zaptest.NewLogger(t)
	h, err := NewHandler(svc, logger)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := NewHTTPMetrics(reg)

	return &testAPI{
		svc:      svc,
		registry: reg,
		metrics:  metrics,
		router:   NewRouter(h, metrics, reg, logger),
	}
}

func (a *testAPI) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	_, err := NewHandler(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewHandler(&mockService{}, nil)
	assert.Error(t, err)
}

func TestGetKpis_Success(t *testing.T) {
	api := newTestAPI(t)
	result := &reporting.UnifiedResult{
		Data:      &kpi.Report{Domain: kpi.DomainCompany, Current: kpi.Figures{"revenue": 4000}},
		FromCache: true,
		CacheKey:  "kpi:company:custom:2025-01-01:2025-01-07:all",
	}
	api.svc.On("GetUnifiedKpis", mock.Anything, "company", "2025-01-01", "2025-01-07", kpi.UnitScope("norte")).
		Return(result, nil)

	rec := api.do(http.MethodGet, "/v1/kpis/company?start=2025-01-01&end=2025-01-07&unit=norte")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["fromCache"])
	assert.Equal(t, result.CacheKey, body["cacheKey"])
	assert.NotContains(t, body, "calculationTimeMs")

	api.svc.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(api.metrics.requests.WithLabelValues("GET", "get_kpis", "2xx")))
}

func TestGetKpis_InvalidQuery(t *testing.T) {
	tests := []struct {
		name   string
		target string
		field  string
	}{
		{"missing start", "/v1/kpis/company?end=2025-01-07", "start"},
		{"bad end", "/v1/kpis/company?start=2025-01-01&end=07/01/2025", "end"},
		{"unit too long", "/v1/kpis/company?start=2025-01-01&end=2025-01-07&unit=" + strings.Repeat("x", 65), "unit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t)

			rec := api.do(http.MethodGet, tt.target)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, errors.CodeInvalidRequest, body.Error.Code)
			assert.Contains(t, body.Error.Details, tt.field)
			api.svc.AssertNotCalled(t, "GetUnifiedKpis", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestGetKpis_ServiceErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"unknown domain", errors.NewValidationError(errors.CodeInvalidDomain, "unknown KPI domain"), 400, errors.CodeInvalidDomain, false},
		{"no units", errors.NewConfigurationError(errors.CodeNoUnitsConnected, "no units"), 503, errors.CodeNoUnitsConnected, false},
		{"no data", errors.NewUnavailableError(errors.CodeNoUnitData, "all units failed"), 503, errors.CodeNoUnitData, true},
		{"plain error", assert.AnError, 500, "INTERNAL_ERROR", false},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "REQUEST_TIMEOUT", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t)
			api.svc.On("GetUnifiedKpis", mock.Anything, "company", "2025-01-01", "2025-01-07", kpi.AllUnits).
				Return(nil, tt.err)

			rec := api.do(http.MethodGet, "/v1/kpis/company?start=2025-01-01&end=2025-01-07")

			require.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.retryable, body.Error.Retryable)
			assert.NotEmpty(t, body.Meta.RequestID)
		})
	}
}

func TestGetNamedKpis(t *testing.T) {
	api := newTestAPI(t)
	api.svc.On("GetNamedKpis", mock.Anything, "restaurant", "last_7_days", kpi.AllUnits).
		Return(&reporting.UnifiedResult{CacheKey: "kpi:restaurant:last_7_days:all"}, nil)

	rec := api.do(http.MethodGet, "/v1/kpis/restaurant/named/last_7_days")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kpi:restaurant:last_7_days:all")
	api.svc.AssertExpectations(t)
}

func TestCacheEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.svc.On("CacheStats").Return(cache.Stats{TotalItems: 3, PerDomain: map[kpi.Domain]int{kpi.DomainCompany: 3}})
	api.svc.On("CacheMetrics", kpi.DomainCompany).Return(cache.MetricsSnapshot{Domain: kpi.DomainCompany, Hits: 1, Misses: 1, HitRatio: 50})

	rec := api.do(http.MethodGet, "/v1/cache/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalItems":3`)

	rec = api.do(http.MethodGet, "/v1/cache/metrics/company")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hitRatio":50`)

	rec = api.do(http.MethodGet, "/v1/cache/metrics/spa")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.CodeInvalidDomain, decodeError(t, rec).Error.Code)
}

func TestInvalidate(t *testing.T) {
	r, err := kpi.ParseDateRange("2025-01-01", "2025-01-07")
	require.NoError(t, err)

	api := newTestAPI(t)
	api.svc.On("InvalidateDomain", kpi.DomainCompany, []kpi.PeriodDescriptor(nil)).Return(4).Once()
	api.svc.On("InvalidateDomain", kpi.DomainCompany, []kpi.PeriodDescriptor{kpi.CustomPeriod(r)}).Return(1).Once()

	rec := api.do(http.MethodDelete, "/v1/cache/company")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"removed":4`)

	rec = api.do(http.MethodDelete, "/v1/cache/company?period=custom:2025-01-01:2025-01-07")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"removed":1`)

	rec = api.do(http.MethodDelete, "/v1/cache/company?period=fortnight")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.CodeInvalidPeriod, decodeError(t, rec).Error.Code)

	api.svc.AssertExpectations(t)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)
	api.svc.On("CacheStats").Return(cache.Stats{TotalItems: 2})

	rec := api.do(http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","cacheEntries":2}`, rec.Body.String())

	api.do(http.MethodGet, "/v1/cache/stats")
	rec = api.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kpi_api_http_requests_total")
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := zaptest.NewLogger(t)
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), requestIDMiddleware, recoveryMiddleware(logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Error.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	api := newTestAPI(t)
	api.svc.On("CacheStats").Return(cache.Stats{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}

func TestServer_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv, err := NewServer(config.ServerConfig{ShutdownTimeout: time.Second}, http.NotFoundHandler(), zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/anything")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
