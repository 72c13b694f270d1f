package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()

	var resp envelope
	require.NoError(t, json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&resp))
	return resp
}

func mountTestController(rs *RouterService) {
	ctrl := NewRESTController("TestController", "/", func(rs *RouterService, c *RESTController) {
		rs.AddGetHandler(c, nil, "ip", func(ctx *RequestContext) *ServiceResult {
			return OKResult(ctx.ClientIP(), "ok")
		})

		rs.AddPostHandler(c, nil, "echo", func(ctx *RequestContext) *ServiceResult {
			var payload map[string]any
			if result := BindJSON(ctx, &payload); result != nil {
				return result
			}
			return OKResult(payload, "ok")
		})

		rs.AddGetHandler(c, rs.NewRateLimiter("test-limited", 1, time.Minute), "limited", func(ctx *RequestContext) *ServiceResult {
			return OKResult(nil, "ok")
		})

		rs.AddGetHandler(c, nil, "away", func(ctx *RequestContext) *ServiceResult {
			return RedirectResult("https://example.com/done")
		})

		rs.AddGetHandler(c, nil, "flows/:id", func(ctx *RequestContext) *ServiceResult {
			id, errResult := ParseUUIDParam(ctx, "id")
			if errResult != nil {
				return errResult
			}
			return OKResult(id, "ok")
		})
	})

	rs.MountController(ctrl)
}

func newTestRouterService(t *testing.T) *RouterService {
	t.Helper()

	rs := CreateRouterService(log.NewDiscardLogger(), nil, &RouterConfig{
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
		RequestTimeout:    5 * time.Second,
		AllowedOrigins:    []string{"https://zumolabs.xyz"},
	})
	t.Cleanup(rs.Cleanup)
	return rs
}

func serve(rs *RouterService, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	rs.GetEngine().ServeHTTP(w, req)
	return w
}

func TestTrustedProxies_DisabledByDefault(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "")

	rs := newTestRouterService(t)
	mountTestController(rs)

	req := httptest.NewRequest(http.MethodGet, "/ip", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set("X-Forwarded-For", "1.1.1.1")

	w := serve(rs, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `"10.0.0.2"`, string(decodeEnvelope(t, w).Data))
}

func TestTrustedProxies_StarTrustsForwardedFor(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "*")

	rs := newTestRouterService(t)
	mountTestController(rs)

	req := httptest.NewRequest(http.MethodGet, "/ip", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set("X-Forwarded-For", "1.1.1.1")

	w := serve(rs, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `"1.1.1.1"`, string(decodeEnvelope(t, w).Data))
}

func TestMaxBodySize_Returns413(t *testing.T) {
	t.Setenv("MAX_REQUEST_BODY_BYTES", "10")

	rs := newTestRouterService(t)
	mountTestController(rs)

	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(bytes.Repeat([]byte{'a'}, 50)))
	req.Header.Set("Content-Type", "application/json")

	w := serve(rs, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
}

func TestBindJSON_MalformedBodyIs400(t *testing.T) {
	rs := newTestRouterService(t)
	mountTestController(rs)

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")

	w := serve(rs, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request body", decodeEnvelope(t, w).Message)
}

func TestHandlerRateLimiter_Returns429WithRetryAfter(t *testing.T) {
	rs := newTestRouterService(t)
	mountTestController(rs)

	first := serve(rs, httptest.NewRequest(http.MethodGet, "/limited", nil))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := serve(rs, httptest.NewRequest(http.MethodGet, "/limited", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))

	// Other routes keep using the default budget.
	other := serve(rs, httptest.NewRequest(http.MethodGet, "/ip", nil))
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRedirectResult_Sends302(t *testing.T) {
	rs := newTestRouterService(t)
	mountTestController(rs)

	w := serve(rs, httptest.NewRequest(http.MethodGet, "/away", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/done", w.Header().Get("Location"))
}

func TestParseUUIDParam(t *testing.T) {
	rs := newTestRouterService(t)
	mountTestController(rs)

	bad := serve(rs, httptest.NewRequest(http.MethodGet, "/flows/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	good := serve(rs, httptest.NewRequest(http.MethodGet, "/flows/0b9f5cbc-4f1e-4c59-9a4c-0d0f2f7b3a11", nil))
	assert.Equal(t, http.StatusOK, good.Code)
}

func TestUnknownRoute_ReturnsJSON404(t *testing.T) {
	rs := newTestRouterService(t)
	mountTestController(rs)

	w := serve(rs, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Route not found", decodeEnvelope(t, w).Message)
}

func TestCORS_PreflightForAllowedOrigin(t *testing.T) {
	rs := newTestRouterService(t)
	mountTestController(rs)

	req := httptest.NewRequest(http.MethodOptions, "/echo", nil)
	req.Header.Set("Origin", "https://zumolabs.xyz")

	w := serve(rs, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://zumolabs.xyz", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/ip", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = serve(rs, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorrelationID_EchoedOnResponse(t *testing.T) {
	rs := newTestRouterService(t)
	mountTestController(rs)

	req := httptest.NewRequest(http.MethodGet, "/ip", nil)
	req.Header.Set(log.CorrelationHeader, "abc-123")

	w := serve(rs, req)
	assert.Equal(t, "abc-123", w.Header().Get(log.CorrelationHeader))
}

func TestMetricsRegisterer_ExposesDomainCollectors(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "true")

	rs := newTestRouterService(t)
	mountTestController(rs)

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "router_test_total", Help: "test"})
	rs.MetricsRegisterer().MustRegister(counter)
	counter.Inc()

	w := serve(rs, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "router_test_total 1")
}
