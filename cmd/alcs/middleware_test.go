package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/o3willard-AI/alcs-sub001/api/handlers"
	"github.com/o3willard-AI/alcs-sub001/config"
	"github.com/o3willard-AI/alcs-sub001/internal/ctxkeys"
	"github.com/o3willard-AI/alcs-sub001/types"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
})

func run(t *testing.T, h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp handlers.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestSecurityHeaders(t *testing.T) {
	w := run(t, SecurityHeaders()(okHandler), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	handler := Chain(okHandler, SecurityHeaders(), RequestID())

	w := run(t, handler, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	}))

	w := run(t, handler, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Regexp(t, `^req-[0-9a-f-]{36}$`, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "client-42")
	w = run(t, handler, r)
	assert.Equal(t, "client-42", seen)
	assert.Equal(t, "client-42", w.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	w := run(t, Chain(panicky, Recovery(zap.NewNop()), RequestID()), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrInternalError), errorCode(t, w))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/health", "/health"},
		{"/v1/tasks", "/v1/tasks"},
		{"/v1/sessions", "/v1/sessions"},
		{"/v1/sessions/my-session", "/v1/sessions/:id"},
		{"/v1/sessions/abc/events", "/v1/sessions/:id/events"},
		{"/v1/sessions/abc/artifacts", "/v1/sessions/:id/artifacts"},
		{"/v1/sessions/abc/artifacts/code-3", "/v1/sessions/:id/artifacts/:artifact_id"},
		{"/v1/backends/critic", "/v1/backends/:role"},
		{"/other/12345", "/other/:id"},
		{"/other/static", "/other/static"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.in))
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth([]string{"k1"}, skipAuthPaths, true, zap.NewNop())(okHandler)

	w := run(t, handler, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, string(types.ErrUnauthorized), errorCode(t, w))

	r := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	r.Header.Set("X-API-Key", "k1")
	assert.Equal(t, http.StatusOK, run(t, handler, r).Code)

	r = httptest.NewRequest(http.MethodGet, "/v1/sessions/s/events?api_key=k1", nil)
	assert.Equal(t, http.StatusOK, run(t, handler, r).Code)

	r = httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	r.Header.Set("X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, run(t, handler, r).Code)

	assert.Equal(t, http.StatusOK, run(t, handler, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAuth(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "s3cret", JWTIssuer: "alcs", JWTAudience: "api"}
	handler := JWTAuth(cfg, skipAuthPaths, zap.NewNop())(okHandler)
	exp := time.Now().Add(time.Hour).Unix()

	bearer := func(token string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/v1/backends", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		return r
	}

	valid := signToken(t, "s3cret", jwt.MapClaims{"iss": "alcs", "aud": "api", "exp": exp})
	assert.Equal(t, http.StatusOK, run(t, handler, bearer(valid)).Code)

	wrongKey := signToken(t, "other", jwt.MapClaims{"iss": "alcs", "aud": "api", "exp": exp})
	assert.Equal(t, http.StatusUnauthorized, run(t, handler, bearer(wrongKey)).Code)

	wrongIssuer := signToken(t, "s3cret", jwt.MapClaims{"iss": "someone", "aud": "api", "exp": exp})
	assert.Equal(t, http.StatusUnauthorized, run(t, handler, bearer(wrongIssuer)).Code)

	expired := signToken(t, "s3cret", jwt.MapClaims{"iss": "alcs", "aud": "api", "exp": time.Now().Add(-time.Minute).Unix()})
	assert.Equal(t, http.StatusUnauthorized, run(t, handler, bearer(expired)).Code)

	assert.Equal(t, http.StatusUnauthorized, run(t, handler, httptest.NewRequest(http.MethodGet, "/v1/backends", nil)).Code)
}

func TestAuth_EitherMethod(t *testing.T) {
	cfg := config.AuthConfig{APIKeys: []string{"k1"}, JWTSecret: "s3cret"}
	handler := Auth(cfg, skipAuthPaths, zap.NewNop())(okHandler)

	r := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	r.Header.Set("X-API-Key", "k1")
	assert.Equal(t, http.StatusOK, run(t, handler, r).Code)

	r = httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "s3cret", jwt.MapClaims{"sub": "ops"}))
	assert.Equal(t, http.StatusOK, run(t, handler, r).Code)

	assert.Equal(t, http.StatusUnauthorized, run(t, handler, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)).Code)
}

func TestAuth_DisabledWithoutCredentials(t *testing.T) {
	handler := Auth(config.AuthConfig{}, skipAuthPaths, zap.NewNop())(okHandler)
	assert.Equal(t, http.StatusOK, run(t, handler, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)).Code)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimiter(ctx, 1, 2, zap.NewNop())(okHandler)

	req := func(remote string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
		r.RemoteAddr = remote
		return r
	}

	assert.Equal(t, http.StatusOK, run(t, handler, req("10.0.0.1:1000")).Code)
	assert.Equal(t, http.StatusOK, run(t, handler, req("10.0.0.1:1001")).Code)
	w := run(t, handler, req("10.0.0.1:1002"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, string(types.ErrRateLimited), errorCode(t, w))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// 其他 IP 不受影响
	assert.Equal(t, http.StatusOK, run(t, handler, req("10.0.0.2:1000")).Code)
}

func TestRateLimiter_Disabled(t *testing.T) {
	handler := RateLimiter(context.Background(), 0, 0, zap.NewNop())(okHandler)
	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, run(t, handler, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://ui.example"})(okHandler)

	r := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	r.Header.Set("Origin", "https://ui.example")
	w := run(t, handler, r)
	assert.Equal(t, "https://ui.example", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodOptions, "/v1/sessions", nil)
	r.Header.Set("Origin", "https://ui.example")
	assert.Equal(t, http.StatusNoContent, run(t, handler, r).Code)

	r = httptest.NewRequest(http.MethodOptions, "/v1/sessions", nil)
	r.Header.Set("Origin", "https://evil.example")
	w = run(t, handler, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	// nil collector 的记录方法为空操作
	w := run(t, MetricsMiddleware(nil)(okHandler), httptest.NewRequest(http.MethodGet, "/v1/sessions/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestOTelTracing_SetsTraceID(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var traceID string
	var found bool
	handler := OTelTracing()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID, found = ctxkeys.TraceID(r.Context())
	}))

	// 携带上游 traceparent 时沿用其 trace ID
	r := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	r.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	run(t, handler, r)

	require.True(t, found)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traceID)
}
