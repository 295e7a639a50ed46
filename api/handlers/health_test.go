package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/o3willard-AI/alcs-sub001/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ping(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

// unhealthyBackend answers health probes with Healthy=false and no error.
type unhealthyBackend struct {
	*mocks.MockProvider
	message string
}

func (u unhealthyBackend) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: false, Message: u.message}, nil
}

func slot(role llm.BackendRole, label string, p llm.Provider) *llm.Switchable {
	return llm.NewSwitchable(role, label, p, zap.NewNop())
}

func ready(t *testing.T, h *HealthHandler) (int, HealthStatus) {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return w.Code, status
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	h := NewHealthHandler(nil)
	// 活跃度不跑依赖检查
	h.RegisterCheck(NewPingCheck("store", ping(errors.New("down"))))

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Empty(t, status.Checks)
}

func TestHealthHandler_HandleReady(t *testing.T) {
	gen := mocks.NewMockProvider().WithName("ollama").WithModel("qwen2.5-coder")

	tests := []struct {
		name     string
		checks   []HealthCheck
		wantCode int
		want     string
	}{
		{
			name:     "no checks",
			wantCode: http.StatusOK,
			want:     StatusHealthy,
		},
		{
			name: "store and backends pass",
			checks: []HealthCheck{
				NewPingCheck("store", ping(nil)),
				NewBackendHealthCheck(slot(llm.RoleGenerator, "alpha", gen)),
			},
			wantCode: http.StatusOK,
			want:     StatusHealthy,
		},
		{
			name: "backend down degrades",
			checks: []HealthCheck{
				NewPingCheck("store", ping(nil)),
				NewBackendHealthCheck(slot(llm.RoleCritic, "beta", unhealthyBackend{MockProvider: mocks.NewMockProvider(), message: "model not loaded"})),
			},
			wantCode: http.StatusOK,
			want:     StatusDegraded,
		},
		{
			name: "store down fails even with healthy backends",
			checks: []HealthCheck{
				NewPingCheck("store", ping(errors.New("connection refused"))),
				NewBackendHealthCheck(slot(llm.RoleGenerator, "alpha", gen)),
			},
			wantCode: http.StatusServiceUnavailable,
			want:     StatusUnhealthy,
		},
		{
			name: "store down and backend down is unhealthy",
			checks: []HealthCheck{
				NewPingCheck("store", ping(errors.New("connection refused"))),
				NewBackendHealthCheck(slot(llm.RoleCritic, "beta", mocks.NewMockProvider().WithHealthError(errors.New("refused")))),
			},
			wantCode: http.StatusServiceUnavailable,
			want:     StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zap.NewNop())
			for _, c := range tt.checks {
				h.RegisterCheck(c)
			}
			code, status := ready(t, h)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.want, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
		})
	}
}

func TestHealthHandler_BackendResultDetail(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	down := unhealthyBackend{MockProvider: mocks.NewMockProvider().WithName("ollama").WithModel("deepseek-coder"), message: "model not loaded"}
	h.RegisterCheck(NewBackendHealthCheck(slot(llm.RoleCritic, "beta", down)))

	_, status := ready(t, h)
	res := status.Checks["critic"]
	assert.Equal(t, "warn", res.Status)
	assert.True(t, res.Advisory)
	assert.Contains(t, res.Message, "model not loaded")
	assert.Contains(t, res.Message, `"beta"`)
	assert.Equal(t, "beta", res.Detail["label"])
	assert.Equal(t, "deepseek-coder", res.Detail["model"])
	assert.Equal(t, "ollama", res.Detail["provider"])
}

// blockingCheck waits until every peer has started, so a sequential runner would time out.
type blockingCheck struct {
	name    string
	started *sync.WaitGroup
}

func (b blockingCheck) Name() string { return b.name }

func (b blockingCheck) Check(ctx context.Context) error {
	b.started.Done()
	done := make(chan struct{})
	go func() { b.started.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestHealthHandler_ChecksRunConcurrently(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	var started sync.WaitGroup
	started.Add(3)
	for _, name := range []string{"a", "b", "c"} {
		h.RegisterCheck(blockingCheck{name: name, started: &started})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status := h.Evaluate(ctx)

	assert.Equal(t, StatusHealthy, status.Status)
	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, "pass", status.Checks[name].Status)
	}
}

func TestHealthHandler_ConcurrentRequests(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	for i := range 10 {
		h.RegisterCheck(NewPingCheck(string(rune('a'+i)), ping(nil)))
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleVersion("1.0.0", "2026-01-01T00:00:00Z", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, "2026-01-01T00:00:00Z", data["build_time"])
	assert.Equal(t, "abc123", data["git_commit"])
}

func TestBackendHealthCheck_NoBackendInstalled(t *testing.T) {
	err := NewBackendHealthCheck(slot(llm.RoleGenerator, "", nil)).Check(context.Background())
	assert.Error(t, err)
}
