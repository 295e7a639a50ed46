package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/o3willard-AI/alcs-sub001/api"
	"github.com/o3willard-AI/alcs-sub001/internal/pool"
	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/o3willard-AI/alcs-sub001/llm/retry"
	"github.com/o3willard-AI/alcs-sub001/orchestrator"
	"github.com/o3willard-AI/alcs-sub001/persistence"
	"github.com/o3willard-AI/alcs-sub001/session"
	"github.com/o3willard-AI/alcs-sub001/testutil"
	"github.com/o3willard-AI/alcs-sub001/testutil/fixtures"
	"github.com/o3willard-AI/alcs-sub001/testutil/mocks"
	"github.com/o3willard-AI/alcs-sub001/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// 🧪 测试环境
// =============================================================================

type apiEnv struct {
	srv      *httptest.Server
	orch     *orchestrator.Orchestrator
	bus      *orchestrator.EventBus
	registry *llm.ProviderRegistry
	locks    *SessionLocks
}

func newAPIEnv(t *testing.T, gen, critic *mocks.MockProvider, opts ...SessionHandlerOption) *apiEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	admission := pool.NewAdmissionController(pool.AdmissionConfig{MaxConcurrent: 2}, logger)
	t.Cleanup(admission.Close)

	registry := llm.NewProviderRegistry()
	registry.Register("alpha", gen)
	registry.Register("beta", critic)

	bus := orchestrator.NewEventBus(logger)
	t.Cleanup(bus.Stop)

	orch := orchestrator.New(persistence.NewMemoryStore(),
		llm.NewSwitchable(llm.RoleGenerator, "alpha", gen, logger),
		llm.NewSwitchable(llm.RoleCritic, "beta", critic, logger),
		admission,
		retry.NewBackoffRetryer(retry.DefaultRetryPolicy(), logger),
		orchestrator.DefaultConfig(),
		orchestrator.WithLogger(logger),
		orchestrator.WithEventBus(bus),
		orchestrator.WithBackendRegistry(registry),
	)
	t.Cleanup(orch.Close)

	locks := NewSessionLocks()
	mux := http.NewServeMux()
	RegisterRoutes(mux,
		NewSessionHandler(orch, logger, append([]SessionHandlerOption{WithSessionLocks(locks)}, opts...)...),
		NewBackendHandler(orch, logger),
		NewEventStreamHandler(bus, orch, logger, WithPingInterval(0)),
	)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &apiEnv{srv: srv, orch: orch, bus: bus, registry: registry, locks: locks}
}

func generator(versions ...int) *mocks.MockProvider {
	replies := make([]string, 0, len(versions))
	for _, v := range versions {
		replies = append(replies, fixtures.FencedCode("go", fixtures.CodeVersion(v)))
	}
	return mocks.NewMockProvider().WithName("alpha").WithReplies(replies...)
}

func critic(scores ...float64) *mocks.MockProvider {
	return mocks.NewMockProvider().WithName("beta").WithReplies(fixtures.Critiques(scores...)...)
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) (int, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// dataAs re-decodes the envelope payload into T.
func dataAs[T any](t *testing.T, resp Response) T {
	t.Helper()
	return testutil.Reshape[T](resp.Data)
}

func goTask(id string) api.TaskRequest {
	return api.TaskRequest{SessionID: id, Description: "Write Add(a, b int) int", Language: "go"}
}

func intPtr(n int) *int { return &n }

// =============================================================================
// 🧪 任务与会话
// =============================================================================

func TestStartTask_ConvergeAcknowledgeDelete(t *testing.T) {
	env := newAPIEnv(t, generator(1), critic(92))

	status, resp := env.do(t, http.MethodPost, "/v1/tasks", goTask("s-1"))
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)
	res := dataAs[orchestrator.TaskResult](t, resp)
	assert.Equal(t, "s-1", res.SessionID)
	assert.Equal(t, session.StateConverged, res.State)
	assert.Equal(t, []float64{92}, res.ScoreHistory)

	// 未确认前不能删除
	status, resp = env.do(t, http.MethodDelete, "/v1/sessions/s-1", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(types.ErrInvalidTransition), resp.Error.Code)

	status, resp = env.do(t, http.MethodPost, "/v1/sessions/s-1/ack", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, session.StateIdle, dataAs[orchestrator.TaskResult](t, resp).State)

	// 第二次确认没有待确认结果
	status, resp = env.do(t, http.MethodPost, "/v1/sessions/s-1/ack", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(types.ErrNotFound), resp.Error.Code)

	status, _ = env.do(t, http.MethodDelete, "/v1/sessions/s-1", nil)
	assert.Equal(t, http.StatusOK, status)

	status, resp = env.do(t, http.MethodGet, "/v1/sessions/s-1", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, resp.Success)
	assert.Equal(t, 0, env.locks.Held())
}

func TestStartTask_GeneratesSessionID(t *testing.T) {
	env := newAPIEnv(t, generator(1), critic(90))

	status, resp := env.do(t, http.MethodPost, "/v1/tasks", goTask(""))
	require.Equal(t, http.StatusOK, status)
	res := dataAs[orchestrator.TaskResult](t, resp)
	assert.NotEmpty(t, res.SessionID)

	status, _ = env.do(t, http.MethodGet, "/v1/sessions/"+res.SessionID, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestStartTask_Validation(t *testing.T) {
	env := newAPIEnv(t, generator(), critic())

	tests := []struct {
		name string
		body any
	}{
		{"missing description", api.TaskRequest{Language: "go"}},
		{"unsupported language", api.TaskRequest{Description: "x", Language: "cobol"}},
		{"iterations out of range", api.TaskRequest{Description: "x", Language: "go", MaxIterations: intPtr(51)}},
		{"unknown field", map[string]any{"description": "x", "language": "go", "priority": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := env.do(t, http.MethodPost, "/v1/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(types.ErrValidation), resp.Error.Code)
		})
	}

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/v1/tasks", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	httpResp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	httpResp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, httpResp.StatusCode)
}

func TestStartTask_DuplicateSessionID(t *testing.T) {
	env := newAPIEnv(t, generator(1, 2), critic(95, 95))

	status, _ := env.do(t, http.MethodPost, "/v1/tasks", goTask("dup"))
	require.Equal(t, http.StatusOK, status)

	status, resp := env.do(t, http.MethodPost, "/v1/tasks", goTask("dup"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(types.ErrSessionBusy), resp.Error.Code)
}

func TestStartTask_Async(t *testing.T) {
	env := newAPIEnv(t, generator(1), critic(88))

	status, resp := env.do(t, http.MethodPost, "/v1/tasks?async=true", goTask("bg"))
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "bg", dataAs[orchestrator.TaskResult](t, resp).SessionID)

	testutil.AssertEventuallyTrue(t, func() bool {
		sess, err := env.orch.GetSession(context.Background(), "bg")
		return err == nil && sess.State == session.StateConverged
	}, 5*time.Second)

	// 后台运行结束后会话锁被释放
	testutil.AssertEventuallyTrue(t, func() bool { return env.locks.Held() == 0 }, time.Second)
}

func TestResolveEscalation(t *testing.T) {
	env := newAPIEnv(t, generator(1), critic(40))

	task := goTask("esc")
	task.MaxIterations = intPtr(1)
	status, resp := env.do(t, http.MethodPost, "/v1/tasks", task)
	require.Equal(t, http.StatusOK, status)
	res := dataAs[orchestrator.TaskResult](t, resp)
	require.Equal(t, session.StateEscalated, res.State)
	require.NotNil(t, res.Escalation)
	assert.Equal(t, session.ReasonMaxIterations, res.Escalation.Reason)

	status, resp = env.do(t, http.MethodPost, "/v1/sessions/esc/escalation", api.EscalationRequest{Action: "shrug"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(types.ErrValidation), resp.Error.Code)

	status, resp = env.do(t, http.MethodPost, "/v1/sessions/esc/escalation", api.EscalationRequest{Action: "switch_backend", Backend: "alpha", Role: "judge"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, resp = env.do(t, http.MethodPost, "/v1/sessions/esc/escalation", api.EscalationRequest{Action: "accept_best_effort"})
	require.Equal(t, http.StatusOK, status)
	accepted := dataAs[orchestrator.TaskResult](t, resp)
	assert.Equal(t, session.StateIdle, accepted.State)
	assert.Equal(t, res.Escalation.BestArtifact.ID, accepted.AcceptedArtifactID)

	// 已不在 ESCALATED
	status, resp = env.do(t, http.MethodPost, "/v1/sessions/esc/escalation", api.EscalationRequest{Action: "abort"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(types.ErrInvalidTransition), resp.Error.Code)

	status, _ = env.do(t, http.MethodPost, "/v1/sessions/missing/escalation", api.EscalationRequest{Action: "abort"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestResolveEscalation_RetryWithConstraints(t *testing.T) {
	env := newAPIEnv(t, generator(1, 2), critic(40, 91))

	task := goTask("retry")
	task.MaxIterations = intPtr(1)
	status, _ := env.do(t, http.MethodPost, "/v1/tasks", task)
	require.Equal(t, http.StatusOK, status)

	status, resp := env.do(t, http.MethodPost, "/v1/sessions/retry/escalation", api.EscalationRequest{
		Action:      "retry_with_constraints",
		Constraints: []string{"no allocations"},
	})
	require.Equal(t, http.StatusOK, status)
	res := dataAs[orchestrator.TaskResult](t, resp)
	assert.Equal(t, session.StateConverged, res.State)
	assert.Equal(t, []float64{40, 91}, res.ScoreHistory)
}

func TestListSessions(t *testing.T) {
	env := newAPIEnv(t, generator(1, 2), critic(90, 10))

	status, _ := env.do(t, http.MethodPost, "/v1/tasks", goTask("a"))
	require.Equal(t, http.StatusOK, status)
	task := goTask("b")
	task.MaxIterations = intPtr(1)
	status, _ = env.do(t, http.MethodPost, "/v1/tasks", task)
	require.Equal(t, http.StatusOK, status)

	status, resp := env.do(t, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, status)
	all := dataAs[api.SessionListResponse](t, resp)
	assert.Len(t, all.Sessions, 2)
	assert.Equal(t, defaultListLimit, all.Limit)

	status, resp = env.do(t, http.MethodGet, "/v1/sessions?state=escalated", nil)
	require.Equal(t, http.StatusOK, status)
	escalated := dataAs[api.SessionListResponse](t, resp)
	require.Len(t, escalated.Sessions, 1)
	assert.Equal(t, "b", escalated.Sessions[0].ID)
	assert.Equal(t, 2, escalated.Sessions[0].ArtifactCount)

	for _, q := range []string{"state=DONE", "limit=0", "limit=9999", "offset=-1", "limit=abc"} {
		status, resp = env.do(t, http.MethodGet, "/v1/sessions?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, status, q)
		assert.Equal(t, string(types.ErrValidation), resp.Error.Code, q)
	}
}

func TestArtifacts(t *testing.T) {
	env := newAPIEnv(t, generator(1), critic(90))

	status, _ := env.do(t, http.MethodPost, "/v1/tasks", goTask("art"))
	require.Equal(t, http.StatusOK, status)

	status, resp := env.do(t, http.MethodGet, "/v1/sessions/art/artifacts", nil)
	require.Equal(t, http.StatusOK, status)
	all := dataAs[api.ArtifactListResponse](t, resp)
	require.Len(t, all.Artifacts, 2)

	status, resp = env.do(t, http.MethodGet, "/v1/sessions/art/artifacts?kind=code", nil)
	require.Equal(t, http.StatusOK, status)
	code := dataAs[api.ArtifactListResponse](t, resp)
	require.Len(t, code.Artifacts, 1)
	assert.Equal(t, session.KindCode, code.Artifacts[0].Kind)
	assert.Equal(t, fixtures.CodeVersion(1), code.Artifacts[0].Content)

	status, resp = env.do(t, http.MethodGet, "/v1/sessions/art/artifacts/"+code.Artifacts[0].ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, code.Artifacts[0].ID, dataAs[session.Artifact](t, resp).ID)

	status, _ = env.do(t, http.MethodGet, "/v1/sessions/art/artifacts/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodGet, "/v1/sessions/art/artifacts?kind=diagram", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

// =============================================================================
// 🧪 会话锁
// =============================================================================

func TestSessionLocks(t *testing.T) {
	locks := NewSessionLocks()

	release, err := locks.Acquire(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, 1, locks.Held())

	// 其他会话不受影响
	other, err := locks.Acquire(context.Background(), "t")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Acquire(ctx, "s")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrSessionBusy))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	acquired := make(chan func(), 1)
	go func() {
		r, err := locks.Acquire(context.Background(), "s")
		if err == nil {
			acquired <- r
		}
	}()
	release()
	release() // 重复释放无副作用

	next, ok := testutil.WaitForChannel[func()](acquired, time.Second)
	require.True(t, ok, "queued waiter should get the lock")
	next()
	assert.Equal(t, 0, locks.Held())
}

func TestSessionHandler_BusySession(t *testing.T) {
	env := newAPIEnv(t, generator(1), critic(90), WithLockWait(20*time.Millisecond))

	status, _ := env.do(t, http.MethodPost, "/v1/tasks", goTask("busy"))
	require.Equal(t, http.StatusOK, status)

	release, err := env.locks.Acquire(context.Background(), "busy")
	require.NoError(t, err)

	status, resp := env.do(t, http.MethodPost, "/v1/sessions/busy/ack", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(types.ErrSessionBusy), resp.Error.Code)
	assert.True(t, resp.Error.Retryable)

	// 读请求不排队
	status, _ = env.do(t, http.MethodGet, "/v1/sessions/busy", nil)
	assert.Equal(t, http.StatusOK, status)

	release()
	status, _ = env.do(t, http.MethodPost, "/v1/sessions/busy/ack", nil)
	assert.Equal(t, http.StatusOK, status)
}
