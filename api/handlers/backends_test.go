package handlers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/o3willard-AI/alcs-sub001/api"
	"github.com/o3willard-AI/alcs-sub001/testutil/mocks"
	"github.com/o3willard-AI/alcs-sub001/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendHandler_List(t *testing.T) {
	env := newAPIEnv(t, generator(), critic())

	status, resp := env.do(t, http.MethodGet, "/v1/backends", nil)
	require.Equal(t, http.StatusOK, status)

	got := dataAs[api.BackendsResponse](t, resp)
	require.Len(t, got.Slots, 2)
	assert.Equal(t, "generator", got.Slots[0].Role)
	assert.Equal(t, "alpha", got.Slots[0].Label)
	assert.Equal(t, "critic", got.Slots[1].Role)
	assert.Equal(t, "beta", got.Slots[1].Label)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, got.Available)
}

func TestBackendHandler_Switch(t *testing.T) {
	env := newAPIEnv(t, generator(), critic())
	env.registry.Register("spare", mocks.NewMockProvider().WithName("spare").WithModel("deepseek-coder"))
	env.registry.Register("broken", mocks.NewMockProvider().WithName("broken").WithProbeError(errors.New("connection refused")))

	status, resp := env.do(t, http.MethodPut, "/v1/backends/critic", api.SwitchBackendRequest{Name: "spare"})
	require.Equal(t, http.StatusOK, status)
	got := dataAs[api.BackendsResponse](t, resp)
	assert.Equal(t, "spare", got.Slots[1].Label)
	assert.Equal(t, "deepseek-coder", got.Slots[1].Model)

	// 探测失败时保留当前后端
	status, resp = env.do(t, http.MethodPut, "/v1/backends/generator", api.SwitchBackendRequest{Name: "broken"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, string(types.ErrBackendUnhealthy), resp.Error.Code)
	status, resp = env.do(t, http.MethodGet, "/v1/backends", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alpha", dataAs[api.BackendsResponse](t, resp).Slots[0].Label)

	status, resp = env.do(t, http.MethodPut, "/v1/backends/generator", api.SwitchBackendRequest{Name: "gpt-9"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(types.ErrNotFound), resp.Error.Code)

	status, resp = env.do(t, http.MethodPut, "/v1/backends/generator", api.SwitchBackendRequest{Name: " "})
	assert.Equal(t, http.StatusBadRequest, status)

	status, resp = env.do(t, http.MethodPut, "/v1/backends/judge", api.SwitchBackendRequest{Name: "spare"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(types.ErrValidation), resp.Error.Code)
}
