package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/o3willard-AI/alcs-sub001/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func TestConfigFor(t *testing.T) {
	sc := config.DefaultServerConfig()
	cfg := ConfigFor(sc, 9091)
	assert.Equal(t, ":9091", cfg.Addr)
	assert.Equal(t, sc.ReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, sc.WriteTimeout, cfg.WriteTimeout)
	assert.Equal(t, sc.ShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout)

	zero := ConfigFor(config.ServerConfig{}, 8080)
	assert.Equal(t, DefaultConfig().WriteTimeout, zero.WriteTimeout)
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := NewManager("api", okHandler(), testConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, StateClosed, m.State())

	err = m.Start()
	assert.ErrorContains(t, err, "closed")
}

func TestManager_DoubleStart(t *testing.T) {
	m := NewManager("api", okHandler(), testConfig(), nil)
	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	assert.ErrorContains(t, m.Start(), "already started")
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m := NewManager("metrics", okHandler(), testConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + m.Addr() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_RunListenError(t *testing.T) {
	first := NewManager("a", okHandler(), testConfig(), nil)
	require.NoError(t, first.Start())
	t.Cleanup(func() { first.Shutdown(context.Background()) })

	cfg := testConfig()
	cfg.Addr = first.Addr()
	second := NewManager("b", okHandler(), cfg, nil)
	assert.Error(t, second.Run(context.Background()))
}

func TestManager_Addr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":9999"
	m := NewManager("api", okHandler(), cfg, nil)
	assert.Equal(t, ":9999", m.Addr())
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, "idle", m.State().String())
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	m := NewManager("api", okHandler(), testConfig(), nil)
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, StateClosed, m.State())
	assert.ErrorContains(t, m.Start(), "closed")
}
