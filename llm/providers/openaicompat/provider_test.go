package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/o3willard-AI/alcs-sub001/llm/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// New() constructor
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	tests := []struct {
		name         string
		cfg          Config
		logger       *zap.Logger
		wantEndpoint string
		wantModels   string
		wantName     string
	}{
		{
			name:         "all defaults applied",
			cfg:          Config{},
			wantEndpoint: "/v1/chat/completions",
			wantModels:   "/v1/models",
			wantName:     "openai",
		},
		{
			name: "custom endpoint paths preserved",
			cfg: Config{
				ProviderName:   "vllm",
				EndpointPath:   "/api/chat",
				ModelsEndpoint: "/api/models",
			},
			logger:       zap.NewNop(),
			wantEndpoint: "/api/chat",
			wantModels:   "/api/models",
			wantName:     "vllm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, tt.logger)
			require.NotNil(t, p)
			assert.Equal(t, tt.wantEndpoint, p.Cfg.EndpointPath)
			assert.Equal(t, tt.wantModels, p.Cfg.ModelsEndpoint)
			assert.Equal(t, tt.wantName, p.Name())
			assert.NotNil(t, p.Client)
			assert.NotNil(t, p.Logger)
		})
	}
}

func TestNew_Timeout(t *testing.T) {
	assert.Equal(t, 120*time.Second, New(Config{}, nil).Client.Timeout)
	assert.Equal(t, 10*time.Second, New(Config{Timeout: 10 * time.Second}, nil).Client.Timeout)
}

func TestModel_FallsBack(t *testing.T) {
	assert.Equal(t, "a", New(Config{DefaultModel: "a", FallbackModel: "b"}, nil).Model())
	assert.Equal(t, "b", New(Config{FallbackModel: "b"}, nil).Model())
}

func TestSetBuildHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))
		// 自定义 builder 完全替换默认的 Bearer 头
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	p := New(Config{APIKey: "key", BaseURL: server.URL}, nil)
	var gotKey string
	p.SetBuildHeaders(func(r *http.Request, apiKey string) {
		gotKey = apiKey
		r.Header.Set("OpenAI-Organization", "org-1")
	})

	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Equal(t, "key", gotKey)
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

func TestProvider_Completion_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body providers.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		assert.Equal(t, 256, body.MaxTokens)
		assert.Equal(t, []string{"```"}, body.Stop)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(providers.ChatCompletionResponse{
			ID:      "chatcmpl-1",
			Model:   "gpt-4o-mini",
			Created: 1700000000,
			Choices: []providers.CompletionChoice{{
				FinishReason: "stop",
				Message:      providers.WireMessage{Role: "assistant", Content: "package main"},
			}},
			Usage: &providers.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		})
	}))
	defer server.Close()

	p := New(Config{APIKey: "test-key", BaseURL: server.URL, DefaultModel: "gpt-4o-mini"}, nil)
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "you write code"},
			{Role: llm.RoleUser, Content: "hello"},
		},
		MaxTokens: 256,
		Stop:      []string{"```"},
	})
	require.NoError(t, err)

	text, err := resp.Text()
	require.NoError(t, err)
	assert.Equal(t, "package main", text)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, int64(1700000000), resp.CreatedAt.Unix())
}

func TestProvider_Completion_HTTPErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantCode      llm.ErrorCode
		wantRetryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, llm.ErrUnauthorized, false},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, llm.ErrRateLimited, true},
		{"quota", http.StatusBadRequest, `{"error":{"message":"quota exceeded"}}`, llm.ErrQuotaExceeded, false},
		{"unavailable", http.StatusServiceUnavailable, `upstream down`, llm.ErrUpstreamError, true},
		{"internal", http.StatusInternalServerError, `oops`, llm.ErrUpstreamError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := New(Config{BaseURL: server.URL}, nil)
			_, err := p.Completion(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
			})
			require.Error(t, err)

			llmErr, ok := err.(*llm.Error)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, llmErr.Code)
			assert.Equal(t, tt.wantRetryable, llmErr.Retryable)
			assert.Equal(t, tt.status, llmErr.HTTPStatus)
		})
	}
}

func TestProvider_Completion_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	p := New(Config{BaseURL: url}, nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.Error(t, err)
	llmErr, ok := err.(*llm.Error)
	require.True(t, ok)
	assert.True(t, llmErr.Retryable)
}

func TestProvider_Completion_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer server.Close()

	p := New(Config{BaseURL: server.URL, DefaultModel: "m"}, nil)
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "m", resp.Model)

	_, err = resp.Text()
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// HealthCheck
// ---------------------------------------------------------------------------

func TestProvider_HealthCheck(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	p := New(Config{BaseURL: server.URL}, nil)

	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)

	healthy = false
	status, err = p.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
}

func TestProvider_HealthCheck_ModelNotServed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"qwen2.5-coder-7b"},{"id":"llama3"}]}`))
	}))
	defer server.Close()

	served, err := New(Config{BaseURL: server.URL, DefaultModel: "llama3"}, nil).HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, served.Healthy)

	missing, err := New(Config{BaseURL: server.URL, DefaultModel: "deepseek-coder"}, nil).HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, missing.Healthy)
	assert.Contains(t, missing.Message, "deepseek-coder")
}
