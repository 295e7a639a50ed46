package providers

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestMapHTTPError_Codes(t *testing.T) {
	tests := []struct {
		status    int
		msg       string
		code      llm.ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, "bad key", llm.ErrUnauthorized, false},
		{http.StatusForbidden, "nope", llm.ErrForbidden, false},
		{http.StatusTooManyRequests, "slow down", llm.ErrRateLimited, true},
		{http.StatusBadRequest, "insufficient credit", llm.ErrQuotaExceeded, false},
		{http.StatusBadRequest, "bad field", llm.ErrInvalidRequest, false},
		{http.StatusNotFound, "model 'codellama' not found, try pulling it first", llm.ErrProviderUnavailable, false},
		{http.StatusServiceUnavailable, "loading", llm.ErrUpstreamError, true},
		{529, "overloaded", llm.ErrModelOverloaded, true},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := MapHTTPError(tt.status, tt.msg, "ollama")
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, "ollama: "+tt.msg, err.Error())
		})
	}
}

// 只有 429 与 5xx 可重试
func TestMapHTTPError_RetryableProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.IntRange(400, 599).Draw(t, "status")
		err := MapHTTPError(status, "x", "p")
		want := status == http.StatusTooManyRequests || status >= 500
		if err.Retryable != want {
			t.Fatalf("status %d: retryable=%v, want %v", status, err.Retryable, want)
		}
	})
}

func TestNetworkError(t *testing.T) {
	err := NetworkError(errors.New("connection refused"), "openai")
	assert.True(t, err.Retryable)
	assert.Equal(t, llm.ErrUpstreamError, err.Code)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus)
}

func TestReadErrorMessage(t *testing.T) {
	assert.Equal(t, "bad model (type: invalid_request_error)",
		ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad model","type":"invalid_request_error"}}`)))
	assert.Equal(t, "model not found", ReadErrorMessage(strings.NewReader(`{"error":"model not found"}`)))
	assert.Equal(t, "gateway exploded", ReadErrorMessage(strings.NewReader("  gateway exploded\n")))
}

func TestChooseModelAndEndpoint(t *testing.T) {
	assert.Equal(t, "req", ChooseModel(&llm.ChatRequest{Model: "req"}, "def", "fb"))
	assert.Equal(t, "def", ChooseModel(&llm.ChatRequest{}, "def", "fb"))
	assert.Equal(t, "fb", ChooseModel(nil, "", "fb"))

	assert.Equal(t, "http://localhost:11434/api/chat", Endpoint("http://localhost:11434/", "/api/chat"))
}
