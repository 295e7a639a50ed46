package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/o3willard-AI/alcs-sub001/llm"
)

// MapHTTPError turns a non-2xx backend response into an llm.Error. Only
// rate limiting and server-side failures are retryable; the retry layer
// keys off that flag.
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	e := &llm.Error{Message: msg, HTTPStatus: status, Provider: provider}
	switch status {
	case http.StatusUnauthorized:
		e.Code = llm.ErrUnauthorized
	case http.StatusForbidden:
		e.Code = llm.ErrForbidden
	case http.StatusTooManyRequests:
		e.Code, e.Retryable = llm.ErrRateLimited, true
	case http.StatusBadRequest:
		e.Code = llm.ErrInvalidRequest
		if lower := strings.ToLower(msg); strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			e.Code = llm.ErrQuotaExceeded
		}
	case http.StatusNotFound:
		// ollama 对未 pull 的模型返回 404
		e.Code = llm.ErrProviderUnavailable
	case 529:
		e.Code, e.Retryable = llm.ErrModelOverloaded, true
	default:
		e.Code, e.Retryable = llm.ErrUpstreamError, status >= 500
	}
	return e
}

// NetworkError wraps a transport failure.
func NetworkError(err error, provider string) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   provider,
	}
}

// ReadErrorMessage extracts a readable message from an error body. Both
// {"error":{"message":..}} and ollama's {"error":"..."} are understood;
// anything else is returned trimmed.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && len(envelope.Error) > 0 {
		var detail struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		}
		var text string
		switch {
		case json.Unmarshal(envelope.Error, &text) == nil && text != "":
			return text
		case json.Unmarshal(envelope.Error, &detail) == nil && detail.Message != "":
			if detail.Type == "" {
				return detail.Message
			}
			return fmt.Sprintf("%s (type: %s)", detail.Message, detail.Type)
		}
	}
	return strings.TrimSpace(string(data))
}

// WireMessage is a chat message as both ollama and OpenAI-style servers
// spell it.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []WireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type CompletionChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      WireMessage `json:"message"`
}

type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the non-streaming reply. Usage is optional;
// some local servers omit it and the orchestrator falls back to counting.
type ChatCompletionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *CompletionUsage   `json:"usage,omitempty"`
	Created int64              `json:"created,omitempty"`
}

// ToWireMessages drops everything but role and content.
func ToWireMessages(msgs []llm.Message) []WireMessage {
	wire := make([]WireMessage, len(msgs))
	for i, m := range msgs {
		wire[i] = WireMessage{Role: string(m.Role), Content: m.Content}
	}
	return wire
}

// FromChatCompletion converts a decoded reply, tagging it with provider.
func FromChatCompletion(cc ChatCompletionResponse, provider string) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		ID:       cc.ID,
		Provider: provider,
		Model:    cc.Model,
		Choices:  make([]llm.ChatChoice, len(cc.Choices)),
	}
	for i, c := range cc.Choices {
		resp.Choices[i] = llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: c.Message.Content},
		}
	}
	if u := cc.Usage; u != nil {
		resp.Usage = llm.ChatUsage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	return resp
}

// ChooseModel prefers the request's model, then the configured one.
func ChooseModel(req *llm.ChatRequest, defaultModel, fallbackModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}

// BearerTokenHeaders sets JSON content type and, for keyed endpoints, the
// Authorization header. Local servers usually run without a key.
func BearerTokenHeaders(r *http.Request, apiKey string) {
	r.Header.Set("Content-Type", "application/json")
	if apiKey == "" {
		return
	}
	r.Header.Set("Authorization", "Bearer "+apiKey)
}

// Endpoint joins a base URL and a path.
func Endpoint(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}
