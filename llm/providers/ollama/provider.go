// Package ollama implements a backend for a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/o3willard-AI/alcs-sub001/internal/tlsutil"
	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/o3willard-AI/alcs-sub001/llm/providers"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	chatPath       = "/api/chat"
	tagsPath       = "/api/tags"
)

type chatOptions struct {
	Temperature *float32 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatRequest struct {
	Model     string                  `json:"model"`
	Messages  []providers.WireMessage `json:"messages"`
	Stream    bool                    `json:"stream"`
	Options   *chatOptions            `json:"options,omitempty"`
	KeepAlive string                  `json:"keep_alive,omitempty"`
}

type chatResponse struct {
	Model           string                `json:"model"`
	CreatedAt       time.Time             `json:"created_at"`
	Message         providers.WireMessage `json:"message"`
	Done            bool                  `json:"done"`
	DoneReason      string                `json:"done_reason,omitempty"`
	PromptEvalCount int                   `json:"prompt_eval_count"`
	EvalCount       int                   `json:"eval_count"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Provider talks to Ollama's native chat API.
type Provider struct {
	cfg    providers.OllamaConfig
	client *http.Client
	logger *zap.Logger
}

// New creates an Ollama backend. Empty BaseURL means the local default.
func New(cfg providers.OllamaConfig, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		// Local models on CPU can take minutes for a full file.
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout, cfg.TLS),
		logger: logger.With(zap.String("provider", "ollama")),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return "ollama" }

// Model returns the configured model.
func (p *Provider) Model() string { return p.cfg.Model }

// Completion performs a non-streaming chat call.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := providers.ChooseModel(req, p.cfg.Model, "")
	if model == "" {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "no model configured",
			HTTPStatus: http.StatusBadRequest,
			Provider:   p.Name(),
		}
	}

	body := chatRequest{
		Model:     model,
		Messages:  providers.ToWireMessages(req.Messages),
		Stream:    false,
		KeepAlive: p.cfg.KeepAlive,
	}
	if req.Temperature != 0 || req.MaxTokens > 0 || len(req.Stop) > 0 {
		opts := &chatOptions{NumPredict: req.MaxTokens, Stop: req.Stop}
		if req.Temperature != 0 {
			t := req.Temperature
			opts.Temperature = &t
		}
		body.Options = opts
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, providers.Endpoint(p.cfg.BaseURL, chatPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	providers.BearerTokenHeaders(httpReq, p.cfg.APIKey)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.NetworkError(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, providers.NetworkError(err, p.Name())
	}

	p.logger.Debug("completion done",
		zap.String("model", out.Model),
		zap.Int("eval_count", out.EvalCount),
		zap.Duration("latency", time.Since(start)),
	)

	return &llm.ChatResponse{
		Provider: p.Name(),
		Model:    out.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: out.DoneReason,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: out.Message.Content},
		}},
		Usage: llm.ChatUsage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
		CreatedAt: out.CreatedAt,
	}, nil
}

// HealthCheck lists local models and reports unhealthy when the configured
// model has not been pulled.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	models, err := p.ListModels(ctx)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency, Message: err.Error()}, err
	}
	if p.cfg.Model != "" && !hasModel(models, p.cfg.Model) {
		msg := fmt.Sprintf("model %s not found, run: ollama pull %s", p.cfg.Model, p.cfg.Model)
		return &llm.HealthStatus{Healthy: false, Latency: latency, Message: msg}, fmt.Errorf("%s", msg)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// ListModels returns the names of locally available models.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, providers.Endpoint(p.cfg.BaseURL, tagsPath), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.NetworkError(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// hasModel matches "qwen2.5-coder" against tags like "qwen2.5-coder:32b".
func hasModel(models []string, want string) bool {
	for _, m := range models {
		if m == want || strings.HasPrefix(m, want+":") {
			return true
		}
	}
	return false
}
