package openaicompat

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/o3willard-AI/alcs-sub001/internal/tlsutil"
	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/o3willard-AI/alcs-sub001/llm/providers"
	"go.uber.org/zap"
)

// Config describes one OpenAI-compatible endpoint.
type Config struct {
	ProviderName  string // "openai", "deepseek", "vllm", ...
	APIKey        string
	BaseURL       string
	DefaultModel  string
	FallbackModel string
	Timeout       time.Duration // 整次 completion 的上限，默认 120s

	EndpointPath   string // 默认 /v1/chat/completions
	ModelsEndpoint string // 默认 /v1/models

	// TLS overrides the hardened default, e.g. to trust a private CA.
	TLS *tls.Config

	// BuildHeaders replaces the default bearer-token headers.
	BuildHeaders func(req *http.Request, apiKey string)
}

// Provider is a backend speaking the OpenAI Chat Completions API.
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New applies defaults to cfg and returns the backend.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:    cfg,
		Client: tlsutil.SecureHTTPClient(cfg.Timeout, cfg.TLS),
		Logger: logger.With(zap.String("provider", cfg.ProviderName)),
	}
}

func (p *Provider) Name() string { return p.Cfg.ProviderName }

// Model returns the model used when a request does not name one.
func (p *Provider) Model() string {
	return providers.ChooseModel(nil, p.Cfg.DefaultModel, p.Cfg.FallbackModel)
}

// SetBuildHeaders replaces the header builder, e.g. to add OpenAI-Organization.
func (p *Provider) SetBuildHeaders(fn func(req *http.Request, apiKey string)) {
	p.Cfg.BuildHeaders = fn
}

// send issues one request and converts transport failures and non-2xx
// answers into *llm.Error. The caller closes the body on success.
func (p *Provider) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, providers.Endpoint(p.Cfg.BaseURL, path), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if p.Cfg.BuildHeaders != nil {
		p.Cfg.BuildHeaders(req, p.Cfg.APIKey)
	} else {
		providers.BearerTokenHeaders(req, p.Cfg.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, providers.NetworkError(err, p.Name())
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), p.Name())
	}
	return resp, nil
}

type modelEntry struct {
	ID string `json:"id"`
}

// HealthCheck lists the served models. When a model is configured and the
// endpoint publishes a non-empty list, the model must be in it.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	resp, err := p.send(ctx, http.MethodGet, p.Cfg.ModelsEndpoint, nil)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start), Message: err.Error()}, err
	}
	defer resp.Body.Close()

	var list struct {
		Data []modelEntry `json:"data"`
	}
	// 有些兼容服务返回非标准格式，解析失败不算不健康
	_ = json.NewDecoder(resp.Body).Decode(&list)
	status := &llm.HealthStatus{Healthy: true, Latency: time.Since(start)}

	model := p.Model()
	if model == "" || len(list.Data) == 0 {
		return status, nil
	}
	if !slices.ContainsFunc(list.Data, func(m modelEntry) bool { return m.ID == model }) {
		status.Healthy = false
		status.Message = fmt.Sprintf("model %q is not served by %s", model, p.Cfg.BaseURL)
	}
	return status, nil
}

// Completion performs a non-streaming chat completion.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := providers.ChooseModel(req, p.Cfg.DefaultModel, p.Cfg.FallbackModel)
	payload, err := json.Marshal(providers.ChatCompletionRequest{
		Model:       model,
		Messages:    providers.ToWireMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	resp, err := p.send(ctx, http.MethodPost, p.Cfg.EndpointPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw providers.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, providers.NetworkError(err, p.Name())
	}

	out := providers.FromChatCompletion(raw, p.Name())
	if raw.Created != 0 {
		out.CreatedAt = time.Unix(raw.Created, 0)
	}
	if out.Model == "" {
		out.Model = model
	}
	p.Logger.Debug("completion done",
		zap.String("model", out.Model),
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)),
	)
	return out, nil
}
