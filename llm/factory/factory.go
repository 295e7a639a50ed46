// Package factory maps backend names from configuration to Provider
// constructors. It lives outside package llm to avoid an import cycle with
// the provider sub-packages.
package factory

import (
	"fmt"
	"net/http"
	"time"

	"github.com/o3willard-AI/alcs-sub001/internal/tlsutil"
	"github.com/o3willard-AI/alcs-sub001/llm"
	"github.com/o3willard-AI/alcs-sub001/llm/providers"
	"github.com/o3willard-AI/alcs-sub001/llm/providers/ollama"
	"github.com/o3willard-AI/alcs-sub001/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// ProviderConfig is the generic configuration accepted by the factory function.
// It uses a flat structure with an Extra map for provider-specific fields.
type ProviderConfig struct {
	APIKey  string         `json:"api_key" yaml:"api_key"`
	BaseURL string         `json:"base_url" yaml:"base_url"`
	Model   string         `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Extra   map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// OpenAI-compatible services that only differ in their default base URL.
var compatBaseURLs = map[string]string{
	"openai":   "https://api.openai.com",
	"deepseek": "https://api.deepseek.com",
	"vllm":     "http://localhost:8000",
	"lmstudio": "http://localhost:1234",
}

// NewProviderFromConfig creates a Provider instance based on the provider name
// and a generic ProviderConfig.
//
// Supported names: ollama, openai, deepseek, vllm, lmstudio.
func NewProviderFromConfig(name string, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := providers.BaseProviderConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}
	if caFile, _ := cfg.Extra["ca_file"].(string); caFile != "" {
		tlsCfg, err := tlsutil.WithCAFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", name, err)
		}
		base.TLS = tlsCfg
	}

	switch name {
	case "ollama", "local":
		oc := providers.OllamaConfig{BaseProviderConfig: base}
		if cfg.Extra != nil {
			if v, ok := cfg.Extra["keep_alive"].(string); ok {
				oc.KeepAlive = v
			}
		}
		return ollama.New(oc, logger), nil
	}

	defaultURL, ok := compatBaseURLs[name]
	if !ok {
		return nil, fmt.Errorf("unsupported backend provider: %q", name)
	}
	if base.BaseURL == "" {
		base.BaseURL = defaultURL
	}
	p := openaicompat.New(openaicompat.Config{
		ProviderName: name,
		APIKey:       base.APIKey,
		BaseURL:      base.BaseURL,
		DefaultModel: base.Model,
		Timeout:      base.Timeout,
		TLS:          base.TLS,
	}, logger)
	if cfg.Extra != nil {
		if org, ok := cfg.Extra["organization"].(string); ok && org != "" {
			p.SetBuildHeaders(func(r *http.Request, apiKey string) {
				providers.BearerTokenHeaders(r, apiKey)
				r.Header.Set("OpenAI-Organization", org)
			})
		}
	}
	return p, nil
}

// SupportedProviders lists the names accepted by NewProviderFromConfig.
func SupportedProviders() []string {
	return []string{"ollama", "openai", "deepseek", "vllm", "lmstudio"}
}
