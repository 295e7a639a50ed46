package providers

import (
	"crypto/tls"
	"time"
)

// BaseProviderConfig 所有后端共享的基础配置字段。
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// TLS 为空时使用 tlsutil 的默认加固配置
	TLS *tls.Config `json:"-" yaml:"-"`
}

// OllamaConfig 本地 Ollama 后端配置
type OllamaConfig struct {
	BaseProviderConfig `yaml:",inline"`
	// KeepAlive controls how long Ollama keeps the model loaded, e.g. "5m".
	KeepAlive string `json:"keep_alive,omitempty" yaml:"keep_alive,omitempty"`
}
