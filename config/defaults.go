// =============================================================================
// 📦 ALCS 默认配置
// =============================================================================
// 提供所有配置项的合理默认值。默认后端为本机 Ollama
// =============================================================================
package config

import (
	"time"

	"github.com/o3willard-AI/alcs-sub001/persistence"
)

// DefaultOllamaURL 本机 Ollama 服务地址
const DefaultOllamaURL = "http://localhost:11434"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Backends:     DefaultBackendsConfig(),
		Store:        persistence.DefaultStoreConfig(),
		Database:     DefaultDatabaseConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    35 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultOrchestratorConfig 返回默认循环参数
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxConcurrentRequests:   2,
		DefaultQualityThreshold: 85,
		DefaultMaxIterations:    5,
		TaskTimeoutMinutes:      30,
		RetryCeilingMinutes:     10,
		RetryExtraIterations:    3,
	}
}

// DefaultBackendsConfig 返回默认后端：生成器 qwen2.5-coder，评审器 deepseek-r1
func DefaultBackendsConfig() BackendsConfig {
	return BackendsConfig{
		Alpha: BackendConfig{
			Provider:    "ollama",
			BaseURL:     DefaultOllamaURL,
			Model:       "qwen2.5-coder",
			Temperature: 0.2,
			MaxTokens:   4096,
			Timeout:     5 * time.Minute,
		},
		Beta: BackendConfig{
			Provider:    "ollama",
			BaseURL:     DefaultOllamaURL,
			Model:       "deepseek-r1",
			Temperature: 0.1,
			MaxTokens:   2048,
			Timeout:     5 * time.Minute,
		},
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "alcs",
		Password:        "",
		Name:            "alcs",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "alcs",
		SampleRate:   0.1,
	}
}
