// Package factory 按配置中的 provider 名称创建后端：ollama 走本地 /api/chat，
// openai、deepseek、vllm、lmstudio 走 OpenAI 兼容接口，仅默认 base URL 不同。
package factory
