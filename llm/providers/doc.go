/*
包 providers 提供后端实现共用的辅助函数。

# 核心函数

  - MapHTTPError: 将 HTTP 状态码映射为 llm.Error，并标记是否可重试
  - NetworkError: 将传输层错误包装为可重试的上游错误
  - ReadErrorMessage: 从错误响应体中提取可读信息
  - ToWireMessages / FromChatCompletion: OpenAI 兼容格式转换
  - ChooseModel: 按请求 > 默认 > 兜底的顺序选择模型
  - BearerTokenHeaders / Endpoint: 请求头与 URL 拼接

具体后端见子包 ollama 与 openaicompat。
*/
package providers
