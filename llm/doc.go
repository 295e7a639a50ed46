/*
包 llm 是生成器与评审器共用的后端接入层。

# 概述

[Provider] 是最小的文本生成接口：同步补全、健康检查与名称。
循环中的每个角色持有一个 [Switchable]，它本身也实现 [Provider]，
在运行时可原子地替换为另一个已注册后端。

# 核心类型

  - [Provider] / [ModelReporter]：后端接口与可选的模型名上报
  - [Switchable]：按角色（[RoleGenerator]、[RoleCritic]）持有当前后端，
    替换前先用 max_tokens=1 的请求探测，探测失败时保留原后端
  - [ProviderRegistry]：可供 switch_backend 选择的具名后端集合
  - [Error]：上游错误码、HTTP 状态与可重试标记

具体后端位于 providers/ollama 与 providers/openaicompat，
由 factory 按配置创建；重试策略见 retry，token 计数见 tokenizer。
*/
package llm
