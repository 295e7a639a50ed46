/*
Package handlers 提供 ALCS HTTP API 的请求处理器实现。

# 概述

handlers 包实现任务提交、会话查询、升级决议、结果确认、后端切换、
会话事件流以及健康检查。所有 Handler 均遵循标准 net/http 接口，
路由使用 Go 1.22 ServeMux 的 "METHOD /path/{param}" 模式，
通过 Swagger 注解生成 API 文档。

# 核心类型

  - SessionHandler: 任务、会话、产物、升级决议与确认
  - BackendHandler: 生成器/评审器后端查询与切换
  - EventStreamHandler: 基于 WebSocket 的会话事件流
  - HealthHandler: 存活、就绪（后端故障降级为 degraded）与版本
  - SessionLocks: 按会话 ID 串行化写请求
  - Response: 统一 JSON 响应结构（success + data + error + timestamp + request_id）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteErr / WriteJSON
  - ErrorCode → HTTP 状态码映射（VALIDATION_ERROR 400、NOT_FOUND 404、
    INVALID_TRANSITION/SESSION_BUSY 409、BACKEND_UNHEALTHY 502、
    ENDPOINT_UNAVAILABLE 503）
  - 同一会话的写请求排队执行，等待超时返回 SESSION_BUSY
  - 可扩展健康检查：RegisterCheck 注册 PingCheck、BackendHealthCheck
*/
package handlers
