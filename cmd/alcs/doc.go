/*
Package main 提供 ALCS 服务端程序入口。

# 概述

cmd/alcs 启动生成器/评审器编排服务：加载配置、连接会话存储、
创建两个后端槽位，并在 HTTP 上暴露任务、会话、升级处理与后端切换接口。

# 子命令

  - serve    启动 HTTP 服务与独立的 Prometheus 指标端口
  - migrate  管理 SQL 会话存储的表结构
  - health   探测运行中实例的 /health
  - version  打印构建信息

# 中间件链

Recovery → RequestID → SecurityHeaders → OTelTracing → Metrics →
RequestLogger → CORS → RateLimiter → APIKeyAuth / JWTAuth
*/
package main
