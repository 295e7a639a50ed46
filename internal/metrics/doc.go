/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、后端调用、会话生命周期、准入控制与数据库五个维度。

# 概述

Collector 通过 promauto 注册到默认 Registry（promhttp.Handler 暴露的那个），
测试可用 WithRegisterer 换成独立 Registry。所有指标按 namespace 隔离。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    状态码归类为 2xx/3xx/4xx/5xx。
  - 后端指标：按 role/backend 分组的调用次数、耗时、Token 用量与重试次数。
  - 会话指标：启动数、状态转换计数、最终状态与迭代次数分布。
  - 准入控制：运行中与排队中的后端调用数 Gauge。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram。
*/
package metrics
