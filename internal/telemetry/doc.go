// Package telemetry 封装 OpenTelemetry SDK 初始化，为 ALCS 的编排循环
// 与 HTTP 层提供 TracerProvider 和 MeterProvider。禁用时不连接任何外部服务。
//
// BackendInstruments 在 OTLP 侧记录每次后端调用（次数、耗时、token、在途数），
// 与 internal/metrics 的 Prometheus 指标并行导出。
package telemetry
