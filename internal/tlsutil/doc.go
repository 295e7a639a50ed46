// Package tlsutil 提供集中式 TLS 配置，
// 为后端 HTTP 客户端、API 服务端以及 Redis/Mongo 会话存储提供安全加固的 TLS 设置。
package tlsutil
