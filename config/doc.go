// Package config 提供 ALCS 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → ALCS_ 前缀环境变量 的顺序叠加，
// Watcher 在文件变更后重新加载并通知订阅者。
package config
