// Package config 提供 formulabar 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（FORMULABAR_*）的顺序合并，
// 覆盖语言服务端点、LSP 会话、编辑器开关、日志、遥测与指标。
package config
