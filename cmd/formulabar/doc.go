/*
Package main 提供 formulabar 命令行入口。

# 概述

cmd/formulabar 针对真实的公式语言服务驱动一次完整的编辑会话：
打开文档、收集诊断和标识符高亮、请求补全与签名帮助，以及对公式求值。
结果以 JSON 写到标准输出，日志写到标准错误。

# 子命令

  - check      didOpen 后输出标记、高亮名称、表达式类型与求值状态
  - complete   在 --line/--column 处请求补全
  - signature  在 --line/--column 处请求签名帮助
  - eval       只求值
  - version    版本信息

# 装配

配置（YAML + FORMULABAR_* 环境变量）→ zap 日志 → OpenTelemetry →
Prometheus 收集器 → HTTP 传输 → LSP 会话 → 记录上下文绑定 → 编辑框。
指定 --metrics-addr 时在命令运行期间暴露 /metrics 与 /healthz。
Version、BuildTime、GitCommit 通过 ldflags 注入。
*/
package main
