// 版权所有 2024 formulabar Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的公式会话指标采集能力，覆盖
传输往返与 LSP 会话两个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，同时作为 transport.RoundTripObserver
    与 lsp.Observer 注入传输层和会话。

# 主要能力

  - 传输指标：往返总数与耗时，按 operation/status 分组。
  - 会话指标：入站消息计数（按 kind），失败转空结果计数
    （按 method/reason），在途请求数 Gauge。
*/
package metrics
