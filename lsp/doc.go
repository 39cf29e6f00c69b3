// Copyright (c) formulabar Authors.
// Licensed under the MIT License.

/*
Package lsp 实现公式语言（Power Fx）的 LSP 会话层。

# 概述

语言服务部署在只支持请求/响应的 HTTP 端点之后，服务端无法主动推送。
会话层把每个 JSON-RPC 信封包装进 {"FormulaBody": ...} 请求体发出，
服务端则把自上次往返以来所有待发的消息（响应与通知）打包成
{"LanguageServerData": [...]} 批次随响应返回。会话逐条解码批次：
带 id 的响应唤醒等待中的请求，publishDiagnostics / $/publishTokens /
$/publishExpressionType 通知交给 Dispatcher 分发给订阅者。

# 核心类型

  - Session       — 会话客户端：文档版本、请求关联、通知分发
  - Dispatcher    — 按通知类型维护有序订阅者列表
  - Subscription  — 订阅句柄，Release 幂等
  - Envelope      — 解码后的 JSON-RPC 消息（Request / Response / Notification）

# 失败策略

补全与签名帮助在传输失败、服务端错误、超时时返回空结果（fail-open），
编辑器永远不会被不稳定的后端阻塞；只有 ErrProtocolViolation
（非法触发类型、无法解码的结果形状）会返回给调用方。

未匹配的请求在经历 MaxPendingRoundTrips 个批次后以 ErrRequestTimeout 结束。
用户停止输入后不会再有往返，诊断可能保持到下一次编辑。
*/
package lsp
