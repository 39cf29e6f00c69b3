// Copyright (c) formulabar Authors.
// Licensed under the MIT License.

/*
Package types 提供 formulabar 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 lsp、binding、eval、
editor 以及 transport 提供统一的错误契约。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Operation 标记

# 错误码

  - TRANSPORT / TIMEOUT — 网络与 HTTP 失败
  - MALFORMED_MESSAGE — 批次中无法解码的消息
  - PROTOCOL_VIOLATION — 客户端与服务端契约不一致
  - CONTEXT_GENERATION — 记录上下文获取失败
*/
package types
