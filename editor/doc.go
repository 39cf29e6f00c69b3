// Copyright 2026 formulabar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package editor 把 lsp 会话适配为公式编辑框使用的模型。

编辑框使用从 1 开始的行列号，LSP 使用从 0 开始的行列号；
本包负责两者之间的转换，以及补全项、诊断标记、高亮名称的映射。
所有枚举映射都是带显式默认值的查表：

  - 补全项类型未知时按 Method 处理
  - 诊断严重性未指定或未知时按 Error 处理
  - 未知的补全触发方式返回 lsp.ErrProtocolViolation
  - 未知的标识符分类直接丢弃

Editor 持有编辑状态（公式、上下文、参数、求值结果），
按 Features 决定是否发送 didOpen/didChange、是否请求补全与签名帮助。
*/
package editor
