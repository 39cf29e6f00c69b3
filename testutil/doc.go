// Copyright 2026 formulabar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 formulabar 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，核心是一个运行在
httptest 上的假公式服务端，按批次语义模拟服务端推送。

# 核心能力

  - 上下文辅助: TestContext，自动注册 Cleanup
  - 异步等待: AssertEventuallyTrue（testify Eventually）/ WaitForChannel
  - FakeServer: 记录每个收到的信封，按方法注册应答，
    排队的推送随下一次响应一起返回；同时提供 eval 端点
  - 信封构造: Response / ErrorResponse / Notification
  - 推送载荷: Diagnostic / DiagnosticsPush

# 使用示例

	srv := testutil.NewFakeServer(t)
	srv.Handle("textDocument/completion", func(req testutil.Request) []string {
		return []string{testutil.Response(req.ID, map[string]any{"items": []any{}})}
	})
	sess, _ := lsp.NewSession(sender, srv.LSPURL(), uri)
*/
package testutil
