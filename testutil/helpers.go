// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 上下文、异步等待与推送载荷构造
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	srv.PushNotification(lsp.MethodPublishDiagnostics,
//	    testutil.DiagnosticsPush(uri, testutil.Diagnostic(0, 2, 3, 1, "Unexpected characters.")))
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestContext 返回 30 秒超时、随测试结束取消的上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// AssertEventuallyTrue 每 10ms 检查一次条件，超时记为失败但不终止测试
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) bool {
	t.Helper()
	return assert.Eventually(t, condition, timeout, 10*time.Millisecond,
		"condition did not become true within %v", timeout)
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// Diagnostic 构造单行诊断，字符位置从 0 开始
func Diagnostic(line, startChar, endChar, severity int, message string) map[string]any {
	return map[string]any{
		"range": map[string]any{
			"start": map[string]int{"line": line, "character": startChar},
			"end":   map[string]int{"line": line, "character": endChar},
		},
		"severity": severity,
		"message":  message,
	}
}

// DiagnosticsPush 构造 textDocument/publishDiagnostics 参数，没有诊断时为空数组
func DiagnosticsPush(uri string, diags ...map[string]any) map[string]any {
	list := make([]any, 0, len(diags))
	for _, d := range diags {
		list = append(list, d)
	}
	return map[string]any{"uri": uri, "diagnostics": list}
}

// MustJSON 序列化 v，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
