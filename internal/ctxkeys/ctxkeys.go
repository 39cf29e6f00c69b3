package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	methodKey      contextKey = "lsp_method"
	requestIDKey   contextKey = "lsp_request_id"
	documentURIKey contextKey = "document_uri"
)

// WithMethod 设置当前往返携带的 JSON-RPC 方法
func WithMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, methodKey, method)
}

// Method 获取 JSON-RPC 方法
func Method(ctx context.Context) (string, bool) {
	return stringValue(ctx, methodKey)
}

// WithRequestID 设置 JSON-RPC 请求 id，通知没有 id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取 JSON-RPC 请求 id
func RequestID(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey)
}

// WithDocumentURI 设置会话文档 URI
func WithDocumentURI(ctx context.Context, uri string) context.Context {
	return context.WithValue(ctx, documentURIKey, uri)
}

// DocumentURI 获取会话文档 URI
func DocumentURI(ctx context.Context) (string, bool) {
	return stringValue(ctx, documentURIKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
