package lsp

import (
	"fmt"

	"github.com/BaSui01/formulabar/types"
)

// Sentinel errors. They are *types.Error values so both errors.Is and
// types.GetErrorCode work on anything wrapped with %w.
var (
	// ErrMalformedMessage 批次中的某条消息无法解码
	ErrMalformedMessage = types.NewError(types.ErrMalformedMessage, "lsp: malformed message")

	// ErrProtocolViolation 客户端与服务端契约不一致
	ErrProtocolViolation = types.NewError(types.ErrProtocolViolation, "lsp: protocol violation")

	// ErrRequestTimeout 请求在截止前未被响应
	ErrRequestTimeout = types.NewError(types.ErrTimeout, "lsp: request timed out")

	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = types.NewError(types.ErrSessionClosed, "lsp: session closed")

	// errDuplicateID 生成的 id 与在途请求冲突
	errDuplicateID = types.NewError(types.ErrProtocolViolation, "lsp: duplicate request id")
)

// ResponseError 是 JSON-RPC 响应中的 error 对象。
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("lsp error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeRequestCancelled = -32800
	CodeContentModified  = -32801
)
