package lsp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// 公式语言服务使用的 LSP 方法
const (
	MethodDidOpen               = "textDocument/didOpen"
	MethodDidChange             = "textDocument/didChange"
	MethodCompletion            = "textDocument/completion"
	MethodSignatureHelp         = "textDocument/signatureHelp"
	MethodPublishDiagnostics    = "textDocument/publishDiagnostics"
	MethodPublishTokens         = "$/publishTokens"
	MethodPublishExpressionType = "$/publishExpressionType"
)

// InitialVersion 是 didOpen 携带的文档版本
const InitialVersion = 1

// DefaultLanguageID didOpen 中的 languageId
const DefaultLanguageID = "powerfx"

// Position 文档位置
type Position struct {
	Line      int `json:"line"`      // 行号（从 0 开始）
	Character int `json:"character"` // 列号（从 0 开始）
}

// Range 文档范围
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// DiagnosticSeverity 诊断严重性，0 表示服务端未指定
type DiagnosticSeverity int

const (
	SeverityError       DiagnosticSeverity = 1
	SeverityWarning     DiagnosticSeverity = 2
	SeverityInformation DiagnosticSeverity = 3
	SeverityHint        DiagnosticSeverity = 4
)

// Effective 返回实际生效的严重性，未指定或未知时按错误处理
func (s DiagnosticSeverity) Effective() DiagnosticSeverity {
	if s < SeverityError || s > SeverityHint {
		return SeverityError
	}
	return s
}

func (s DiagnosticSeverity) String() string {
	switch s.Effective() {
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return "error"
	}
}

// Diagnostic 诊断信息
type Diagnostic struct {
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity,omitempty"`
	Code     json.RawMessage    `json:"code,omitempty"`
	Source   string             `json:"source,omitempty"`
	Message  string             `json:"message"`
}

// PublishDiagnosticsParams textDocument/publishDiagnostics 参数
type PublishDiagnosticsParams struct {
	URI         string       `json:"uri"`
	Version     *int         `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// TokenResultType 服务端对标识符的分类
type TokenResultType int

const (
	TokenFunction   TokenResultType = 0
	TokenVariable   TokenResultType = 1
	TokenHostSymbol TokenResultType = 2
)

// Valid 报告分类是否已知
func (t TokenResultType) Valid() bool {
	return t >= TokenFunction && t <= TokenHostSymbol
}

// PublishTokensParams $/publishTokens 参数：标识符名 → 分类
type PublishTokensParams struct {
	URI    string                     `json:"uri"`
	Tokens map[string]TokenResultType `json:"tokens"`
}

// PublishExpressionTypeParams $/publishExpressionType 参数，类型描述保持原样
type PublishExpressionTypeParams struct {
	URI  string          `json:"uri"`
	Type json.RawMessage `json:"type"`
}

// TextDocumentIdentifier 文本文档标识
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// VersionedTextDocumentIdentifier 版本化文档标识
type VersionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

// TextDocumentItem 文档内容
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// DidOpenTextDocumentParams 文档打开参数
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// TextDocumentContentChangeEvent 全量文本变更
type TextDocumentContentChangeEvent struct {
	Text string `json:"text"`
}

// DidChangeTextDocumentParams 文档变更参数
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// CompletionTriggerKind 补全触发方式
type CompletionTriggerKind int

const (
	TriggerInvoked                  CompletionTriggerKind = 1
	TriggerCharacter                CompletionTriggerKind = 2
	TriggerForIncompleteCompletions CompletionTriggerKind = 3
)

// Valid 报告触发方式是否为协议定义的值
func (k CompletionTriggerKind) Valid() bool {
	return k >= TriggerInvoked && k <= TriggerForIncompleteCompletions
}

// CompletionContext 补全上下文
type CompletionContext struct {
	TriggerKind      CompletionTriggerKind `json:"triggerKind"`
	TriggerCharacter string                `json:"triggerCharacter,omitempty"`
}

// CompletionParams 补全参数。公式服务不维护文档同步状态，所以同时携带全文。
type CompletionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Text         string                 `json:"text"`
	Position     Position               `json:"position"`
	Context      CompletionContext      `json:"context"`
}

// CompletionItemKind LSP 补全项类型
type CompletionItemKind int

const (
	CompletionText          CompletionItemKind = 1
	CompletionMethod        CompletionItemKind = 2
	CompletionFunction      CompletionItemKind = 3
	CompletionConstructor   CompletionItemKind = 4
	CompletionField         CompletionItemKind = 5
	CompletionVariable      CompletionItemKind = 6
	CompletionClass         CompletionItemKind = 7
	CompletionInterface     CompletionItemKind = 8
	CompletionModule        CompletionItemKind = 9
	CompletionProperty      CompletionItemKind = 10
	CompletionUnit          CompletionItemKind = 11
	CompletionValue         CompletionItemKind = 12
	CompletionEnum          CompletionItemKind = 13
	CompletionKeyword       CompletionItemKind = 14
	CompletionSnippet       CompletionItemKind = 15
	CompletionColor         CompletionItemKind = 16
	CompletionFile          CompletionItemKind = 17
	CompletionReference     CompletionItemKind = 18
	CompletionFolder        CompletionItemKind = 19
	CompletionEnumMember    CompletionItemKind = 20
	CompletionConstant      CompletionItemKind = 21
	CompletionStruct        CompletionItemKind = 22
	CompletionEvent         CompletionItemKind = 23
	CompletionOperator      CompletionItemKind = 24
	CompletionTypeParameter CompletionItemKind = 25
)

// MarkupContent 文档说明，服务端可能发送纯字符串或 {kind, value}
type MarkupContent struct {
	Kind  string `json:"kind,omitempty"`
	Value string `json:"value"`
}

// UnmarshalJSON 同时接受字符串与对象形式
func (m *MarkupContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		m.Kind = ""
		return json.Unmarshal(data, &m.Value)
	}
	type plain MarkupContent
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = MarkupContent(p)
	return nil
}

// MarshalJSON 无 kind 时输出纯字符串
func (m MarkupContent) MarshalJSON() ([]byte, error) {
	if m.Kind == "" {
		return json.Marshal(m.Value)
	}
	type plain MarkupContent
	return json.Marshal(plain(m))
}

// CompletionItem 补全项
type CompletionItem struct {
	Label         string             `json:"label"`
	Kind          CompletionItemKind `json:"kind,omitempty"`
	Detail        string             `json:"detail,omitempty"`
	Documentation *MarkupContent     `json:"documentation,omitempty"`
	SortText      string             `json:"sortText,omitempty"`
	InsertText    string             `json:"insertText,omitempty"`
}

// CompletionList 补全结果
type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// UnmarshalJSON 接受 CompletionList、CompletionItem[] 或 null
func (l *CompletionList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*l = CompletionList{Items: []CompletionItem{}}
		return nil
	case data[0] == '[':
		var items []CompletionItem
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = CompletionList{Items: items}
		return nil
	case data[0] == '{':
		type plain CompletionList
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if p.Items == nil {
			p.Items = []CompletionItem{}
		}
		*l = CompletionList(p)
		return nil
	default:
		return fmt.Errorf("unexpected completion result %q", snippet(data))
	}
}

// SignatureHelpTriggerKind 签名帮助触发方式
type SignatureHelpTriggerKind int

const (
	SignatureHelpInvoked SignatureHelpTriggerKind = 1
)

// SignatureHelpContext 签名帮助上下文
type SignatureHelpContext struct {
	TriggerKind SignatureHelpTriggerKind `json:"triggerKind"`
	IsRetrigger bool                     `json:"isRetrigger"`
}

// SignatureHelpParams 签名帮助参数
type SignatureHelpParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Text         string                 `json:"text"`
	Position     Position               `json:"position"`
	Context      SignatureHelpContext   `json:"context"`
}

// ParameterInformation 参数信息
type ParameterInformation struct {
	Label         string         `json:"label"`
	Documentation *MarkupContent `json:"documentation,omitempty"`
}

// SignatureInformation 签名信息
type SignatureInformation struct {
	Label           string                 `json:"label"`
	Documentation   *MarkupContent         `json:"documentation,omitempty"`
	Parameters      []ParameterInformation `json:"parameters,omitempty"`
	ActiveParameter *int                   `json:"activeParameter,omitempty"`
}

// SignatureHelp 签名帮助结果
type SignatureHelp struct {
	Signatures      []SignatureInformation `json:"signatures"`
	ActiveSignature int                    `json:"activeSignature"`
	ActiveParameter int                    `json:"activeParameter"`
}

// EmptySignatureHelp 是失败时返回的空签名结果
func EmptySignatureHelp() SignatureHelp {
	return SignatureHelp{Signatures: []SignatureInformation{}}
}

// UnmarshalJSON 把 null 视为空签名
func (h *SignatureHelp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*h = EmptySignatureHelp()
		return nil
	}
	type plain SignatureHelp
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Signatures == nil {
		p.Signatures = []SignatureInformation{}
	}
	*h = SignatureHelp(p)
	return nil
}

func snippet(data []byte) string {
	const max = 64
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
