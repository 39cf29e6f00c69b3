package editor

import (
	"fmt"
	"slices"
	"strings"

	"github.com/BaSui01/formulabar/lsp"
)

// Position 编辑框位置，行列都从 1 开始
type Position struct {
	LineNumber int `json:"lineNumber"`
	Column     int `json:"column"`
}

// toLSP 转换为从 0 开始的 LSP 行列
func (p Position) toLSP() (line, column int) {
	return p.LineNumber - 1, p.Column - 1
}

// WordAtPosition 光标处的单词
type WordAtPosition struct {
	Word        string `json:"word"`
	StartColumn int    `json:"startColumn"`
	EndColumn   int    `json:"endColumn"`
}

// WordAt 找出 text 中 pos 处（光标之前）的标识符单词，没有时返回 nil
func WordAt(text string, pos Position) *WordAtPosition {
	lines := strings.Split(text, "\n")
	if pos.LineNumber < 1 || pos.LineNumber > len(lines) {
		return nil
	}
	line := []rune(lines[pos.LineNumber-1])
	idx := pos.Column - 1
	if idx < 0 || idx > len(line) {
		return nil
	}

	start := idx
	for start > 0 && isWordRune(line[start-1]) {
		start--
	}
	end := idx
	for end < len(line) && isWordRune(line[end]) {
		end++
	}
	if start == end {
		return nil
	}
	return &WordAtPosition{
		Word:        string(line[start:end]),
		StartColumn: start + 1,
		EndColumn:   end + 1,
	}
}

func isWordRune(r rune) bool {
	return r == '_' || r == '\'' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
		r > 0x7f
}

// Range 编辑框范围
type Range struct {
	StartLineNumber int `json:"startLineNumber"`
	StartColumn     int `json:"startColumn"`
	EndLineNumber   int `json:"endLineNumber"`
	EndColumn       int `json:"endColumn"`
}

// =============================================================================
// 💡 Completion
// =============================================================================

// TriggerKind 编辑框的补全触发方式
type TriggerKind int

const (
	TriggerInvoke TriggerKind = iota
	TriggerCharacter
	TriggerForIncompleteCompletions
)

var triggerKinds = map[TriggerKind]lsp.CompletionTriggerKind{
	TriggerInvoke:                   lsp.TriggerInvoked,
	TriggerCharacter:                lsp.TriggerCharacter,
	TriggerForIncompleteCompletions: lsp.TriggerForIncompleteCompletions,
}

// LSPTriggerKind 转换触发方式，未知值返回 lsp.ErrProtocolViolation
func LSPTriggerKind(k TriggerKind) (lsp.CompletionTriggerKind, error) {
	if v, ok := triggerKinds[k]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: unknown trigger kind %d", lsp.ErrProtocolViolation, k)
}

// CompletionKind 编辑框中补全项的图标类型
type CompletionKind string

const (
	KindMethod        CompletionKind = "method"
	KindFunction      CompletionKind = "function"
	KindConstructor   CompletionKind = "constructor"
	KindField         CompletionKind = "field"
	KindVariable      CompletionKind = "variable"
	KindClass         CompletionKind = "class"
	KindStruct        CompletionKind = "struct"
	KindInterface     CompletionKind = "interface"
	KindModule        CompletionKind = "module"
	KindProperty      CompletionKind = "property"
	KindEvent         CompletionKind = "event"
	KindOperator      CompletionKind = "operator"
	KindUnit          CompletionKind = "unit"
	KindValue         CompletionKind = "value"
	KindConstant      CompletionKind = "constant"
	KindEnum          CompletionKind = "enum"
	KindEnumMember    CompletionKind = "enumMember"
	KindKeyword       CompletionKind = "keyword"
	KindText          CompletionKind = "text"
	KindColor         CompletionKind = "color"
	KindFile          CompletionKind = "file"
	KindReference     CompletionKind = "reference"
	KindFolder        CompletionKind = "folder"
	KindTypeParameter CompletionKind = "typeParameter"
	KindSnippet       CompletionKind = "snippet"
)

var completionKinds = map[lsp.CompletionItemKind]CompletionKind{
	lsp.CompletionText:          KindText,
	lsp.CompletionMethod:        KindMethod,
	lsp.CompletionFunction:      KindFunction,
	lsp.CompletionConstructor:   KindConstructor,
	lsp.CompletionField:         KindField,
	lsp.CompletionVariable:      KindVariable,
	lsp.CompletionClass:         KindClass,
	lsp.CompletionInterface:     KindInterface,
	lsp.CompletionModule:        KindModule,
	lsp.CompletionProperty:      KindProperty,
	lsp.CompletionUnit:          KindUnit,
	lsp.CompletionValue:         KindValue,
	lsp.CompletionEnum:          KindEnum,
	lsp.CompletionKeyword:       KindKeyword,
	lsp.CompletionSnippet:       KindSnippet,
	lsp.CompletionColor:         KindColor,
	lsp.CompletionFile:          KindFile,
	lsp.CompletionReference:     KindReference,
	lsp.CompletionFolder:        KindFolder,
	lsp.CompletionEnumMember:    KindEnumMember,
	lsp.CompletionConstant:      KindConstant,
	lsp.CompletionStruct:        KindStruct,
	lsp.CompletionEvent:         KindEvent,
	lsp.CompletionOperator:      KindOperator,
	lsp.CompletionTypeParameter: KindTypeParameter,
}

// EditorCompletionKind 映射补全项类型，未知时为 KindMethod
func EditorCompletionKind(k lsp.CompletionItemKind) CompletionKind {
	if v, ok := completionKinds[k]; ok {
		return v
	}
	return KindMethod
}

// Suggestion 编辑框补全建议
type Suggestion struct {
	Label         string         `json:"label"`
	Kind          CompletionKind `json:"kind"`
	Detail        string         `json:"detail,omitempty"`
	Documentation string         `json:"documentation,omitempty"`
	Range         Range          `json:"range"`
	InsertText    string         `json:"insertText"`
}

// CompletionResult 补全结果，带有请求时的文本与位置，调用方据此丢弃过期结果
type CompletionResult struct {
	Suggestions []Suggestion `json:"suggestions"`
	Incomplete  bool         `json:"incomplete"`

	Text     string   `json:"-"`
	Position Position `json:"-"`
}

// suggestionRange 光标处有单词时替换该单词，否则是光标处的空范围
func suggestionRange(pos Position, word *WordAtPosition) Range {
	if word != nil {
		return Range{
			StartLineNumber: pos.LineNumber,
			StartColumn:     word.StartColumn,
			EndLineNumber:   pos.LineNumber,
			EndColumn:       word.EndColumn,
		}
	}
	return Range{
		StartLineNumber: pos.LineNumber,
		StartColumn:     pos.Column,
		EndLineNumber:   pos.LineNumber,
		EndColumn:       pos.Column,
	}
}

// ConvertCompletion 把 LSP 补全列表转换为编辑框建议
func ConvertCompletion(list lsp.CompletionList, pos Position, word *WordAtPosition) []Suggestion {
	rng := suggestionRange(pos, word)
	out := make([]Suggestion, 0, len(list.Items))
	for _, item := range list.Items {
		s := Suggestion{
			Label:      item.Label,
			Kind:       EditorCompletionKind(item.Kind),
			Detail:     item.Detail,
			Range:      rng,
			InsertText: item.Label,
		}
		if item.Documentation != nil {
			s.Documentation = item.Documentation.Value
		}
		out = append(out, s)
	}
	return out
}

// =============================================================================
// 🩺 Diagnostics
// =============================================================================

// MarkerSeverity 诊断标记严重性
type MarkerSeverity int

const (
	MarkerHint    MarkerSeverity = 1
	MarkerInfo    MarkerSeverity = 2
	MarkerWarning MarkerSeverity = 4
	MarkerError   MarkerSeverity = 8
)

var markerSeverities = map[lsp.DiagnosticSeverity]MarkerSeverity{
	lsp.SeverityError:       MarkerError,
	lsp.SeverityWarning:     MarkerWarning,
	lsp.SeverityInformation: MarkerInfo,
	lsp.SeverityHint:        MarkerHint,
}

// EditorMarkerSeverity 映射严重性，未指定或未知时为 MarkerError
func EditorMarkerSeverity(s lsp.DiagnosticSeverity) MarkerSeverity {
	if v, ok := markerSeverities[s]; ok {
		return v
	}
	return MarkerError
}

// Marker 编辑框诊断标记
type Marker struct {
	Severity        MarkerSeverity `json:"severity"`
	Message         string         `json:"message"`
	StartLineNumber int            `json:"startLineNumber"`
	StartColumn     int            `json:"startColumn"`
	EndLineNumber   int            `json:"endLineNumber"`
	EndColumn       int            `json:"endColumn"`
}

// ConvertDiagnostics 把诊断转换为标记。结束字符包含在范围内，所以 EndColumn 加一。
func ConvertDiagnostics(diags []lsp.Diagnostic) []Marker {
	out := make([]Marker, 0, len(diags))
	for _, d := range diags {
		out = append(out, Marker{
			Severity:        EditorMarkerSeverity(d.Severity),
			Message:         d.Message,
			StartLineNumber: d.Range.Start.Line,
			StartColumn:     d.Range.Start.Character,
			EndLineNumber:   d.Range.End.Line,
			EndColumn:       d.Range.End.Character + 1,
		})
	}
	return out
}

// =============================================================================
// 🖍️ Highlighted names
// =============================================================================

// NameKind 高亮名称类型
type NameKind int

const (
	NameHostSymbol NameKind = iota
	NameVariable
	NameFunction
)

func (k NameKind) String() string {
	switch k {
	case NameHostSymbol:
		return "hostSymbol"
	case NameVariable:
		return "variable"
	case NameFunction:
		return "function"
	default:
		return "unknown"
	}
}

var nameKinds = map[lsp.TokenResultType]NameKind{
	lsp.TokenFunction:   NameFunction,
	lsp.TokenVariable:   NameVariable,
	lsp.TokenHostSymbol: NameHostSymbol,
}

// HighlightedName 需要在编辑框中高亮的名称
type HighlightedName struct {
	Name string   `json:"name"`
	Kind NameKind `json:"kind"`
}

// ConvertTokens 把标识符分类转换为高亮名称，按名称排序，未知分类被丢弃
func ConvertTokens(tokens map[string]lsp.TokenResultType) []HighlightedName {
	out := make([]HighlightedName, 0, len(tokens))
	for name, t := range tokens {
		if kind, ok := nameKinds[t]; ok {
			out = append(out, HighlightedName{Name: name, Kind: kind})
		}
	}
	slices.SortFunc(out, func(a, b HighlightedName) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// =============================================================================
// ✍️ Signature help
// =============================================================================

// Signature 编辑框签名
type Signature struct {
	Label           string                     `json:"label"`
	Documentation   string                     `json:"documentation,omitempty"`
	Parameters      []lsp.ParameterInformation `json:"parameters"`
	ActiveParameter *int                       `json:"activeParameter,omitempty"`
}

// SignatureResult 编辑框签名帮助
type SignatureResult struct {
	Signatures      []Signature `json:"signatures"`
	ActiveSignature int         `json:"activeSignature"`
	ActiveParameter int         `json:"activeParameter"`
}

// NoSignature 没有可显示签名时的结果
func NoSignature() SignatureResult {
	return SignatureResult{Signatures: []Signature{}}
}

// ConvertSignatureHelp 转换签名帮助，没有签名时返回 NoSignature
func ConvertSignatureHelp(help lsp.SignatureHelp) SignatureResult {
	if len(help.Signatures) == 0 {
		return NoSignature()
	}
	out := SignatureResult{
		Signatures:      make([]Signature, 0, len(help.Signatures)),
		ActiveSignature: help.ActiveSignature,
		ActiveParameter: help.ActiveParameter,
	}
	for _, s := range help.Signatures {
		sig := Signature{
			Label:           s.Label,
			Parameters:      s.Parameters,
			ActiveParameter: s.ActiveParameter,
		}
		if sig.Parameters == nil {
			sig.Parameters = []lsp.ParameterInformation{}
		}
		if s.Documentation != nil {
			sig.Documentation = s.Documentation.Value
		}
		out.Signatures = append(out.Signatures, sig)
	}
	return out
}
