package editor

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/formulabar/config"
	"github.com/BaSui01/formulabar/eval"
	"github.com/BaSui01/formulabar/lsp"
)

// LanguageClient 编辑框依赖的会话能力，*lsp.Session 实现了它
type LanguageClient interface {
	NotifyDocumentOpened(ctx context.Context, content string) error
	ChangeDocument(ctx context.Context, content string) (int, error)
	RequestCompletion(ctx context.Context, text string, line, column int, triggerKind lsp.CompletionTriggerKind, triggerChar string) (lsp.CompletionList, error)
	RequestSignatureHelp(ctx context.Context, text string, line, column int) (lsp.SignatureHelp, error)
	SetParameters(p string)
	OnDiagnostics(fn func(lsp.PublishDiagnosticsParams)) *lsp.Subscription
	OnTokens(fn func(lsp.PublishTokensParams)) *lsp.Subscription
	OnExpressionType(fn func(lsp.PublishExpressionTypeParams)) *lsp.Subscription
}

// Evaluator 对表达式求值，*eval.Client 实现了它
type Evaluator interface {
	Evaluate(ctx context.Context, formulaContext, expression string) (eval.Result, error)
}

// Features 编辑框的 LSP 功能开关
type Features struct {
	DisableDidOpen      bool
	DisableDidChange    bool
	DisableCompletion   bool
	EnableSignatureHelp bool
}

// FeaturesFromConfig 从配置读取功能开关
func FeaturesFromConfig(c config.EditorConfig) Features {
	return Features{
		DisableDidOpen:      c.DisableDidOpen,
		DisableDidChange:    c.DisableDidChange,
		DisableCompletion:   c.DisableCompletion,
		EnableSignatureHelp: c.EnableSignatureHelp,
	}
}

// State 对宿主输出的编辑状态
type State struct {
	Formula        string `json:"formula"`
	FormulaContext string `json:"formulaContext"`
	Parameters     string `json:"parameters,omitempty"`
	EvaluateValue  string `json:"evaluateValue,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Option 配置 Editor
type Option func(*Editor)

// WithFeatures 设置功能开关
func WithFeatures(f Features) Option {
	return func(e *Editor) { e.features = f }
}

// WithEvaluator 设置求值器，未设置时不求值
func WithEvaluator(ev Evaluator) Option {
	return func(e *Editor) { e.evaluator = ev }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(e *Editor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithFormulaContext 设置公式上下文
func WithFormulaContext(formulaContext string) Option {
	return func(e *Editor) { e.state.FormulaContext = formulaContext }
}

// OnStateChanged 编辑状态变化时回调
func OnStateChanged(fn func(State)) Option {
	return func(e *Editor) { e.onState = fn }
}

// OnMarkersChanged 诊断标记变化时回调
func OnMarkersChanged(fn func([]Marker)) Option {
	return func(e *Editor) { e.onMarkers = fn }
}

// OnNamesChanged 高亮名称变化时回调
func OnNamesChanged(fn func([]HighlightedName)) Option {
	return func(e *Editor) { e.onNames = fn }
}

// Editor 公式编辑框控制器
type Editor struct {
	client    LanguageClient
	evaluator Evaluator
	features  Features
	logger    *zap.Logger

	onState   func(State)
	onMarkers func([]Marker)
	onNames   func([]HighlightedName)

	mu       sync.RWMutex
	state    State
	markers  []Marker
	names    []HighlightedName
	lookup   map[string]string
	exprType json.RawMessage
	subs     []*lsp.Subscription
}

// New 创建编辑框控制器
func New(client LanguageClient, opts ...Option) *Editor {
	e := &Editor{
		client:  client,
		logger:  zap.NewNop(),
		markers: []Marker{},
		names:   []HighlightedName{},
		lookup:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "formula_editor"))
	return e
}

// Mount 订阅推送并打开文档，内容非空时求值。didOpen 失败只记录日志。
func (e *Editor) Mount(ctx context.Context, content string) {
	e.mu.Lock()
	e.state.Formula = content
	if len(e.subs) == 0 {
		e.subs = append(e.subs,
			e.client.OnDiagnostics(e.handleDiagnostics),
			e.client.OnTokens(e.handleTokens),
			e.client.OnExpressionType(e.handleExpressionType),
		)
	}
	e.mu.Unlock()

	if !e.features.DisableDidOpen {
		if err := e.client.NotifyDocumentOpened(ctx, content); err != nil {
			e.logger.Warn("didOpen failed", zap.Error(err))
		}
	}
	if content != "" {
		e.evaluate(ctx, content)
	}
}

// Unmount 释放推送订阅
func (e *Editor) Unmount() {
	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	for _, s := range subs {
		s.Release()
	}
}

// Change 编辑内容变化：更新状态，发送 didChange，然后求值
func (e *Editor) Change(ctx context.Context, content string) {
	e.mu.Lock()
	e.state.Formula = content
	state := e.state
	e.mu.Unlock()
	e.emitState(state)

	if !e.features.DisableDidChange {
		if _, err := e.client.ChangeDocument(ctx, content); err != nil {
			e.logger.Warn("didChange failed", zap.Error(err))
		}
	}
	e.evaluate(ctx, content)
}

// SetParameters 更新参数字符串并同步到会话
func (e *Editor) SetParameters(p string) {
	e.mu.Lock()
	e.state.Parameters = p
	e.mu.Unlock()
	e.client.SetParameters(p)
}

// SetFormulaContext 更新公式上下文
func (e *Editor) SetFormulaContext(formulaContext string) {
	e.mu.Lock()
	e.state.FormulaContext = formulaContext
	e.mu.Unlock()
}

// ProvideCompletion 请求 pos 处的补全。word 为 nil 时结果标记为不完整。
func (e *Editor) ProvideCompletion(ctx context.Context, text string, pos Position, word *WordAtPosition, kind TriggerKind, triggerChar string) (CompletionResult, error) {
	result := CompletionResult{Suggestions: []Suggestion{}, Text: text, Position: pos}
	if e.features.DisableCompletion {
		return result, nil
	}

	trigger, err := LSPTriggerKind(kind)
	if err != nil {
		return result, err
	}

	line, column := pos.toLSP()
	list, err := e.client.RequestCompletion(ctx, text, line, column, trigger, triggerChar)
	if err != nil {
		return result, err
	}

	result.Suggestions = ConvertCompletion(list, pos, word)
	result.Incomplete = word == nil

	e.mu.Lock()
	for _, s := range result.Suggestions {
		e.lookup[strings.ToLower(s.Label)] = s.Label
	}
	e.mu.Unlock()
	return result, nil
}

// ProvideSignatureHelp 请求 pos 处的签名帮助，未启用时返回 NoSignature
func (e *Editor) ProvideSignatureHelp(ctx context.Context, text string, pos Position) (SignatureResult, error) {
	if !e.features.EnableSignatureHelp {
		return NoSignature(), nil
	}
	line, column := pos.toLSP()
	help, err := e.client.RequestSignatureHelp(ctx, text, line, column)
	if err != nil {
		return NoSignature(), err
	}
	return ConvertSignatureHelp(help), nil
}

// Evaluate 对表达式求值并更新状态；传输失败时状态不变
func (e *Editor) Evaluate(ctx context.Context, expression string) (State, error) {
	if e.evaluator == nil {
		return e.State(), nil
	}

	e.mu.RLock()
	formulaContext := e.state.FormulaContext
	e.mu.RUnlock()

	res, err := e.evaluator.Evaluate(ctx, formulaContext, expression)
	if err != nil {
		return e.State(), err
	}

	e.mu.Lock()
	e.state.EvaluateValue = ""
	e.state.Error = ""
	if res.Value != "" {
		e.state.EvaluateValue = res.Value
	} else if res.Error != "" {
		e.state.Error = res.Error
	}
	state := e.state
	e.mu.Unlock()

	e.emitState(state)
	return state, nil
}

func (e *Editor) evaluate(ctx context.Context, expression string) {
	if _, err := e.Evaluate(ctx, expression); err != nil {
		e.logger.Debug("evaluation skipped", zap.Error(err))
	}
}

func (e *Editor) emitState(s State) {
	if e.onState != nil {
		e.onState(s)
	}
}

// State 返回当前编辑状态
func (e *Editor) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Markers 返回最近一次诊断的标记
func (e *Editor) Markers() []Marker {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Marker(nil), e.markers...)
}

// HighlightedNames 返回最近一次推送的高亮名称
func (e *Editor) HighlightedNames() []HighlightedName {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]HighlightedName(nil), e.names...)
}

// ExpressionType 返回最近一次推送的表达式类型
func (e *Editor) ExpressionType() json.RawMessage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exprType
}

// NormalizeName 把任意大小写的名称还原为补全或标识符推送中见过的写法
func (e *Editor) NormalizeName(name string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.lookup[strings.ToLower(name)]
	return v, ok
}

// NormalizedCompletionLookup 返回小写名称 → 原始名称的副本
func (e *Editor) NormalizedCompletionLookup() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.lookup))
	for k, v := range e.lookup {
		out[k] = v
	}
	return out
}

func (e *Editor) handleDiagnostics(p lsp.PublishDiagnosticsParams) {
	markers := ConvertDiagnostics(p.Diagnostics)
	e.mu.Lock()
	e.markers = markers
	e.mu.Unlock()
	if e.onMarkers != nil {
		e.onMarkers(markers)
	}
}

func (e *Editor) handleTokens(p lsp.PublishTokensParams) {
	names := ConvertTokens(p.Tokens)
	e.mu.Lock()
	for name := range p.Tokens {
		e.lookup[strings.ToLower(name)] = name
	}
	e.names = names
	e.mu.Unlock()
	if e.onNames != nil {
		e.onNames(names)
	}
}

func (e *Editor) handleExpressionType(p lsp.PublishExpressionTypeParams) {
	e.mu.Lock()
	e.exprType = p.Type
	e.mu.Unlock()
}
