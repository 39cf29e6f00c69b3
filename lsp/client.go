package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/formulabar/internal/ctxkeys"
	"github.com/BaSui01/formulabar/internal/transport"
	"github.com/BaSui01/formulabar/types"
)

// Sender 是会话依赖的传输抽象
type Sender = transport.Sender

// Operation 传输操作名
type Operation = transport.Operation

// Observer 接收会话内部事件，用于指标采集
type Observer interface {
	// ObserveInbound 每条入站消息调用一次，kind 为 request/response/notification/malformed
	ObserveInbound(kind string)
	// ObserveFailOpen 请求失败并被转换为空结果时调用
	ObserveFailOpen(method, reason string)
	// ObservePending 每次往返结束后报告在途请求数
	ObservePending(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveInbound(string)          {}
func (nopObserver) ObserveFailOpen(string, string) {}
func (nopObserver) ObservePending(int)             {}

const (
	defaultRequestTimeout       = 10 * time.Second
	defaultMaxPendingRoundTrips = 3
	defaultFormulaType          = 1
	maxIDAttempts               = 3
)

// SessionOption 会话配置项
type SessionOption func(*Session)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver 设置事件观察者
func WithObserver(o Observer) SessionOption {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithIDGenerator 替换请求 id 生成器（默认 UUIDv4）
func WithIDGenerator(gen func() string) SessionOption {
	return func(s *Session) {
		if gen != nil {
			s.nextID = gen
		}
	}
}

// WithFormulaType 设置请求体中的 FormulaType
func WithFormulaType(t int) SessionOption {
	return func(s *Session) {
		if t > 0 {
			s.formulaType = t
		}
	}
}

// WithLanguageID 设置 didOpen 的 languageId
func WithLanguageID(id string) SessionOption {
	return func(s *Session) {
		if id != "" {
			s.languageID = id
		}
	}
}

// WithRequestTimeout 设置单个请求的墙钟超时，0 表示只依赖往返计数
func WithRequestTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d >= 0 {
			s.requestTimeout = d
		}
	}
}

// WithMaxPendingRoundTrips 设置请求最多等待的往返次数（含自身那次）
func WithMaxPendingRoundTrips(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxPendingRounds = n
		}
	}
}

// WithParameters 设置初始参数字符串
func WithParameters(p string) SessionOption {
	return func(s *Session) {
		s.parameters = p
	}
}

// Session 把请求/响应式的 HTTP 通道变成一个公式语言服务会话。
// 服务端推送随每次响应批量返回，由 ProcessBatch 逐条处理。
//
// 文档锁覆盖版本分配与发送；响应批次在释放锁之后处理，监听者可以再次变更文档。
type Session struct {
	sender   Sender
	endpoint string
	doc      *Document

	pending    *pendingTable
	dispatcher *Dispatcher
	logger     *zap.Logger
	observer   Observer
	nextID     func() string

	formulaType      int
	languageID       string
	requestTimeout   time.Duration
	maxPendingRounds int

	paramsMu   sync.RWMutex
	parameters string

	rounds atomic.Uint64
	closed atomic.Bool
}

// NewSession 创建会话。uri 对会话不透明，由调用方构造。
func NewSession(sender Sender, endpoint, uri string, opts ...SessionOption) (*Session, error) {
	if sender == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "lsp: sender is required")
	}
	if endpoint == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "lsp: endpoint is required")
	}
	if uri == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "lsp: document uri is required")
	}

	s := &Session{
		sender:           sender,
		endpoint:         endpoint,
		doc:              newDocument(uri),
		pending:          newPendingTable(),
		logger:           zap.NewNop(),
		observer:         nopObserver{},
		nextID:           uuid.NewString,
		formulaType:      defaultFormulaType,
		languageID:       DefaultLanguageID,
		requestTimeout:   defaultRequestTimeout,
		maxPendingRounds: defaultMaxPendingRoundTrips,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "lsp_session"), zap.String("uri", uri))
	s.dispatcher = NewDispatcher(s.logger)
	return s, nil
}

// Document 返回会话文档
func (s *Session) Document() *Document { return s.doc }

// Dispatcher 返回推送分发器，用于订阅原始参数
func (s *Session) Dispatcher() *Dispatcher { return s.dispatcher }

// SetParameters 设置随每次发送附带的参数字符串，空串表示不附带
func (s *Session) SetParameters(p string) {
	s.paramsMu.Lock()
	s.parameters = p
	s.paramsMu.Unlock()
}

// Parameters 返回当前参数字符串
func (s *Session) Parameters() string {
	s.paramsMu.RLock()
	defer s.paramsMu.RUnlock()
	return s.parameters
}

// PendingCount 返回在途请求数
func (s *Session) PendingCount() int { return s.pending.len() }

// Close 关闭会话，所有在途请求以 ErrSessionClosed 结束
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if n := s.pending.drain(ErrSessionClosed); n > 0 {
		s.logger.Debug("dropped pending requests on close", zap.Int("count", n))
	}
	s.observer.ObservePending(0)
}

// =============================================================================
// 📄 Document notifications
// =============================================================================

// NotifyDocumentOpened 发送 textDocument/didOpen，文档版本重置为 1
func (s *Session) NotifyDocumentOpened(ctx context.Context, content string) error {
	return s.mutate(ctx, MethodDidOpen, func() (any, error) {
		s.doc.set(InitialVersion, content)
		return DidOpenTextDocumentParams{
			TextDocument: TextDocumentItem{
				URI:        s.doc.uri,
				LanguageID: s.languageID,
				Version:    InitialVersion,
				Text:       content,
			},
		}, nil
	})
}

// NotifyDocumentChanged 发送 textDocument/didChange。version 必须等于上次发送的版本加一，
// 否则不发送并返回 ErrProtocolViolation。
func (s *Session) NotifyDocumentChanged(ctx context.Context, content string, version int) error {
	return s.mutate(ctx, MethodDidChange, func() (any, error) {
		if want := s.doc.version + 1; version != want {
			return nil, fmt.Errorf("%w: didChange version %d, expected %d", ErrProtocolViolation, version, want)
		}
		return s.changeParams(content, version), nil
	})
}

// ChangeDocument 分配下一个版本并发送 didChange，返回使用的版本
func (s *Session) ChangeDocument(ctx context.Context, content string) (int, error) {
	var version int
	err := s.mutate(ctx, MethodDidChange, func() (any, error) {
		version = s.doc.version + 1
		return s.changeParams(content, version), nil
	})
	return version, err
}

// changeParams 必须在持有文档锁时调用。版本在发送前递增，发送失败也不回退。
func (s *Session) changeParams(content string, version int) DidChangeTextDocumentParams {
	s.doc.set(version, content)
	return DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{URI: s.doc.uri, Version: version},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: content}},
	}
}

// mutate 在文档锁内执行 prepare 并发送通知，释放锁后再处理响应批次
func (s *Session) mutate(ctx context.Context, method string, prepare func() (any, error)) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.doc.mu.Lock()
	params, err := prepare()
	var batch []string
	if err == nil {
		batch, err = s.notify(ctx, method, params)
	}
	s.doc.mu.Unlock()

	if err != nil {
		return err
	}
	s.absorb(batch, "")
	return nil
}

// =============================================================================
// 💡 Requests
// =============================================================================

// RequestCompletion 请求补全。传输失败、服务端错误、取消与超时都返回空列表且 error 为 nil；
// 只有非法触发方式或无法解析的结果返回 ErrProtocolViolation。
func (s *Session) RequestCompletion(ctx context.Context, text string, line, column int, triggerKind CompletionTriggerKind, triggerChar string) (CompletionList, error) {
	empty := CompletionList{Items: []CompletionItem{}}
	if !triggerKind.Valid() {
		return empty, fmt.Errorf("%w: completion trigger kind %d", ErrProtocolViolation, triggerKind)
	}

	params := CompletionParams{
		TextDocument: TextDocumentIdentifier{URI: s.doc.uri},
		Text:         text,
		Position:     Position{Line: line, Character: column},
		Context:      CompletionContext{TriggerKind: triggerKind},
	}
	if triggerKind == TriggerCharacter {
		params.Context.TriggerCharacter = triggerChar
	}

	raw, err := s.request(ctx, MethodCompletion, params)
	if err != nil {
		s.failOpen(MethodCompletion, err)
		return empty, nil
	}

	var list CompletionList
	if err := json.Unmarshal(raw, &list); err != nil {
		return empty, fmt.Errorf("%w: completion result: %v", ErrProtocolViolation, err)
	}
	return list, nil
}

// RequestSignatureHelp 请求签名帮助，失败策略与补全相同
func (s *Session) RequestSignatureHelp(ctx context.Context, text string, line, column int) (SignatureHelp, error) {
	params := SignatureHelpParams{
		TextDocument: TextDocumentIdentifier{URI: s.doc.uri},
		Text:         text,
		Position:     Position{Line: line, Character: column},
		Context:      SignatureHelpContext{TriggerKind: SignatureHelpInvoked},
	}

	raw, err := s.request(ctx, MethodSignatureHelp, params)
	if err != nil {
		s.failOpen(MethodSignatureHelp, err)
		return EmptySignatureHelp(), nil
	}

	var help SignatureHelp
	if err := json.Unmarshal(raw, &help); err != nil {
		return EmptySignatureHelp(), fmt.Errorf("%w: signature help result: %v", ErrProtocolViolation, err)
	}
	return help, nil
}

func (s *Session) failOpen(method string, err error) {
	reason := failureReason(err)
	s.logger.Warn("request failed, returning empty result",
		zap.String("method", method),
		zap.String("reason", reason),
		zap.Error(err))
	s.observer.ObserveFailOpen(method, reason)
}

func failureReason(err error) string {
	var respErr *ResponseError
	switch {
	case errors.As(err, &respErr):
		return "server_error"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	switch types.GetErrorCode(err) {
	case types.ErrTimeout:
		return "timeout"
	case types.ErrSessionClosed:
		return "closed"
	case types.ErrTransport:
		return "transport"
	}
	return "other"
}

// request 注册在途条目、完成一次往返并等待结局。
// 响应可能在自身往返中到达，也可能在之后其他往返的批次里到达。
func (s *Session) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}

	id, done, err := s.register()
	if err != nil {
		return nil, err
	}

	envelope, err := EncodeRequest(method, params, id)
	if err != nil {
		s.pending.remove(id)
		return nil, err
	}

	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	s.logger.Debug("sending request", zap.String("method", method), zap.String("id", id))
	if err := s.roundTrip(ctxkeys.WithRequestID(ctxkeys.WithMethod(ctx, method), id), envelope, id); err != nil {
		s.pending.remove(id)
		return nil, err
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		s.pending.remove(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s", ErrRequestTimeout, method, id)
		}
		return nil, ctx.Err()
	}
}

func (s *Session) register() (string, <-chan result, error) {
	var lastErr error
	for i := 0; i < maxIDAttempts; i++ {
		id := s.nextID()
		done, err := s.pending.register(id)
		if err == nil {
			return id, done, nil
		}
		lastErr = err
		s.logger.Warn("request id collision", zap.String("id", id))
	}
	return "", nil, lastErr
}

func (s *Session) notify(ctx context.Context, method string, params any) ([]string, error) {
	envelope, err := EncodeNotification(method, params)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("sending notification", zap.String("method", method))
	return s.exchange(ctxkeys.WithMethod(ctx, method), envelope)
}

// roundTrip 发送一个信封并处理响应中携带的批次
func (s *Session) roundTrip(ctx context.Context, envelope, ownID string) error {
	batch, err := s.exchange(ctx, envelope)
	if err != nil {
		return err
	}
	s.absorb(batch, ownID)
	return nil
}

// exchange 完成一次 HTTP 往返并解码批次。无法解码的响应体视为空批次。
func (s *Session) exchange(ctx context.Context, envelope string) ([]string, error) {
	body, err := encodeRequestBody(envelope, s.formulaType, s.Parameters())
	if err != nil {
		return nil, err
	}

	ctx = ctxkeys.WithDocumentURI(ctx, s.doc.URI())
	resp, err := s.sender.Send(ctx, s.endpoint, transport.OperationLSP, body)
	if err != nil {
		return nil, err
	}

	batch, err := decodeResponseBody(resp)
	if err != nil {
		s.logger.Warn("undecodable response body", zap.Error(err))
	}
	return batch, nil
}

// absorb 处理批次，然后往返计数加一；ownID 从这次往返开始计算等待次数
func (s *Session) absorb(batch []string, ownID string) {
	s.ProcessBatch(batch)

	round := s.rounds.Add(1)
	if ownID != "" {
		s.pending.arm(ownID, round)
	}
	if n := s.pending.expire(round, s.maxPendingRounds, ErrRequestTimeout); n > 0 {
		s.logger.Debug("expired pending requests", zap.Int("count", n), zap.Uint64("round", round))
	}
	s.observer.ObservePending(s.pending.len())
}

// =============================================================================
// 📥 Inbound processing
// =============================================================================

// ProcessBatch 按顺序处理一批原始消息，返回成功解码的数量。
// 畸形消息记录后跳过，不影响其余元素。
func (s *Session) ProcessBatch(batch []string) int {
	processed := 0
	for i, raw := range batch {
		env, err := Decode(raw)
		if err != nil {
			s.logger.Warn("skipping malformed message", zap.Int("index", i), zap.Error(err))
			s.observer.ObserveInbound("malformed")
			continue
		}
		processed++
		s.observer.ObserveInbound(env.Kind.String())
		s.handle(env)
	}
	return processed
}

func (s *Session) handle(env *Envelope) {
	switch env.Kind {
	case KindResponse:
		var settled bool
		if env.Error != nil {
			settled = s.pending.fail(env.ID, env.Error)
		} else {
			settled = s.pending.resolve(env.ID, env.Result)
		}
		if !settled {
			s.logger.Debug("response for unknown request", zap.String("id", env.ID))
		}
	case KindNotification:
		kind, ok := KindForMethod(env.Method)
		if !ok {
			s.logger.Debug("dropping unhandled notification", zap.String("method", env.Method))
			return
		}
		s.dispatcher.Dispatch(kind, env.Params)
	default:
		s.logger.Debug("dropping server request", zap.String("method", env.Method), zap.String("id", env.ID))
	}
}

// =============================================================================
// 🔔 Typed subscriptions
// =============================================================================

// OnDiagnostics 订阅诊断推送，诊断列表永不为 nil。带版本且早于当前文档版本的推送被丢弃。
func (s *Session) OnDiagnostics(fn func(PublishDiagnosticsParams)) *Subscription {
	return s.dispatcher.Subscribe(KindDiagnostics, func(raw json.RawMessage) {
		var p PublishDiagnosticsParams
		if !s.decodeParams(MethodPublishDiagnostics, raw, &p) {
			return
		}
		if p.Version != nil && *p.Version < s.doc.Version() {
			s.logger.Debug("dropping stale diagnostics",
				zap.Int("version", *p.Version),
				zap.Int("current", s.doc.Version()))
			return
		}
		if p.Diagnostics == nil {
			p.Diagnostics = []Diagnostic{}
		}
		fn(p)
	})
}

// OnTokens 订阅标识符分类推送，未知分类被丢弃
func (s *Session) OnTokens(fn func(PublishTokensParams)) *Subscription {
	return s.dispatcher.Subscribe(KindTokens, func(raw json.RawMessage) {
		var p PublishTokensParams
		if !s.decodeParams(MethodPublishTokens, raw, &p) {
			return
		}
		tokens := make(map[string]TokenResultType, len(p.Tokens))
		for name, t := range p.Tokens {
			if t.Valid() {
				tokens[name] = t
			}
		}
		p.Tokens = tokens
		fn(p)
	})
}

// OnExpressionType 订阅表达式类型推送
func (s *Session) OnExpressionType(fn func(PublishExpressionTypeParams)) *Subscription {
	return s.dispatcher.Subscribe(KindExpressionType, func(raw json.RawMessage) {
		var p PublishExpressionTypeParams
		if !s.decodeParams(MethodPublishExpressionType, raw, &p) {
			return
		}
		fn(p)
	})
}

func (s *Session) decodeParams(method string, raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.logger.Warn("undecodable notification params", zap.String("method", method), zap.Error(err))
		return false
	}
	return true
}
