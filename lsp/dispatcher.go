package lsp

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// NotificationKind 可订阅的推送种类
type NotificationKind string

const (
	KindDiagnostics    NotificationKind = "diagnostics"
	KindTokens         NotificationKind = "tokens"
	KindExpressionType NotificationKind = "expressionType"
)

var methodKinds = map[string]NotificationKind{
	MethodPublishDiagnostics:    KindDiagnostics,
	MethodPublishTokens:         KindTokens,
	MethodPublishExpressionType: KindExpressionType,
}

// KindForMethod 返回方法对应的推送种类，不可订阅的方法返回 false
func KindForMethod(method string) (NotificationKind, bool) {
	k, ok := methodKinds[method]
	return k, ok
}

// Listener 接收推送参数的原始 JSON
type Listener func(params json.RawMessage)

type registration struct {
	id       uint64
	listener Listener
}

// Dispatcher 把推送分发给按种类注册的多个监听者。
// 监听者按订阅顺序同步调用；单个监听者 panic 不影响其余监听者。
type Dispatcher struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[NotificationKind][]registration
	logger    *zap.Logger
}

// NewDispatcher 创建分发器
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		listeners: make(map[NotificationKind][]registration),
		logger:    logger.With(zap.String("component", "lsp_dispatcher")),
	}
}

// Subscription 一次订阅，Release 可重复调用
type Subscription struct {
	once    sync.Once
	release func()
}

// Release 移除这次订阅
func (s *Subscription) Release() {
	if s == nil {
		return
	}
	s.once.Do(s.release)
}

// Subscribe 注册监听者
func (d *Dispatcher) Subscribe(kind NotificationKind, l Listener) *Subscription {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.listeners[kind] = append(d.listeners[kind], registration{id: id, listener: l})
	d.mu.Unlock()

	return &Subscription{release: func() { d.remove(kind, id) }}
}

func (d *Dispatcher) remove(kind NotificationKind, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.listeners[kind]
	for i, r := range regs {
		if r.id != id {
			continue
		}
		// 复制而非原地修改，正在进行的 Dispatch 持有旧快照
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(d.listeners, kind)
		} else {
			d.listeners[kind] = next
		}
		return
	}
}

// Len 返回某种类当前的监听者数量
func (d *Dispatcher) Len(kind NotificationKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[kind])
}

// Dispatch 把 payload 交给该种类的所有监听者，返回成功完成的监听者数量
func (d *Dispatcher) Dispatch(kind NotificationKind, payload json.RawMessage) int {
	d.mu.Lock()
	snapshot := d.listeners[kind]
	d.mu.Unlock()

	delivered := 0
	for _, r := range snapshot {
		if d.invoke(kind, r, payload) {
			delivered++
		}
	}
	return delivered
}

func (d *Dispatcher) invoke(kind NotificationKind, r registration, payload json.RawMessage) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Warn("listener panicked",
				zap.String("kind", string(kind)),
				zap.Uint64("subscription", r.id),
				zap.Any("panic", rec))
			ok = false
		}
	}()
	r.listener(payload)
	return true
}
