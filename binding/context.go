package binding

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/formulabar/types"
)

// ContextProvider 生成公式上下文字符串
type ContextProvider struct {
	source RecordSource
	logger *zap.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]string
}

// NewContextProvider 创建上下文提供者，source 为 nil 时总是返回默认上下文
func NewContextProvider(source RecordSource, logger *zap.Logger) *ContextProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextProvider{
		source: source,
		logger: logger.With(zap.String("component", "context_provider")),
		cache:  make(map[string]string),
	}
}

// Resolve 选择公式上下文：显式上下文优先，其次是记录上下文，最后是默认上下文。
// 记录上下文生成失败只记录日志。
func (p *ContextProvider) Resolve(ctx context.Context, explicit, entity, id string) string {
	if explicit != "" {
		return explicit
	}
	rc, err := p.RecordContext(ctx, entity, id)
	if err != nil {
		p.logger.Warn("falling back to default formula context",
			zap.String("entity", entity),
			zap.String("id", id),
			zap.Error(err))
		return DefaultFormulaContext
	}
	return rc
}

// RecordContext 拉取记录、过滤并序列化。失败返回 CONTEXT_GENERATION 错误。
func (p *ContextProvider) RecordContext(ctx context.Context, entity, id string) (string, error) {
	if entity == "" || id == "" {
		return "", types.NewError(types.ErrContextGeneration, "entity name and record id are required")
	}
	if p.source == nil {
		return "", types.NewError(types.ErrContextGeneration, "no record source configured")
	}

	key := recordKey(entity, id)
	p.mu.RLock()
	cached, ok := p.cache[key]
	p.mu.RUnlock()
	if ok {
		return cached, nil
	}

	// 拉取不随单个调用方取消；每个调用方只按自己的 ctx 停止等待
	fetchCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key, func() (any, error) {
		record, err := p.source.Retrieve(fetchCtx, entity, id)
		if err != nil {
			return "", types.NewError(types.ErrContextGeneration, "retrieve record").WithCause(err)
		}
		data, err := json.Marshal(FilterRecord(record))
		if err != nil {
			return "", types.NewError(types.ErrContextGeneration, "serialize record").WithCause(err)
		}

		s := string(data)
		p.mu.Lock()
		p.cache[key] = s
		p.mu.Unlock()
		return s, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", types.NewError(types.ErrContextGeneration, "record context wait cancelled").WithCause(ctx.Err())
	}
}

// Invalidate 丢弃某条记录的缓存
func (p *ContextProvider) Invalidate(entity, id string) {
	p.mu.Lock()
	delete(p.cache, recordKey(entity, id))
	p.mu.Unlock()
}
