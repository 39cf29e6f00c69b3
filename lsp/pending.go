package lsp

import (
	"encoding/json"
	"sync"
)

// result 在途请求的结局
type result struct {
	value json.RawMessage
	err   error
}

type pendingEntry struct {
	done chan result
	// armedAt 为 0 表示请求自身的往返尚未完成；之后记录当时的往返计数
	armedAt uint64
}

// pendingTable id → 等待槽。每个条目恰好被移除一次：
// 匹配的响应、传输失败、调用方取消或往返超时。
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

func (t *pendingTable) register(id string) (<-chan result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; exists {
		return nil, errDuplicateID
	}
	e := &pendingEntry{done: make(chan result, 1)}
	t.entries[id] = e
	return e.done, nil
}

// settle 移除条目并交付结局；条目不存在时返回 false
func (t *pendingTable) settle(id string, r result) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if ok {
		e.done <- r
	}
	return ok
}

func (t *pendingTable) resolve(id string, value json.RawMessage) bool {
	return t.settle(id, result{value: value})
}

func (t *pendingTable) fail(id string, err error) bool {
	return t.settle(id, result{err: err})
}

// remove 无结局地移除条目（调用方已放弃等待）
func (t *pendingTable) remove(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// arm 在请求自身完成一次往返后记录往返计数
func (t *pendingTable) arm(id string, round uint64) {
	t.mu.Lock()
	if e, ok := t.entries[id]; ok && e.armedAt == 0 {
		e.armedAt = round
	}
	t.mu.Unlock()
}

// expire 让已经历 maxRounds 次往返（含自身那次）仍未结算的条目以 err 结束，返回数量
func (t *pendingTable) expire(round uint64, maxRounds int, err error) int {
	if maxRounds < 1 {
		maxRounds = 1
	}
	t.mu.Lock()
	var expired []*pendingEntry
	for id, e := range t.entries {
		if e.armedAt == 0 {
			continue
		}
		if round-e.armedAt >= uint64(maxRounds-1) {
			expired = append(expired, e)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, e := range expired {
		e.done <- result{err: err}
	}
	return len(expired)
}

// drain 以 err 结束所有条目
func (t *pendingTable) drain(err error) int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	for _, e := range entries {
		e.done <- result{err: err}
	}
	return len(entries)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
