package lsp

import "sync"

// Document 会话持有的唯一文档。mu 在一次变更的整个往返期间持有，
// 保证版本分配与发送对其他变更是原子的。
type Document struct {
	mu      sync.Mutex
	uri     string
	version int
	content string

	// 只读快照，供不持有 mu 的读取者使用
	snapMu      sync.RWMutex
	snapVersion int
	snapContent string
}

func newDocument(uri string) *Document {
	return &Document{
		uri:         uri,
		version:     InitialVersion,
		snapVersion: InitialVersion,
	}
}

// URI 文档标识，对会话不透明
func (d *Document) URI() string { return d.uri }

// Version 最近一次发送的版本
func (d *Document) Version() int {
	d.snapMu.RLock()
	defer d.snapMu.RUnlock()
	return d.snapVersion
}

// Content 最近一次发送的全文
func (d *Document) Content() string {
	d.snapMu.RLock()
	defer d.snapMu.RUnlock()
	return d.snapContent
}

// set 必须在持有 mu 时调用
func (d *Document) set(version int, content string) {
	d.version = version
	d.content = content
	d.snapMu.Lock()
	d.snapVersion = version
	d.snapContent = content
	d.snapMu.Unlock()
}
