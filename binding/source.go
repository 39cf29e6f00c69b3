package binding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// RecordSource 按实体名与 id 拉取一条记录
type RecordSource interface {
	Retrieve(ctx context.Context, entity, id string) (map[string]any, error)
}

// RecordSourceFunc 函数适配器
type RecordSourceFunc func(ctx context.Context, entity, id string) (map[string]any, error)

// Retrieve implements RecordSource.
func (f RecordSourceFunc) Retrieve(ctx context.Context, entity, id string) (map[string]any, error) {
	return f(ctx, entity, id)
}

// ErrRecordNotFound 记录不存在
var ErrRecordNotFound = errors.New("binding: record not found")

// FileRecordSource 从 JSON 文件读取记录，文件顶层对象以 "实体/id" 为键。
// 文件在首次 Retrieve 时读取一次。
type FileRecordSource struct {
	path string

	once    sync.Once
	records map[string]map[string]any
	err     error
}

// NewFileRecordSource 创建文件记录源
func NewFileRecordSource(path string) *FileRecordSource {
	return &FileRecordSource{path: path}
}

// Retrieve implements RecordSource.
func (s *FileRecordSource) Retrieve(ctx context.Context, entity, id string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.once.Do(s.load)
	if s.err != nil {
		return nil, s.err
	}
	rec, ok := s.records[recordKey(entity, id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, entity, id)
	}
	return rec, nil
}

func (s *FileRecordSource) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.err = fmt.Errorf("read record file: %w", err)
		return
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		s.err = fmt.Errorf("parse record file %s: %w", s.path, err)
	}
}

func recordKey(entity, id string) string {
	return entity + "/" + id
}
