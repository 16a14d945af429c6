package store

import (
	"context"
	"sync"

	"stagecast/server/internal/model"
)

// InMemoryStore 是一个基于内存的内容存储实现。
// 重启即丢数据，多实例部署需要换成 redis/sqlite/upstash。
type InMemoryStore struct {
	mu      sync.RWMutex
	current *model.VersionedContent
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Get 返回当前记录的拷贝。
func (s *InMemoryStore) Get(_ context.Context) (*model.VersionedContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil, ErrNotFound
	}
	return s.current.Clone(), nil
}

// Set 整体替换当前记录。
func (s *InMemoryStore) Set(_ context.Context, c *model.VersionedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = c.Clone()
	return nil
}

func (s *InMemoryStore) SetIfAbsent(_ context.Context, c *model.VersionedContent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return false, nil
	}
	s.current = c.Clone()
	return true, nil
}
