package crypto

import (
	"context"
	"sync"
)

// MemoryKeySlot 进程内密钥槽，无持久化
type MemoryKeySlot struct {
	mu  sync.RWMutex
	key []byte
}

func NewMemoryKeySlot() *MemoryKeySlot {
	return &MemoryKeySlot{}
}

func (s *MemoryKeySlot) Get(_ context.Context) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, false, nil
	}
	return append([]byte(nil), s.key...), true, nil
}

func (s *MemoryKeySlot) SetIfAbsent(_ context.Context, key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		s.key = append([]byte(nil), key...)
	}
	return append([]byte(nil), s.key...), nil
}

func (s *MemoryKeySlot) Clear(_ context.Context) error {
	s.mu.Lock()
	s.key = nil
	s.mu.Unlock()
	return nil
}
