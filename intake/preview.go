package intake

import (
	"sync"

	"github.com/TIANLI0/ClearBG/utils"
)

// Preview 预览句柄指向的内容
type Preview struct {
	Data      []byte
	MediaType string
}

// PreviewStore 管理本地预览句柄，句柄用完必须 Release
type PreviewStore struct {
	mu    sync.RWMutex
	items map[string]Preview
}

func NewPreviewStore() *PreviewStore {
	return &PreviewStore{
		items: make(map[string]Preview),
	}
}

// Create 登记一份预览，返回句柄
func (s *PreviewStore) Create(data []byte, mediaType string) string {
	handle := utils.GenerateID()

	s.mu.Lock()
	s.items[handle] = Preview{Data: data, MediaType: mediaType}
	s.mu.Unlock()

	return handle
}

func (s *PreviewStore) Get(handle string) (Preview, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.items[handle]
	return p, ok
}

// Release 释放句柄，未知句柄直接忽略
func (s *PreviewStore) Release(handle string) {
	if handle == "" {
		return
	}
	s.mu.Lock()
	delete(s.items, handle)
	s.mu.Unlock()
}

// Len 当前未释放的句柄数
func (s *PreviewStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
