package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// SlotStorage хранит слоты корзин в памяти. Содержимое теряется при перезапуске.
type SlotStorage struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

// NewSlotStorage создаёт пустое in-memory хранилище слотов.
func NewSlotStorage() *SlotStorage {
	return &SlotStorage{slots: make(map[string][]byte)}
}

// Read возвращает копию значения слота.
func (s *SlotStorage) Read(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.slots[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Write перезаписывает слот копией value.
func (s *SlotStorage) Write(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots[key] = append([]byte(nil), value...)
	return nil
}

// Len возвращает количество слотов.
func (s *SlotStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

var _ domain.SlotStorage = (*SlotStorage)(nil)
