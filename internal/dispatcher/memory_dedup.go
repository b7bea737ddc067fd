// internal/dispatcher/memory_dedup.go
package dispatcher

import (
	"context"
	"sync"
	"time"
)

// MemoryDedupStore — окно дедупликации в памяти процесса.
// Используется в тестах и как запасной вариант, когда Redis выключен.
// Не переживает рестарт — для продакшена предпочтителен Redis-вариант.
type MemoryDedupStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // ключ → время истечения
	now     func() time.Time
}

// NewMemoryDedupStore создаёт хранилище дедупа в памяти
func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// MarkIfNew атомарно помечает ключ на window вперёд.
// Возвращает true, если ключа не было или его окно истекло.
func (s *MemoryDedupStore) MarkIfNew(_ context.Context, key string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.entries[key]; ok && now.Before(expiry) {
		return false, nil
	}

	s.entries[key] = now.Add(window)

	// Попутная уборка истёкших ключей, чтобы карта не росла бесконечно
	if len(s.entries) > 4096 {
		for k, exp := range s.entries {
			if now.After(exp) {
				delete(s.entries, k)
			}
		}
	}
	return true, nil
}
