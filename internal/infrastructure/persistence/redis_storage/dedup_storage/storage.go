// internal/infrastructure/persistence/redis_storage/dedup_storage/storage.go
package dedup_storage

import (
	"context"
	"fmt"
	"time"

	redis_service "supply-demand-zone-engine/internal/infrastructure/cache/redis"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "events:"

// DedupStorage — окно дедупликации событий поверх Redis.
// SETNX с TTL: первый пришедший помечает ключ, остальные в пределах окна
// получают отказ. Атомарно и переживает рестарт процесса.
type DedupStorage struct {
	client *redis.Client
}

// NewDedupStorage создаёт окно дедупликации поверх работающего Redis сервиса
func NewDedupStorage(redisService *redis_service.RedisService) (*DedupStorage, error) {
	if redisService == nil {
		return nil, fmt.Errorf("redisService не инициализирован")
	}
	client := redisService.GetClient()
	if client == nil {
		return nil, fmt.Errorf("redis клиент недоступен")
	}
	return &DedupStorage{client: client}, nil
}

// MarkIfNew атомарно помечает ключ на window вперёд.
// Возвращает true, если ключа не было или его окно истекло.
func (s *DedupStorage) MarkIfNew(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup_storage: SETNX %s: %w", key, err)
	}
	return ok, nil
}
