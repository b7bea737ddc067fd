// internal/infrastructure/cache/redis/cache.go
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"supply-demand-zone-engine/internal/types"

	"github.com/go-redis/redis/v8"
)

// Cache — JSON-кэш поверх Redis с общим префиксом ключей
type Cache struct {
	client *redis.Client
	prefix string
}

// NewCache создаёт кэш с собственным подключением
func NewCache(addr, password string, db int) *Cache {
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: "zoneengine:",
	}
}

// NewCacheWithClient создаёт кэш поверх существующего клиента
func NewCacheWithClient(client *redis.Client) *Cache {
	return &Cache{
		client: client,
		prefix: "zoneengine:",
	}
}

// Set устанавливает значение в Redis с TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	fullKey := c.prefix + key

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, fullKey, data, ttl).Err()
}

// Get получает значение из Redis. Промах кэша возвращает redis.Nil.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	fullKey := c.prefix + key

	data, err := c.client.Get(ctx, fullKey).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), dest)
}

// Delete удаляет ключ из Redis
func (c *Cache) Delete(ctx context.Context, key string) error {
	fullKey := c.prefix + key
	return c.client.Del(ctx, fullKey).Err()
}

// IsMiss возвращает true, если ошибка означает промах кэша
func IsMiss(err error) bool {
	return err == redis.Nil
}

// SetBars кэширует серию баров symbol/timeframe
func (c *Cache) SetBars(ctx context.Context, symbol, timeframe string, bars []types.Bar, ttl time.Duration) error {
	key := fmt.Sprintf("bars:%s:%s", symbol, timeframe)
	return c.Set(ctx, key, bars, ttl)
}

// GetBars возвращает кэшированную серию баров
func (c *Cache) GetBars(ctx context.Context, symbol, timeframe string) ([]types.Bar, error) {
	key := fmt.Sprintf("bars:%s:%s", symbol, timeframe)
	var bars []types.Bar
	if err := c.Get(ctx, key, &bars); err != nil {
		return nil, err
	}
	return bars, nil
}

// SetTick кэширует последнюю цену символа
func (c *Cache) SetTick(ctx context.Context, symbol string, tick types.Tick, ttl time.Duration) error {
	key := fmt.Sprintf("tick:%s", symbol)
	return c.Set(ctx, key, tick, ttl)
}

// GetTick возвращает кэшированную последнюю цену
func (c *Cache) GetTick(ctx context.Context, symbol string) (types.Tick, error) {
	key := fmt.Sprintf("tick:%s", symbol)
	var tick types.Tick
	if err := c.Get(ctx, key, &tick); err != nil {
		return types.Tick{}, err
	}
	return tick, nil
}
