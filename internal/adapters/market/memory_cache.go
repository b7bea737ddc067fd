// internal/adapters/market/memory_cache.go
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"supply-demand-zone-engine/internal/types"
)

// MemorySeriesCache — TTL-кэш серий в памяти процесса.
// Используется при выключенном Redis и в тестах.
type MemorySeriesCache struct {
	mu    sync.Mutex
	bars  map[string]barsEntry
	ticks map[string]tickEntry
	now   func() time.Time
}

type barsEntry struct {
	bars   []types.Bar
	expiry time.Time
}

type tickEntry struct {
	tick   types.Tick
	expiry time.Time
}

// NewMemorySeriesCache создаёт кэш серий в памяти
func NewMemorySeriesCache() *MemorySeriesCache {
	return &MemorySeriesCache{
		bars:  make(map[string]barsEntry),
		ticks: make(map[string]tickEntry),
		now:   time.Now,
	}
}

func barsKey(symbol, timeframe string) string {
	return symbol + ":" + timeframe
}

// GetBars возвращает кэшированную серию. Промах и истёкший TTL — ошибка.
func (c *MemorySeriesCache) GetBars(_ context.Context, symbol, timeframe string) ([]types.Bar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.bars[barsKey(symbol, timeframe)]
	if !ok || c.now().After(entry.expiry) {
		return nil, fmt.Errorf("промах кэша баров %s/%s", symbol, timeframe)
	}
	return entry.bars, nil
}

// SetBars кэширует серию баров на ttl вперёд
func (c *MemorySeriesCache) SetBars(_ context.Context, symbol, timeframe string, bars []types.Bar, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bars[barsKey(symbol, timeframe)] = barsEntry{
		bars:   bars,
		expiry: c.now().Add(ttl),
	}
	return nil
}

// GetTick возвращает кэшированную цену. Промах и истёкший TTL — ошибка.
func (c *MemorySeriesCache) GetTick(_ context.Context, symbol string) (types.Tick, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.ticks[symbol]
	if !ok || c.now().After(entry.expiry) {
		return types.Tick{}, fmt.Errorf("промах кэша цены %s", symbol)
	}
	return entry.tick, nil
}

// SetTick кэширует цену на ttl вперёд
func (c *MemorySeriesCache) SetTick(_ context.Context, symbol string, tick types.Tick, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ticks[symbol] = tickEntry{
		tick:   tick,
		expiry: c.now().Add(ttl),
	}
	return nil
}
