// internal/adapters/market/adapter.go
package market

import (
	"context"
	"fmt"
	"time"

	"supply-demand-zone-engine/internal/types"
	"supply-demand-zone-engine/pkg/logger"
)

// KlineSource — источник свечей и цен (Bybit клиент)
type KlineSource interface {
	GetKline(ctx context.Context, symbol, timeframe string, limit int) ([]types.Bar, error)
	GetLastPrice(ctx context.Context, symbol string) (types.Tick, error)
}

// SeriesCache — кэш серий баров и тиков. Любая ошибка чтения трактуется
// как промах: кэш ускоряет, но никогда не блокирует получение данных.
type SeriesCache interface {
	GetBars(ctx context.Context, symbol, timeframe string) ([]types.Bar, error)
	SetBars(ctx context.Context, symbol, timeframe string, bars []types.Bar, ttl time.Duration) error
	GetTick(ctx context.Context, symbol string) (types.Tick, error)
	SetTick(ctx context.Context, symbol string, tick types.Tick, ttl time.Duration) error
}

// Params — параметры адаптера рыночных данных
type Params struct {
	BarDuration time.Duration // длительность бара таймфрейма
	BarTTL      time.Duration // TTL кэша серий
	TickTTL     time.Duration // TTL кэша последней цены
}

// MarketDataAdapter отдаёт движку только закрытые бары по возрастанию
// времени. Незакрытая последняя свеча биржи отбрасывается, дыры в серии
// логируются. Кэш — явная зависимость, без глобального состояния.
type MarketDataAdapter struct {
	source KlineSource
	cache  SeriesCache // может быть nil
	params Params
}

// NewMarketDataAdapter создаёт адаптер рыночных данных
func NewMarketDataAdapter(source KlineSource, cache SeriesCache, params Params) (*MarketDataAdapter, error) {
	if source == nil {
		return nil, fmt.Errorf("источник свечей не инициализирован")
	}
	if params.BarDuration <= 0 {
		return nil, fmt.Errorf("BAR_DURATION должен быть положительным")
	}
	return &MarketDataAdapter{
		source: source,
		cache:  cache,
		params: params,
	}, nil
}

// GetBars возвращает lookback последних закрытых баров символа
func (a *MarketDataAdapter) GetBars(ctx context.Context, symbol, timeframe string, lookback int) ([]types.Bar, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("lookback должен быть положительным")
	}

	if a.cache != nil {
		if cached, err := a.cache.GetBars(ctx, symbol, timeframe); err == nil && len(cached) >= lookback {
			return tail(cached, lookback), nil
		}
	}

	// +1 под незакрытую последнюю свечу, которую мы отбросим
	raw, err := a.source.GetKline(ctx, symbol, timeframe, lookback+1)
	if err != nil {
		return nil, fmt.Errorf("получение свечей %s/%s: %w", symbol, timeframe, err)
	}
	if len(raw) == 0 {
		return []types.Bar{}, nil
	}

	// Последняя свеча ещё формируется — в детекцию идут только закрытые
	bars := raw[:len(raw)-1]

	a.flagGaps(symbol, timeframe, bars)

	if a.cache != nil {
		if err := a.cache.SetBars(ctx, symbol, timeframe, bars, a.params.BarTTL); err != nil {
			logger.Warn("⚠️ market: не удалось закэшировать бары %s/%s: %v", symbol, timeframe, err)
		}
	}

	return tail(bars, lookback), nil
}

// GetLastPrice возвращает последнюю цену символа
func (a *MarketDataAdapter) GetLastPrice(ctx context.Context, symbol string) (types.Tick, error) {
	if a.cache != nil {
		if tick, err := a.cache.GetTick(ctx, symbol); err == nil && tick.Price > 0 {
			return tick, nil
		}
	}

	tick, err := a.source.GetLastPrice(ctx, symbol)
	if err != nil {
		return types.Tick{}, fmt.Errorf("получение цены %s: %w", symbol, err)
	}

	if a.cache != nil {
		if err := a.cache.SetTick(ctx, symbol, tick, a.params.TickTTL); err != nil {
			logger.Warn("⚠️ market: не удалось закэшировать цену %s: %v", symbol, err)
		}
	}

	return tick, nil
}

// flagGaps логирует дыры в серии: соседние бары должны отстоять ровно
// на длительность бара. Дыра не ошибка — биржа могла не торговать.
func (a *MarketDataAdapter) flagGaps(symbol, timeframe string, bars []types.Bar) {
	for i := 1; i < len(bars); i++ {
		delta := bars[i].Timestamp.Sub(bars[i-1].Timestamp)
		if delta != a.params.BarDuration {
			logger.Warn("⚠️ market: дыра в серии %s/%s между %s и %s (%v вместо %v)",
				symbol, timeframe,
				bars[i-1].Timestamp.Format(time.RFC3339), bars[i].Timestamp.Format(time.RFC3339),
				delta, a.params.BarDuration)
		}
	}
}

func tail(bars []types.Bar, n int) []types.Bar {
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
