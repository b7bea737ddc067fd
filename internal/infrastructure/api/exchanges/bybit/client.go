// internal/infrastructure/api/exchanges/bybit/client.go
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"supply-demand-zone-engine/internal/infrastructure/config"
	"supply-demand-zone-engine/internal/types"
	"supply-demand-zone-engine/pkg/logger"
)

// ============================================
// BYBIT CLIENT
// ============================================

// BybitClient - клиент публичного рыночного API Bybit v5
type BybitClient struct {
	httpClient *http.Client
	baseURL    string
	category   string

	// Rate limit: клиент дергают несколько воркеров одновременно
	mu          sync.Mutex
	lastRequest time.Time
	rateLimit   time.Duration
}

// NewBybitClient создает новый клиент Bybit
func NewBybitClient(cfg *config.Config) *BybitClient {
	category := cfg.Exchange.Category
	if category == "" {
		category = CategoryLinear
	}

	rateLimit := cfg.Exchange.RateLimitDelay
	if rateLimit <= 0 {
		rateLimit = 100 * time.Millisecond
	}

	return &BybitClient{
		httpClient: &http.Client{
			Timeout: cfg.Exchange.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:     cfg.Exchange.BaseURL,
		category:    category,
		rateLimit:   rateLimit,
		lastRequest: time.Now().Add(-rateLimit),
	}
}

// waitForRateLimit ждет, если нужно соблюдать rate limit
func (c *BybitClient) waitForRateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastRequest)
	if elapsed < c.rateLimit {
		time.Sleep(c.rateLimit - elapsed)
	}
	c.lastRequest = time.Now()
}

// sendPublicRequest отправляет публичный запрос
func (c *BybitClient) sendPublicRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	c.waitForRateLimit()

	apiURL := c.baseURL + endpoint
	if len(params) > 0 {
		apiURL = apiURL + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SupplyDemandZoneEngine/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	// Проверяем код ошибки в ответе API
	var apiResp APIResponse
	if err := json.Unmarshal(body, &apiResp); err == nil && apiResp.RetCode != 0 {
		return nil, fmt.Errorf("API error %d: %s", apiResp.RetCode, apiResp.RetMsg)
	}

	return body, nil
}

// ============================================
// ОСНОВНЫЕ API МЕТОДЫ
// ============================================

// GetKline получает свечные данные и возвращает их по возрастанию времени.
// Bybit отдаёт список от новых к старым и включает текущую незакрытую свечу —
// вызывающий сам решает, что делать с последним баром.
func (c *BybitClient) GetKline(ctx context.Context, symbol, timeframe string, limit int) ([]types.Bar, error) {
	interval, ok := IntervalFor(timeframe)
	if !ok {
		return nil, fmt.Errorf("неизвестный таймфрейм %q", timeframe)
	}

	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.sendPublicRequest(ctx, "/v5/market/kline", params)
	if err != nil {
		return nil, fmt.Errorf("failed to get kline: %w", err)
	}

	var klineResp KlineResponse
	if err := json.Unmarshal(body, &klineResp); err != nil {
		return nil, fmt.Errorf("failed to parse kline response: %w", err)
	}

	bars := make([]types.Bar, 0, len(klineResp.Result.List))
	for _, row := range klineResp.Result.List {
		bar, err := parseKlineRow(row)
		if err != nil {
			logger.Warn("⚠️ Bybit: пропущена свеча %s/%s: %v", symbol, timeframe, err)
			continue
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	logger.Debug("📊 Bybit: получено %d свечей для %s/%s", len(bars), symbol, timeframe)
	return bars, nil
}

// GetTickers получает все тикеры для указанной категории
func (c *BybitClient) GetTickers(ctx context.Context, category string) (*TickerResponse, error) {
	if category == "" {
		category = c.category
	}

	params := url.Values{}
	params.Set("category", category)

	body, err := c.sendPublicRequest(ctx, "/v5/market/tickers", params)
	if err != nil {
		return nil, fmt.Errorf("failed to get tickers: %w", err)
	}

	var tickerResp TickerResponse
	if err := json.Unmarshal(body, &tickerResp); err != nil {
		return nil, fmt.Errorf("failed to parse ticker response: %w", err)
	}

	return &tickerResp, nil
}

// GetLastPrice получает последнюю цену символа
func (c *BybitClient) GetLastPrice(ctx context.Context, symbol string) (types.Tick, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	body, err := c.sendPublicRequest(ctx, "/v5/market/tickers", params)
	if err != nil {
		return types.Tick{}, fmt.Errorf("failed to get ticker: %w", err)
	}

	var tickerResp TickerResponse
	if err := json.Unmarshal(body, &tickerResp); err != nil {
		return types.Tick{}, fmt.Errorf("failed to parse ticker response: %w", err)
	}

	if len(tickerResp.Result.List) == 0 {
		return types.Tick{}, fmt.Errorf("тикер %s не найден", symbol)
	}

	price, err := strconv.ParseFloat(tickerResp.Result.List[0].LastPrice, 64)
	if err != nil {
		return types.Tick{}, fmt.Errorf("failed to parse last price: %w", err)
	}

	return types.Tick{Price: price, Timestamp: time.Now()}, nil
}

// GetServerTime получает время сервера Bybit
func (c *BybitClient) GetServerTime(ctx context.Context) (int64, error) {
	body, err := c.sendPublicRequest(ctx, "/v5/market/time", nil)
	if err != nil {
		return 0, err
	}

	var response struct {
		Result struct {
			TimeSecond string `json:"timeSecond"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("failed to parse server time response: %w", err)
	}

	timeSecond, err := strconv.ParseInt(response.Result.TimeSecond, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse timeSecond: %w", err)
	}

	return timeSecond, nil
}

// TestConnection тестирует подключение к API
func (c *BybitClient) TestConnection(ctx context.Context) error {
	if _, err := c.GetServerTime(ctx); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// parseKlineRow разбирает одну строку kline ответа
func parseKlineRow(row []string) (types.Bar, error) {
	if len(row) < 6 {
		return types.Bar{}, fmt.Errorf("неполная строка kline (%d полей)", len(row))
	}

	startMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return types.Bar{}, fmt.Errorf("время: %w", err)
	}

	values := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		v, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return types.Bar{}, fmt.Errorf("поле %d: %w", i, err)
		}
		values[i-1] = v
	}

	return types.Bar{
		Timestamp: time.UnixMilli(startMs).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}
