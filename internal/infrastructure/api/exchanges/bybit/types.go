// internal/infrastructure/api/exchanges/bybit/types.go
package bybit

// Категории рынков Bybit
const (
	CategoryLinear = "linear"
	CategorySpot   = "spot"
)

// APIResponse — общая обёртка ответа Bybit v5
type APIResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

// KlineResponse — ответ /v5/market/kline.
// Каждый элемент списка: [startTime, open, high, low, close, volume, turnover],
// список идёт от новых свечей к старым.
type KlineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string     `json:"category"`
		Symbol   string     `json:"symbol"`
		List     [][]string `json:"list"`
	} `json:"result"`
}

// Ticker — строка ответа /v5/market/tickers
type Ticker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Volume24h string `json:"volume24h"`
	High24h   string `json:"high24h"`
	Low24h    string `json:"low24h"`
}

// TickerResponse — ответ /v5/market/tickers
type TickerResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string   `json:"category"`
		List     []Ticker `json:"list"`
	} `json:"result"`
}

// timeframeToInterval — отображение таймфреймов движка на интервалы Bybit
var timeframeToInterval = map[string]string{
	"1m":  "1",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"4h":  "240",
	"1d":  "D",
}

// IntervalFor возвращает интервал Bybit для таймфрейма движка
func IntervalFor(timeframe string) (string, bool) {
	interval, ok := timeframeToInterval[timeframe]
	return interval, ok
}
