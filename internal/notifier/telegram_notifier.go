// internal/notifier/telegram_notifier.go
package notifier

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"supply-demand-zone-engine/internal/infrastructure/config"
	"supply-demand-zone-engine/internal/types"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier отправляет события в чат через Bot API sendMessage
type TelegramNotifier struct {
	httpClient *http.Client
	botToken   string
	chatID     string
	enabled    bool
	stats      map[string]interface{}
}

// NewTelegramNotifier создает Telegram нотификатор
func NewTelegramNotifier(cfg *config.Config) *TelegramNotifier {
	if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == "" {
		return nil
	}

	return &TelegramNotifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		botToken:   cfg.Telegram.BotToken,
		chatID:     cfg.Telegram.ChatID,
		enabled:    cfg.Telegram.Enabled,
		stats: map[string]interface{}{
			"sent":           0,
			"last_sent_time": time.Time{},
			"type":           "telegram",
		},
	}
}

// Send отправляет событие в Telegram
func (t *TelegramNotifier) Send(event types.Event) error {
	if !t.enabled {
		return nil
	}

	if err := t.sendMessage(FormatEvent(event)); err != nil {
		return err
	}

	t.stats["sent"] = t.stats["sent"].(int) + 1
	t.stats["last_sent_time"] = time.Now()
	return nil
}

// sendMessage вызывает метод sendMessage Bot API
func (t *TelegramNotifier) sendMessage(text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBase, t.botToken)

	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)

	resp, err := t.httpClient.Post(endpoint, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telegram: запрос не выполнен: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: чтение ответа: %w", err)
	}

	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fmt.Errorf("telegram: разбор ответа: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram: API отказал: %s", apiResp.Description)
	}

	return nil
}

// Name возвращает имя
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled возвращает статус
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// SetEnabled включает/выключает
func (t *TelegramNotifier) SetEnabled(enabled bool) {
	t.enabled = enabled
}

// GetStats возвращает статистику
func (t *TelegramNotifier) GetStats() map[string]interface{} {
	return t.stats
}
