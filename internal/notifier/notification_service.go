// internal/notifier/notification_service.go
package notifier

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"supply-demand-zone-engine/internal/types"
	"supply-demand-zone-engine/pkg/logger"
)

// Notifier интерфейс отдельного нотификатора
type Notifier interface {
	Send(event types.Event) error
	Name() string
	IsEnabled() bool
	SetEnabled(bool)
	GetStats() map[string]interface{}
}

// CompositeNotificationService — композитный сервис уведомлений.
// Удовлетворяет приёмнику диспетчера: ретраями занимается диспетчер,
// здесь только разветвление по каналам и статистика.
type CompositeNotificationService struct {
	notifiers []Notifier
	enabled   bool
	mu        sync.RWMutex
	stats     map[string]interface{}
}

// NewCompositeNotificationService создает композитный сервис
func NewCompositeNotificationService(notifiers ...Notifier) *CompositeNotificationService {
	return &CompositeNotificationService{
		notifiers: notifiers,
		enabled:   true,
		stats: map[string]interface{}{
			"total_sent":     0,
			"successful":     0,
			"failed":         0,
			"last_sent_time": time.Time{},
		},
	}
}

// AddNotifier добавляет нотификатор в сервис
func (c *CompositeNotificationService) AddNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifiers = append(c.notifiers, n)
}

// Send отправляет событие через все включённые нотификаторы.
// Ошибка возвращается, только если не доставил ни один канал.
func (c *CompositeNotificationService) Send(event types.Event) error {
	if !c.IsEnabled() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var lastError error
	sentCount := 0
	attempted := 0

	for _, notifier := range c.notifiers {
		if !notifier.IsEnabled() {
			continue
		}
		attempted++
		if err := notifier.Send(event); err != nil {
			logger.Warn("⚠️ Ошибка отправки через %s: %v", notifier.Name(), err)
			lastError = err
		} else {
			sentCount++
		}
	}

	c.stats["total_sent"] = c.stats["total_sent"].(int) + 1
	if sentCount == attempted {
		c.stats["successful"] = c.stats["successful"].(int) + 1
	} else {
		c.stats["failed"] = c.stats["failed"].(int) + 1
	}
	c.stats["last_sent_time"] = time.Now()

	if attempted > 0 && sentCount == 0 {
		return fmt.Errorf("ни один канал не доставил событие %s: %w", event.EventID, lastError)
	}
	return nil
}

// SetEnabled включает/выключает сервис
func (c *CompositeNotificationService) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// IsEnabled возвращает статус
func (c *CompositeNotificationService) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// GetStats возвращает объединённую статистику всех нотификаторов
func (c *CompositeNotificationService) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]interface{})
	for k, v := range c.stats {
		result[k] = v
	}

	notifierStats := make(map[string]interface{})
	for _, n := range c.notifiers {
		notifierStats[n.Name()] = n.GetStats()
	}
	result["notifiers"] = notifierStats

	return result
}

// FormatEvent форматирует событие в человекочитаемое сообщение
func FormatEvent(event types.Event) string {
	var b strings.Builder

	switch event.Type {
	case types.EventZoneBreak:
		b.WriteString("💥 Пробой зоны")
	case types.EventZoneBounce:
		b.WriteString("🔄 Отскок от зоны")
	case types.EventAtDemand:
		b.WriteString("🎯 Цена в зоне спроса")
	case types.EventAtSupply:
		b.WriteString("🎯 Цена в зоне предложения")
	case types.EventEnteringDemand:
		b.WriteString("📉 Приближение к зоне спроса")
	case types.EventEnteringSupply:
		b.WriteString("📈 Приближение к зоне предложения")
	default:
		b.WriteString(string(event.Type))
	}

	b.WriteString(fmt.Sprintf("\n%s @ %.6g", event.Symbol, event.Price))
	b.WriteString(fmt.Sprintf("\nЗона: %s", event.ZoneID))
	b.WriteString(fmt.Sprintf("\n%s", event.Timestamp.Format("2006-01-02 15:04:05 MST")))

	return b.String()
}
