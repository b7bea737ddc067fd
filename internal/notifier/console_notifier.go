// internal/notifier/console_notifier.go
package notifier

import (
	"time"

	"supply-demand-zone-engine/internal/types"
	"supply-demand-zone-engine/pkg/logger"
)

// ConsoleNotifier пишет события в лог. Всегда доступен, не требует сети.
type ConsoleNotifier struct {
	enabled bool
	stats   map[string]interface{}
}

// NewConsoleNotifier создает консольный нотификатор
func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{
		enabled: true,
		stats: map[string]interface{}{
			"sent":           0,
			"last_sent_time": time.Time{},
			"type":           "console",
		},
	}
}

// Send выводит событие в лог
func (n *ConsoleNotifier) Send(event types.Event) error {
	if !n.enabled {
		return nil
	}

	logger.Info("📣 %s", FormatEvent(event))

	n.stats["sent"] = n.stats["sent"].(int) + 1
	n.stats["last_sent_time"] = time.Now()
	return nil
}

// Name возвращает имя
func (n *ConsoleNotifier) Name() string {
	return "console"
}

// IsEnabled возвращает статус
func (n *ConsoleNotifier) IsEnabled() bool {
	return n.enabled
}

// SetEnabled включает/выключает
func (n *ConsoleNotifier) SetEnabled(enabled bool) {
	n.enabled = enabled
}

// GetStats возвращает статистику
func (n *ConsoleNotifier) GetStats() map[string]interface{} {
	return n.stats
}
