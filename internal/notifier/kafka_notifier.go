// internal/notifier/kafka_notifier.go
package notifier

import (
	"encoding/json"
	"fmt"
	"time"

	"supply-demand-zone-engine/internal/infrastructure/config"
	"supply-demand-zone-engine/internal/types"

	"github.com/IBM/sarama"
)

// KafkaNotifier публикует события зон в топик Kafka для внешних потребителей.
// Ключ сообщения — символ: события одного инструмента попадают в одну
// партицию и сохраняют порядок.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	enabled  bool
	stats    map[string]interface{}
}

// NewKafkaNotifier создает Kafka нотификатор
func NewKafkaNotifier(cfg *config.Config) (*KafkaNotifier, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("kafka: создание продюсера: %w", err)
	}

	return &KafkaNotifier{
		producer: producer,
		topic:    cfg.Kafka.Topic,
		enabled:  cfg.Kafka.Enabled,
		stats: map[string]interface{}{
			"sent":           0,
			"last_sent_time": time.Time{},
			"type":           "kafka",
		},
	}, nil
}

// Send публикует событие в топик
func (k *KafkaNotifier) Send(event types.Event) error {
	if !k.enabled {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: сериализация события %s: %w", event.EventID, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(event.Symbol),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka: отправка события %s: %w", event.EventID, err)
	}

	k.stats["sent"] = k.stats["sent"].(int) + 1
	k.stats["last_sent_time"] = time.Now()
	return nil
}

// Close закрывает продюсер
func (k *KafkaNotifier) Close() error {
	return k.producer.Close()
}

// Name возвращает имя
func (k *KafkaNotifier) Name() string {
	return "kafka"
}

// IsEnabled возвращает статус
func (k *KafkaNotifier) IsEnabled() bool {
	return k.enabled
}

// SetEnabled включает/выключает
func (k *KafkaNotifier) SetEnabled(enabled bool) {
	k.enabled = enabled
}

// GetStats возвращает статистику
func (k *KafkaNotifier) GetStats() map[string]interface{} {
	return k.stats
}
