package pubsub

import (
	"context"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/mmeshcher/restaurant-orders/internal/notify"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMirror копирует события общих топиков в Kafka для последующей аналитики.
// Персональные топики пользователей не копируются: в них те же события.
type KafkaMirror struct {
	writer messageWriter
	topics map[string]struct{}
}

// NewKafkaMirror создаёт зеркало для брокеров brokers (через запятую) и топика Kafka topic.
func NewKafkaMirror(brokers, topic string) *KafkaMirror {
	addrs := strings.Split(brokers, ",")
	for i := range addrs {
		addrs[i] = strings.TrimSpace(addrs[i])
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newKafkaMirror(w)
}

func newKafkaMirror(w messageWriter) *KafkaMirror {
	return &KafkaMirror{
		writer: w,
		topics: map[string]struct{}{
			notify.TopicOrders:           {},
			notify.TopicRestaurantStatus: {},
		},
	}
}

// Publish пишет событие в Kafka, если топик подлежит копированию.
func (m *KafkaMirror) Publish(ctx context.Context, topic string, payload []byte) error {
	if _, ok := m.topics[topic]; !ok {
		return nil
	}

	err := m.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(topic),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(topic)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

// Close закрывает writer.
func (m *KafkaMirror) Close() error {
	return m.writer.Close()
}
