// Package pubsub содержит каналы публикации событий между экземплярами сервиса и во внешние системы.
package pubsub

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-orders/internal/notify"
)

const defaultChannelPrefix = "restaurant"

// RedisPublisher публикует события в Redis Pub/Sub. Канал — префикс плюс имя топика.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisPublisher создаёт публикатор по URL вида redis://host:port/db.
func NewRedisPublisher(ctx context.Context, url string, logger *zap.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisPublisherFromClient(client, defaultChannelPrefix, logger), nil
}

// NewRedisPublisherFromClient оборачивает готовый клиент Redis.
func NewRedisPublisherFromClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, prefix: prefix, logger: logger}
}

func (p *RedisPublisher) channel(topic string) string {
	return p.prefix + ":" + topic
}

// Publish отправляет payload в канал топика. Отсутствие подписчиков ошибкой не считается.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := p.client.Publish(ctx, p.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Relay подписывается на все топики и передаёт полученные события локальному publisher
// (обычно реестру WebSocket-подписчиков) до отмены контекста.
func (p *RedisPublisher) Relay(ctx context.Context, local notify.Publisher) error {
	sub := p.client.PSubscribe(ctx, p.channel(notify.TopicPrefix)+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	trim := p.prefix + ":"
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic := strings.TrimPrefix(msg.Channel, trim)
			if err := local.Publish(ctx, topic, []byte(msg.Payload)); err != nil {
				p.logger.Warn("relay event failed", zap.Error(err), zap.String("topic", topic))
			}
		}
	}
}

// Close закрывает клиент Redis.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
