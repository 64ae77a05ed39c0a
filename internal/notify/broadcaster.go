// Package notify рассылает доменные события подписчикам топиков после фиксации изменений.
package notify

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-orders/internal/model"
)

const (
	defaultQueueSize = 1024
	publishTimeout   = 5 * time.Second
)

// Publisher доставляет полезную нагрузку текущим подписчикам топика.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// StatsSource вычисляет актуальный снимок статистики.
type StatsSource interface {
	GetStats(ctx context.Context) (*model.Stats, error)
}

type envelope struct {
	topics []string
	msg    Message
	stats  bool
}

// Broadcaster принимает события от пишущей стороны и асинхронно публикует их.
// Порядок событий одного писателя внутри топика сохраняется: очередь разбирает одна горутина.
type Broadcaster struct {
	publisher   Publisher
	logger      *zap.Logger
	queue       chan envelope
	statsQueued atomic.Bool
	dropped     atomic.Int64
}

// NewBroadcaster создаёт рассыльщик событий поверх publisher.
func NewBroadcaster(publisher Publisher, logger *zap.Logger, queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		publisher: publisher,
		logger:    logger,
		queue:     make(chan envelope, queueSize),
	}
}

// OrderCreated ставит в очередь событие о создании заказа.
func (b *Broadcaster) OrderCreated(o *model.Order) {
	b.enqueue(envelope{
		topics: []string{TopicOrders, UserTopic(o.UserID)},
		msg:    newMessage(EventOrderCreated, NewOrderView(o)),
	})
}

// OrderStatusChanged ставит в очередь событие о смене статуса заказа
// для общего топика заказов и топика владельца заказа.
func (b *Broadcaster) OrderStatusChanged(o *model.Order) {
	b.enqueue(envelope{
		topics: []string{TopicOrders, UserTopic(o.UserID)},
		msg:    newMessage(EventOrderStatusChanged, NewOrderView(o)),
	})
}

// RestaurantStatusChanged ставит в очередь событие об изменении статуса ресторана.
func (b *Broadcaster) RestaurantStatusChanged(st *model.RestaurantStatus) {
	b.enqueue(envelope{
		topics: []string{TopicRestaurantStatus},
		msg:    newMessage(EventRestaurantStatusChanged, st),
	})
}

// StatsChanged помечает статистику устаревшей. Повторные вызовы до пересчёта схлопываются.
func (b *Broadcaster) StatsChanged() {
	if !b.statsQueued.CompareAndSwap(false, true) {
		return
	}
	if !b.enqueue(envelope{stats: true}) {
		b.statsQueued.Store(false)
	}
}

// Dropped возвращает число событий, отброшенных из-за переполнения очереди.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Broadcaster) enqueue(e envelope) bool {
	select {
	case b.queue <- e:
		return true
	default:
		b.dropped.Add(1)
		b.logger.Warn("broadcast queue full, dropping event", zap.String("type", e.msg.Type), zap.Bool("stats", e.stats))
		return false
	}
}

// Run разбирает очередь до отмены контекста. stats может быть nil, тогда обновления статистики пропускаются.
func (b *Broadcaster) Run(ctx context.Context, stats StatsSource) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.queue:
			if e.stats {
				b.statsQueued.Store(false)
				if stats == nil {
					continue
				}
				snapshot, err := stats.GetStats(ctx)
				if err != nil {
					b.logger.Warn("compute stats for broadcast", zap.Error(err))
					continue
				}
				e = envelope{
					topics: []string{TopicAdminStats},
					msg:    newMessage(EventStatsUpdated, NewStatsView(snapshot)),
				}
			}
			b.publish(ctx, e)
		}
	}
}

func (b *Broadcaster) publish(ctx context.Context, e envelope) {
	payload, err := json.Marshal(e.msg)
	if err != nil {
		b.logger.Error("marshal event", zap.Error(err), zap.String("type", e.msg.Type))
		return
	}

	for _, topic := range e.topics {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := b.publisher.Publish(pubCtx, topic, payload)
		cancel()
		if err != nil {
			b.logger.Warn("publish event failed",
				zap.Error(err),
				zap.String("topic", topic),
				zap.String("type", e.msg.Type),
				zap.String("event_id", e.msg.ID),
			)
		}
	}
}

func newMessage(eventType string, data any) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// StatsView представление статистики для клиентов.
type StatsView struct {
	OrdersToday   int          `json:"ordersToday"`
	PendingOrders int          `json:"pendingOrders"`
	TotalRevenue  model.Amount `json:"totalRevenue"`
	ActiveTables  int          `json:"activeTables"`
	AverageRating float64      `json:"averageRating"`
	TotalReviews  int          `json:"totalReviews"`
	FeedbackCount int          `json:"feedbackCount"`
}

// NewStatsView строит представление статистики.
func NewStatsView(s *model.Stats) StatsView {
	return StatsView{
		OrdersToday:   s.OrdersToday,
		PendingOrders: s.PendingOrders,
		TotalRevenue:  model.Amount(s.TotalRevenue),
		ActiveTables:  s.ActiveTables,
		AverageRating: s.AverageRating,
		TotalReviews:  s.TotalReviews,
		FeedbackCount: s.FeedbackCount,
	}
}
