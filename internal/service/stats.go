package service

import (
	"context"
	"time"

	"github.com/mmeshcher/restaurant-orders/internal/model"
)

// Значения, для которых пока нет источника данных (оценки, занятость столов).
const (
	defaultActiveTables  = 0
	defaultAverageRating = 0.0
	defaultTotalReviews  = 0
	defaultFeedbackCount = 0
)

// GetStats вычисляет статистику по текущему набору заказов. Пересчитывается полностью при каждом вызове.
func (s *Service) GetStats(ctx context.Context) (*model.Stats, error) {
	now := s.now()

	ordersToday, err := s.repo.CountOrdersSince(ctx, startOfDay(now))
	if err != nil {
		return nil, storageErr("count orders today", err)
	}

	pending, err := s.repo.CountOrdersByStatus(ctx, model.OrderStatusPending)
	if err != nil {
		return nil, storageErr("count pending orders", err)
	}

	revenue, err := s.repo.SumTotalAmountExcluding(ctx, model.OrderStatusCancelled)
	if err != nil {
		return nil, storageErr("sum revenue", err)
	}

	return &model.Stats{
		OrdersToday:   ordersToday,
		PendingOrders: pending,
		TotalRevenue:  revenue,
		ActiveTables:  defaultActiveTables,
		AverageRating: defaultAverageRating,
		TotalReviews:  defaultTotalReviews,
		FeedbackCount: defaultFeedbackCount,
	}, nil
}

// startOfDay возвращает локальную полночь дня t.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
