package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/restaurant-orders/internal/model"
	"github.com/mmeshcher/restaurant-orders/internal/repository"
	"github.com/mmeshcher/restaurant-orders/internal/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// CreateOrder создаёт заказ в статусе PENDING. Сумма считается по ценам меню, а не по данным клиента.
func (s *Service) CreateOrder(ctx context.Context, userID int64, items []model.ItemRequest, delivery model.DeliveryInfo) (*model.Order, error) {
	if err := validateOrderRequest(items, delivery); err != nil {
		return nil, err
	}

	if s.rejectWhenClosed {
		st, err := s.repo.GetRestaurantStatus(ctx)
		if err != nil {
			return nil, storageErr("get restaurant status", err)
		}
		if !st.IsOpen {
			return nil, ErrRestaurantClosed
		}
	}

	order, err := s.priceOrder(ctx, userID, items, delivery)
	if err != nil {
		return nil, err
	}
	order.Status = model.OrderStatusPending

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, storageErr("create order", err)
	}

	s.events.OrderCreated(order)
	s.events.StatsChanged()

	return order, nil
}

// UpdateStatus переводит заказ в статус next от имени администратора.
// Переходы одного заказа сериализуются, поэтому из двух конкурирующих конфликтующих переходов успешен ровно один.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, next model.OrderStatus, actor model.Actor) (*model.Order, error) {
	if !actor.Role.IsAdmin() {
		return nil, ErrForbidden
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get order", err)
	}

	if !order.Status.CanTransitionTo(next) {
		return nil, &TransitionError{From: order.Status, To: next, Allowed: order.Status.NextStatuses()}
	}

	err = s.repo.UpdateOrderStatus(ctx, orderID, order.Status, next)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrOrderNotFound):
		return nil, ErrNotFound
	case errors.Is(err, repository.ErrStatusConflict):
		return nil, &TransitionError{From: order.Status, To: next}
	default:
		return nil, storageErr("update order status", err)
	}

	order.Status = next

	s.events.OrderStatusChanged(order)
	s.events.StatsChanged()

	return order, nil
}

// GetOrder возвращает заказ владельцу или администратору.
func (s *Service) GetOrder(ctx context.Context, orderID int64, actor model.Actor) (*model.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get order", err)
	}

	if order.UserID != actor.UserID && !actor.Role.IsAdmin() {
		return nil, ErrForbidden
	}

	return order, nil
}

// GetOrdersByUser возвращает заказы пользователя, начиная с самых новых.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]*model.Order, error) {
	orders, err := s.repo.GetOrdersByUser(ctx, userID)
	if err != nil {
		return nil, storageErr("get orders by user", err)
	}
	return orders, nil
}

// ListOrders возвращает последние заказы всех пользователей. Только для администратора.
func (s *Service) ListOrders(ctx context.Context, actor model.Actor, limit int) ([]*model.Order, error) {
	if !actor.Role.IsAdmin() {
		return nil, ErrForbidden
	}

	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	orders, err := s.repo.ListOrders(ctx, limit)
	if err != nil {
		return nil, storageErr("list orders", err)
	}
	return orders, nil
}

func validateOrderRequest(items []model.ItemRequest, delivery model.DeliveryInfo) error {
	if err := validation.ValidateItems(items); err != nil {
		return invalidInput(err)
	}
	if err := validation.ValidateDelivery(delivery); err != nil {
		return invalidInput(err)
	}
	return nil
}

// priceOrder строит заказ по ценам меню и считает итоговую сумму.
func (s *Service) priceOrder(ctx context.Context, userID int64, items []model.ItemRequest, delivery model.DeliveryInfo) (*model.Order, error) {
	ids := make([]int64, 0, len(items))
	seen := make(map[int64]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it.MenuItemID]; ok {
			continue
		}
		seen[it.MenuItemID] = struct{}{}
		ids = append(ids, it.MenuItemID)
	}

	prices, err := s.repo.GetMenuPrices(ctx, ids)
	if err != nil {
		return nil, storageErr("get menu prices", err)
	}

	order := &model.Order{
		UserID:      userID,
		Items:       make([]model.OrderItem, 0, len(items)),
		TotalAmount: decimal.Zero,
		Delivery:    delivery,
	}

	for _, it := range items {
		price, ok := prices[it.MenuItemID]
		if !ok {
			return nil, invalidInput(fmt.Errorf("menu item %d is not available", it.MenuItemID))
		}
		item := model.OrderItem{
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			UnitPrice:  price,
		}
		order.Items = append(order.Items, item)
		order.TotalAmount = order.TotalAmount.Add(item.Subtotal())
	}

	return order, nil
}
