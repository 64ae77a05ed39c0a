package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/restaurant-orders/internal/model"
)

const maxStatusTextLen = 500

// GetRestaurantStatus возвращает статус ресторана. При первом обращении создаётся статус «открыт».
func (s *Service) GetRestaurantStatus(ctx context.Context) (*model.RestaurantStatus, error) {
	st, err := s.repo.GetRestaurantStatus(ctx)
	if err != nil {
		return nil, storageErr("get restaurant status", err)
	}
	return st, nil
}

// UpdateRestaurantStatus сохраняет новый статус ресторана и рассылает его всем клиентам.
func (s *Service) UpdateRestaurantStatus(ctx context.Context, actor model.Actor, value model.RestaurantStatus) (*model.RestaurantStatus, error) {
	if !actor.Role.IsAdmin() {
		return nil, ErrForbidden
	}
	if len(value.StatusMessage) > maxStatusTextLen || len(value.EstimatedWaitTime) > maxStatusTextLen {
		return nil, invalidInput(fmt.Errorf("status text longer than %d bytes", maxStatusTextLen))
	}

	st := value
	if err := s.repo.SaveRestaurantStatus(ctx, &st); err != nil {
		return nil, storageErr("save restaurant status", err)
	}

	s.events.RestaurantStatusChanged(&st)

	return &st, nil
}
