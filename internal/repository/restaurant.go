package repository

import (
	"context"
	"fmt"

	"github.com/mmeshcher/restaurant-orders/internal/model"
)

const restaurantStatusID = 1

// GetRestaurantStatus возвращает статус ресторана, создавая запись по умолчанию при первом обращении.
func (r *PostgresRepository) GetRestaurantStatus(ctx context.Context) (*model.RestaurantStatus, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO restaurant_status (id, is_open) VALUES ($1, TRUE) ON CONFLICT (id) DO NOTHING`,
		restaurantStatusID,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure restaurant status: %w", err)
	}

	var st model.RestaurantStatus
	err = r.pool.QueryRow(ctx,
		`SELECT is_open, status_message, estimated_wait_time, updated_at
		 FROM restaurant_status
		 WHERE id = $1`,
		restaurantStatusID,
	).Scan(&st.IsOpen, &st.StatusMessage, &st.EstimatedWaitTime, &st.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get restaurant status: %w", err)
	}

	return &st, nil
}

// SaveRestaurantStatus сохраняет статус ресторана и обновляет время изменения в st.
func (r *PostgresRepository) SaveRestaurantStatus(ctx context.Context, st *model.RestaurantStatus) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO restaurant_status (id, is_open, status_message, estimated_wait_time, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET is_open = EXCLUDED.is_open,
		     status_message = EXCLUDED.status_message,
		     estimated_wait_time = EXCLUDED.estimated_wait_time,
		     updated_at = EXCLUDED.updated_at
		 RETURNING updated_at`,
		restaurantStatusID, st.IsOpen, st.StatusMessage, st.EstimatedWaitTime,
	).Scan(&st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save restaurant status: %w", err)
	}
	return nil
}
