package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/restaurant-orders/internal/model"
)

const orderColumns = `id, user_id, total_amount, status, order_date, address, phone, latitude, longitude`

// CreateOrder сохраняет заказ вместе с позициями в одной транзакции.
// Заполняет ID и OrderDate переданного заказа.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertOrder(ctx, tx, o); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// CreateOrderWithPayment сохраняет заказ, позиции и платёж одной транзакцией:
// заказ без платежа или платёж без заказа не фиксируются.
func (r *PostgresRepository) CreateOrderWithPayment(ctx context.Context, o *model.Order, p *model.Payment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertOrder(ctx, tx, o); err != nil {
		return err
	}

	p.OrderID = o.ID
	err = tx.QueryRow(ctx,
		`INSERT INTO payments (order_id, amount, status, method, transaction_id, gateway_order_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		p.OrderID, toMinor(p.Amount), string(p.Status), string(p.Method), p.TransactionID, p.GatewayOrderID,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrPaymentExists, p.TransactionID)
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO orders (user_id, total_amount, status, address, phone, latitude, longitude)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, order_date`,
		o.UserID, toMinor(o.TotalAmount), string(o.Status),
		o.Delivery.Address, o.Delivery.Phone, o.Delivery.Latitude, o.Delivery.Longitude,
	).Scan(&o.ID, &o.OrderDate)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(
			`INSERT INTO order_items (order_id, menu_item_id, quantity, unit_price) VALUES ($1, $2, $3, $4)`,
			o.ID, it.MenuItemID, it.Quantity, toMinor(it.UnitPrice),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}

	return nil
}

// GetOrder возвращает заказ с позициями.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		id,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	orders := []*model.Order{o}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}

	return o, nil
}

// GetOrdersByUser возвращает заказы пользователя, начиная с самых новых.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]*model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY order_date DESC, id DESC`,
		userID,
	)
}

// ListOrders возвращает последние заказы всех пользователей.
func (r *PostgresRepository) ListOrders(ctx context.Context, limit int) ([]*model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 ORDER BY order_date DESC, id DESC
		 LIMIT $1`,
		limit,
	)
}

func (r *PostgresRepository) queryOrders(ctx context.Context, query string, args ...any) ([]*model.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		total  int64
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &total, &status, &o.OrderDate,
		&o.Delivery.Address, &o.Delivery.Phone, &o.Delivery.Latitude, &o.Delivery.Longitude)
	if err != nil {
		return nil, err
	}
	o.TotalAmount = fromMinor(total)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func (r *PostgresRepository) loadItems(ctx context.Context, orders []*model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[int64]*model.Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT order_id, menu_item_id, quantity, unit_price
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID int64
			item    model.OrderItem
			price   int64
		)
		if err := rows.Scan(&orderID, &item.MenuItemID, &item.Quantity, &price); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		item.UnitPrice = fromMinor(price)
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	return nil
}

// UpdateOrderStatus переводит заказ из статуса from в статус to.
// Строка заказа блокируется на время проверки, поэтому параллельные переходы сериализуются.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("lock order for update: %w", err)
	}

	if model.OrderStatus(current) != from {
		return fmt.Errorf("%w: expected %s, got %s", ErrStatusConflict, from, current)
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, string(to)); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// CountOrdersSince возвращает количество заказов, созданных начиная с момента since.
func (r *PostgresRepository) CountOrdersSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE order_date >= $1`, since).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count orders since: %w", err)
	}
	return n, nil
}

// CountOrdersByStatus возвращает количество заказов в статусе status.
func (r *PostgresRepository) CountOrdersByStatus(ctx context.Context, status model.OrderStatus) (int, error) {
	var n int
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE status = $1`, string(status)).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count orders by status: %w", err)
	}
	return n, nil
}

// SumTotalAmountExcluding возвращает сумму заказов во всех статусах, кроме excluded.
func (r *PostgresRepository) SumTotalAmountExcluding(ctx context.Context, excluded model.OrderStatus) (decimal.Decimal, error) {
	var sum int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT COALESCE(SUM(total_amount), 0)::BIGINT FROM orders WHERE status <> $1`,
			string(excluded),
		).Scan(&sum)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum revenue: %w", err)
	}
	return fromMinor(sum), nil
}
