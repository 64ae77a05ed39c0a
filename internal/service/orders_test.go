package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/restaurant-orders/internal/model"
)

func TestCreateOrder_TotalFromMenuPrices(t *testing.T) {
	svc, repo, _, sink := newTestService()

	order, err := svc.CreateOrder(context.Background(), customer.UserID, []model.ItemRequest{
		{MenuItemID: 1, Quantity: 2},
		{MenuItemID: 2, Quantity: 1},
		{MenuItemID: 3, Quantity: 4},
	}, delivery)
	require.NoError(t, err)

	// 2*100.00 + 75.50 + 4*12.25
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("324.50")), "total = %s", order.TotalAmount)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.NotZero(t, order.ID)
	assert.Equal(t, 1, repo.orderCount())

	require.Len(t, sink.created, 1)
	assert.Equal(t, order.ID, sink.created[0].ID)
	assert.Equal(t, 1, sink.stats)
}

func TestCreateOrder_EmptyItems(t *testing.T) {
	svc, repo, _, sink := newTestService()

	_, err := svc.CreateOrder(context.Background(), customer.UserID, nil, delivery)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, repo.orderCount())
	assert.Empty(t, sink.created)
}

func TestCreateOrder_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		items    []model.ItemRequest
		delivery model.DeliveryInfo
	}{
		{
			name:     "zero quantity",
			items:    []model.ItemRequest{{MenuItemID: 1, Quantity: 0}},
			delivery: delivery,
		},
		{
			name:     "unknown menu item",
			items:    []model.ItemRequest{{MenuItemID: 42, Quantity: 1}},
			delivery: delivery,
		},
		{
			name:     "missing address",
			items:    []model.ItemRequest{{MenuItemID: 1, Quantity: 1}},
			delivery: model.DeliveryInfo{Phone: "9876543210"},
		},
		{
			name:     "bad phone",
			items:    []model.ItemRequest{{MenuItemID: 1, Quantity: 1}},
			delivery: model.DeliveryInfo{Address: "x", Phone: "call me"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _, _ := newTestService()
			_, err := svc.CreateOrder(context.Background(), customer.UserID, tt.items, tt.delivery)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Zero(t, repo.orderCount())
		})
	}
}

func TestCreateOrder_StorageFailureEmitsNothing(t *testing.T) {
	svc, repo, _, sink := newTestService()
	repo.writeErr = errBoom

	_, err := svc.CreateOrder(context.Background(), customer.UserID, []model.ItemRequest{{MenuItemID: 1, Quantity: 1}}, delivery)
	require.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Empty(t, sink.created)
	assert.Zero(t, sink.stats)
}

func TestCreateOrder_RestaurantClosed(t *testing.T) {
	repo := newMemRepo()
	repo.status = &model.RestaurantStatus{IsOpen: false, StatusMessage: "closed for renovation"}
	svc := NewService(repo, nil, nil, Options{RejectWhenClosed: true})

	_, err := svc.CreateOrder(context.Background(), customer.UserID, []model.ItemRequest{{MenuItemID: 1, Quantity: 1}}, delivery)
	require.ErrorIs(t, err, ErrRestaurantClosed)
	assert.Zero(t, repo.orderCount())

	// без флага закрытый ресторан заказы принимает
	open := NewService(repo, nil, nil, Options{})
	_, err = open.CreateOrder(context.Background(), customer.UserID, []model.ItemRequest{{MenuItemID: 1, Quantity: 1}}, delivery)
	require.NoError(t, err)
}

func seedOrder(t *testing.T, svc *Service, userID int64) *model.Order {
	t.Helper()
	order, err := svc.CreateOrder(context.Background(), userID, []model.ItemRequest{{MenuItemID: 1, Quantity: 1}}, delivery)
	require.NoError(t, err)
	return order
}

func advance(t *testing.T, svc *Service, id int64, path ...model.OrderStatus) {
	t.Helper()
	for _, st := range path {
		_, err := svc.UpdateStatus(context.Background(), id, st, admin)
		require.NoError(t, err, "transition to %s", st)
	}
}

func TestUpdateStatus_ForwardPath(t *testing.T) {
	svc, _, _, sink := newTestService()
	order := seedOrder(t, svc, customer.UserID)

	advance(t, svc, order.ID,
		model.OrderStatusConfirmed,
		model.OrderStatusPreparing,
		model.OrderStatusReady,
		model.OrderStatusDelivered,
	)

	got, err := svc.GetOrder(context.Background(), order.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, got.Status)

	require.Len(t, sink.statusChanged, 4)
	assert.Equal(t, model.OrderStatusDelivered, sink.statusChanged[3].Status)
}

func TestUpdateStatus_InvalidTransition(t *testing.T) {
	svc, _, _, sink := newTestService()
	order := seedOrder(t, svc, customer.UserID)
	advance(t, svc, order.ID,
		model.OrderStatusConfirmed,
		model.OrderStatusPreparing,
		model.OrderStatusReady,
		model.OrderStatusDelivered,
	)
	emitted := len(sink.statusChanged)

	_, err := svc.UpdateStatus(context.Background(), order.ID, model.OrderStatusPreparing, admin)
	require.ErrorIs(t, err, ErrInvalidTransition)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.OrderStatusDelivered, te.From)
	assert.Equal(t, model.OrderStatusPreparing, te.To)
	assert.Empty(t, te.Allowed)

	got, err := svc.GetOrder(context.Background(), order.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, got.Status)
	assert.Len(t, sink.statusChanged, emitted)
}

func TestUpdateStatus_SkipReportsAllowed(t *testing.T) {
	svc, _, _, _ := newTestService()
	order := seedOrder(t, svc, customer.UserID)

	_, err := svc.UpdateStatus(context.Background(), order.ID, model.OrderStatusReady, admin)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, []model.OrderStatus{model.OrderStatusConfirmed, model.OrderStatusCancelled}, te.Allowed)
}

func TestUpdateStatus_SameStatusRejected(t *testing.T) {
	svc, _, _, _ := newTestService()
	order := seedOrder(t, svc, customer.UserID)

	_, err := svc.UpdateStatus(context.Background(), order.ID, model.OrderStatusPending, admin)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateStatus_Forbidden(t *testing.T) {
	svc, _, _, _ := newTestService()
	order := seedOrder(t, svc, customer.UserID)

	_, err := svc.UpdateStatus(context.Background(), order.ID, model.OrderStatusConfirmed, customer)
	require.ErrorIs(t, err, ErrForbidden)

	// права проверяются до поиска заказа
	_, err = svc.UpdateStatus(context.Background(), 9999, model.OrderStatusConfirmed, customer)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateStatus_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.UpdateStatus(context.Background(), 9999, model.OrderStatusConfirmed, admin)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatus_ConcurrentConflictingTransitions(t *testing.T) {
	for round := 0; round < 20; round++ {
		svc, _, _, sink := newTestService()
		order := seedOrder(t, svc, customer.UserID)
		advance(t, svc, order.ID,
			model.OrderStatusConfirmed,
			model.OrderStatusPreparing,
			model.OrderStatusReady,
		)
		before := len(sink.statusChanged)

		targets := []model.OrderStatus{model.OrderStatusDelivered, model.OrderStatusCancelled}
		errs := make([]error, len(targets))

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i, target := range targets {
			wg.Add(1)
			go func(i int, target model.OrderStatus) {
				defer wg.Done()
				<-start
				_, errs[i] = svc.UpdateStatus(context.Background(), order.ID, target, admin)
			}(i, target)
		}
		close(start)
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			require.ErrorIs(t, err, ErrInvalidTransition)
		}
		require.Equal(t, 1, succeeded, "round %d", round)

		got, err := svc.GetOrder(context.Background(), order.ID, admin)
		require.NoError(t, err)
		assert.True(t, got.Status.IsTerminal())
		assert.Len(t, sink.statusChanged, before+1)
	}
}

func TestGetOrder_Access(t *testing.T) {
	svc, _, _, _ := newTestService()
	order := seedOrder(t, svc, customer.UserID)

	got, err := svc.GetOrder(context.Background(), order.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = svc.GetOrder(context.Background(), order.ID, admin)
	require.NoError(t, err)

	stranger := model.Actor{UserID: 77, Role: model.RoleCustomer}
	_, err = svc.GetOrder(context.Background(), order.ID, stranger)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.GetOrder(context.Background(), 9999, customer)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrdersByUser(t *testing.T) {
	svc, _, _, _ := newTestService()
	seedOrder(t, svc, customer.UserID)
	seedOrder(t, svc, customer.UserID)
	seedOrder(t, svc, 77)

	orders, err := svc.GetOrdersByUser(context.Background(), customer.UserID)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, customer.UserID, o.UserID)
	}
}

func TestListOrders(t *testing.T) {
	svc, _, _, _ := newTestService()
	for i := 0; i < 3; i++ {
		seedOrder(t, svc, customer.UserID)
	}

	_, err := svc.ListOrders(context.Background(), customer, 10)
	require.ErrorIs(t, err, ErrForbidden)

	orders, err := svc.ListOrders(context.Background(), admin, 0)
	require.NoError(t, err)
	assert.Len(t, orders, 3)

	orders, err = svc.ListOrders(context.Background(), admin, 2)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}
