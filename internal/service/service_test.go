package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/restaurant-orders/internal/model"
	"github.com/mmeshcher/restaurant-orders/internal/payment"
	"github.com/mmeshcher/restaurant-orders/internal/repository"
)

const testSecret = "gateway-secret"

// memRepo хранит данные в памяти и ведёт себя как транзакционное хранилище.
type memRepo struct {
	mu sync.Mutex

	users    map[string]*model.User
	prices   map[int64]decimal.Decimal
	orders   map[int64]*model.Order
	payments []*model.Payment
	status   *model.RestaurantStatus
	nextID   int64

	createUserErr error
	writeErr      error
}

func newMemRepo() *memRepo {
	return &memRepo{
		users: make(map[string]*model.User),
		prices: map[int64]decimal.Decimal{
			1: decimal.RequireFromString("100.00"),
			2: decimal.RequireFromString("75.50"),
			3: decimal.RequireFromString("12.25"),
		},
		orders: make(map[int64]*model.Order),
	}
}

func copyOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = append([]model.OrderItem(nil), o.Items...)
	return &c
}

func (r *memRepo) Close() error { return nil }

func (r *memRepo) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createUserErr != nil {
		return 0, r.createUserErr
	}
	if _, ok := r.users[login]; ok {
		return 0, repository.ErrUserExists
	}
	r.nextID++
	r.users[login] = &model.User{ID: r.nextID, Login: login, PasswordHash: passwordHash, Role: role}
	return r.nextID, nil
}

func (r *memRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[login]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (r *memRepo) GetMenuPrices(ctx context.Context, ids []int64) (map[int64]decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make(map[int64]decimal.Decimal)
	for _, id := range ids {
		if p, ok := r.prices[id]; ok {
			res[id] = p
		}
	}
	return res, nil
}

func (r *memRepo) insertLocked(o *model.Order) {
	r.nextID++
	o.ID = r.nextID
	if o.OrderDate.IsZero() {
		o.OrderDate = time.Now()
	}
	r.orders[o.ID] = copyOrder(o)
}

func (r *memRepo) CreateOrder(ctx context.Context, o *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	r.insertLocked(o)
	return nil
}

func (r *memRepo) CreateOrderWithPayment(ctx context.Context, o *model.Order, p *model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	for _, existing := range r.payments {
		if existing.TransactionID == p.TransactionID {
			return fmt.Errorf("%w: %s", repository.ErrPaymentExists, p.TransactionID)
		}
	}
	r.insertLocked(o)
	p.OrderID = o.ID
	pc := *p
	r.payments = append(r.payments, &pc)
	return nil
}

func (r *memRepo) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (r *memRepo) GetOrdersByUser(ctx context.Context, userID int64) ([]*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*model.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			res = append(res, copyOrder(o))
		}
	}
	return res, nil
}

func (r *memRepo) ListOrders(ctx context.Context, limit int) ([]*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*model.Order
	for _, o := range r.orders {
		if len(res) == limit {
			break
		}
		res = append(res, copyOrder(o))
	}
	return res, nil
}

func (r *memRepo) UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	o, ok := r.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if o.Status != from {
		return repository.ErrStatusConflict
	}
	o.Status = to
	return nil
}

func (r *memRepo) CountOrdersSince(ctx context.Context, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.orders {
		if !o.OrderDate.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CountOrdersByStatus(ctx context.Context, status model.OrderStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.orders {
		if o.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) SumTotalAmountExcluding(ctx context.Context, excluded model.OrderStatus) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := decimal.Zero
	for _, o := range r.orders {
		if o.Status != excluded {
			sum = sum.Add(o.TotalAmount)
		}
	}
	return sum, nil
}

func (r *memRepo) GetRestaurantStatus(ctx context.Context) (*model.RestaurantStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == nil {
		r.status = &model.RestaurantStatus{IsOpen: true, UpdatedAt: time.Now()}
	}
	st := *r.status
	return &st, nil
}

func (r *memRepo) SaveRestaurantStatus(ctx context.Context, st *model.RestaurantStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	st.UpdatedAt = time.Now()
	saved := *st
	r.status = &saved
	return nil
}

func (r *memRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *memRepo) paymentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

// stubGateway подписывает и проверяет обратные вызовы тем же алгоритмом, что и настоящий клиент.
type stubGateway struct {
	remoteAmounts map[string]int64
	created       []int64
	createErr     error
}

func (g *stubGateway) CreateRemoteOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*payment.RemoteOrder, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, amountMinor)
	return &payment.RemoteOrder{ID: "order_remote", Amount: amountMinor, Currency: currency, KeyID: "key"}, nil
}

func (g *stubGateway) GetRemoteOrder(ctx context.Context, id string) (*payment.RemoteOrder, error) {
	amount, ok := g.remoteAmounts[id]
	if !ok {
		return nil, payment.ErrUnknownOrder
	}
	return &payment.RemoteOrder{ID: id, Amount: amount}, nil
}

func (g *stubGateway) VerifyCallback(orderID, paymentID, signature string) bool {
	return payment.VerifySignature(orderID, paymentID, signature, testSecret)
}

type recordingSink struct {
	mu            sync.Mutex
	created       []*model.Order
	statusChanged []*model.Order
	stats         int
	restaurant    []*model.RestaurantStatus
}

func (s *recordingSink) OrderCreated(o *model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, copyOrder(o))
}

func (s *recordingSink) OrderStatusChanged(o *model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusChanged = append(s.statusChanged, copyOrder(o))
}

func (s *recordingSink) StatsChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats++
}

func (s *recordingSink) RestaurantStatusChanged(st *model.RestaurantStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restaurant = append(s.restaurant, st)
}

var (
	admin    = model.Actor{UserID: 1, Role: model.RoleAdmin}
	customer = model.Actor{UserID: 2, Role: model.RoleCustomer}
	delivery = model.DeliveryInfo{Address: "MG Road 1", Phone: "9876543210"}
)

func newTestService() (*Service, *memRepo, *stubGateway, *recordingSink) {
	repo := newMemRepo()
	gw := &stubGateway{remoteAmounts: map[string]int64{}}
	sink := &recordingSink{}
	svc := NewService(repo, gw, sink, Options{Currency: "INR", AdminLogins: []string{"boss"}})
	return svc, repo, gw, sink
}

var errBoom = errors.New("connection refused")
