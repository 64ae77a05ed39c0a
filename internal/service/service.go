// Package service реализует бизнес-логику сервиса заказов ресторана.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/restaurant-orders/internal/keylock"
	"github.com/mmeshcher/restaurant-orders/internal/model"
	"github.com/mmeshcher/restaurant-orders/internal/payment"
	"github.com/mmeshcher/restaurant-orders/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetMenuPrices(ctx context.Context, ids []int64) (map[int64]decimal.Decimal, error)
	CreateOrder(ctx context.Context, o *model.Order) error
	CreateOrderWithPayment(ctx context.Context, o *model.Order, p *model.Payment) error
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]*model.Order, error)
	ListOrders(ctx context.Context, limit int) ([]*model.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus) error
	CountOrdersSince(ctx context.Context, since time.Time) (int, error)
	CountOrdersByStatus(ctx context.Context, status model.OrderStatus) (int, error)
	SumTotalAmountExcluding(ctx context.Context, excluded model.OrderStatus) (decimal.Decimal, error)
	GetRestaurantStatus(ctx context.Context) (*model.RestaurantStatus, error)
	SaveRestaurantStatus(ctx context.Context, st *model.RestaurantStatus) error
}

// Gateway описывает платёжный шлюз.
type Gateway interface {
	CreateRemoteOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*payment.RemoteOrder, error)
	GetRemoteOrder(ctx context.Context, id string) (*payment.RemoteOrder, error)
	VerifyCallback(orderID, paymentID, signature string) bool
}

// EventSink получает уведомления после фиксации изменений.
type EventSink interface {
	OrderCreated(o *model.Order)
	OrderStatusChanged(o *model.Order)
	StatsChanged()
	RestaurantStatusChanged(st *model.RestaurantStatus)
}

// Options задаёт политику сервиса.
type Options struct {
	// Currency код валюты для платёжного шлюза.
	Currency string
	// AdminLogins логины, получающие роль администратора при регистрации.
	AdminLogins []string
	// RejectWhenClosed запрещает создавать заказы, пока ресторан закрыт.
	RejectWhenClosed bool
}

// Service содержит бизнес-логику сервиса заказов.
type Service struct {
	repo             Repository
	gateway          Gateway
	events           EventSink
	locks            *keylock.Locker
	currency         string
	admins           map[string]struct{}
	rejectWhenClosed bool
	now              func() time.Time
}

// NewService создаёт сервис. gateway может быть nil, тогда оплата через шлюз недоступна.
func NewService(repo Repository, gateway Gateway, events EventSink, opts Options) *Service {
	if events == nil {
		events = nopSink{}
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}

	admins := make(map[string]struct{}, len(opts.AdminLogins))
	for _, l := range opts.AdminLogins {
		if l = strings.TrimSpace(l); l != "" {
			admins[l] = struct{}{}
		}
	}

	return &Service{
		repo:             repo,
		gateway:          gateway,
		events:           events,
		locks:            keylock.New(),
		currency:         opts.Currency,
		admins:           admins,
		rejectWhenClosed: opts.RejectWhenClosed,
		now:              time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя и возвращает его идентификатор и роль.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, model.Role, error) {
	role := model.RoleCustomer
	if _, ok := s.admins[login]; ok {
		role = model.RoleAdmin
	}

	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, role)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, "", ErrUserExists
		}
		return 0, "", storageErr("create user", err)
	}
	return id, role, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор и роль.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, model.Role, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, "", ErrInvalidCredentials
		}
		return 0, "", storageErr("get user", err)
	}

	hashed := hashPassword(login, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return 0, "", ErrInvalidCredentials
	}

	return u.ID, u.Role, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

type nopSink struct{}

func (nopSink) OrderCreated(*model.Order)                       {}
func (nopSink) OrderStatusChanged(*model.Order)                 {}
func (nopSink) StatsChanged()                                   {}
func (nopSink) RestaurantStatusChanged(*model.RestaurantStatus) {}
