// Package model содержит доменные сущности сервиса заказов ресторана.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amount денежная сумма в JSON: число с двумя знаками после точки, без перевода во float.
type Amount decimal.Decimal

// MarshalJSON реализует json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(a).StringFixed(2)), nil
}

// UnmarshalJSON реализует json.Unmarshaler. Принимает число или строку.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*a = Amount(d)
	return nil
}

// Decimal возвращает сумму как decimal.Decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.Decimal(a)
}

// Role определяет набор прав пользователя.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

// IsAdmin сообщает, обладает ли роль правами администратора.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// User представляет зарегистрированного пользователя.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// Actor описывает пользователя, от имени которого выполняется операция.
type Actor struct {
	UserID int64
	Role   Role
}

// OrderItem описывает позицию заказа с зафиксированной ценой.
type OrderItem struct {
	MenuItemID int64
	Quantity   int
	UnitPrice  decimal.Decimal
}

// Subtotal возвращает стоимость позиции.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemRequest описывает позицию, запрошенную клиентом. Цена берётся из меню.
type ItemRequest struct {
	MenuItemID int64
	Quantity   int
}

// DeliveryInfo содержит данные доставки заказа.
type DeliveryInfo struct {
	Address   string
	Phone     string
	Latitude  *float64
	Longitude *float64
}

// Order описывает заказ пользователя.
type Order struct {
	ID          int64
	UserID      int64
	Items       []OrderItem
	TotalAmount decimal.Decimal
	Status      OrderStatus
	OrderDate   time.Time
	Delivery    DeliveryInfo
}

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// PaymentMethod описывает способ оплаты.
type PaymentMethod string

const (
	PaymentMethodGateway PaymentMethod = "GATEWAY"
	PaymentMethodCash    PaymentMethod = "CASH"
)

// Payment описывает платёж по подтверждённому заказу.
type Payment struct {
	ID             int64
	OrderID        int64
	Amount         decimal.Decimal
	Status         PaymentStatus
	Method         PaymentMethod
	TransactionID  string
	GatewayOrderID string
	CreatedAt      time.Time
}

// GatewayPayment содержит данные, пришедшие от платёжного шлюза после оплаты.
type GatewayPayment struct {
	OrderID   string
	PaymentID string
	Signature string
}

// RestaurantStatus описывает текущее состояние ресторана. Существует в единственном экземпляре.
type RestaurantStatus struct {
	IsOpen            bool      `json:"isOpen"`
	StatusMessage     string    `json:"statusMessage"`
	EstimatedWaitTime string    `json:"estimatedWaitTime"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Stats содержит показатели для панели администратора.
type Stats struct {
	OrdersToday   int             `json:"ordersToday"`
	PendingOrders int             `json:"pendingOrders"`
	TotalRevenue  decimal.Decimal `json:"totalRevenue"`
	ActiveTables  int             `json:"activeTables"`
	AverageRating float64         `json:"averageRating"`
	TotalReviews  int             `json:"totalReviews"`
	FeedbackCount int             `json:"feedbackCount"`
}
