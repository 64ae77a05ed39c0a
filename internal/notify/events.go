package notify

import (
	"strconv"
	"time"

	"github.com/mmeshcher/restaurant-orders/internal/model"
)

// Топики, на которые подписываются клиенты.
const (
	TopicOrders           = "/topic/orders"
	TopicAdminStats       = "/topic/admin/stats"
	TopicRestaurantStatus = "/topic/restaurant-status"

	userTopicPrefix = "/topic/order-status/"
)

// TopicPrefix общий префикс всех топиков.
const TopicPrefix = "/topic/"

// UserTopic возвращает топик статусов заказов конкретного пользователя.
func UserTopic(userID int64) string {
	return userTopicPrefix + strconv.FormatInt(userID, 10)
}

// Типы событий.
const (
	EventOrderCreated            = "ORDER_CREATED"
	EventOrderStatusChanged      = "ORDER_STATUS_CHANGED"
	EventStatsUpdated            = "STATS_UPDATED"
	EventRestaurantStatusChanged = "RESTAURANT_STATUS_CHANGED"
)

// Message конверт события, отправляемый подписчикам.
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderItemView позиция заказа в событии.
type OrderItemView struct {
	MenuItemID int64        `json:"menuItemId"`
	Quantity   int          `json:"quantity"`
	UnitPrice  model.Amount `json:"unitPrice"`
}

// OrderView представление заказа в событии.
type OrderView struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"userId"`
	Status      string          `json:"status"`
	TotalAmount model.Amount    `json:"totalAmount"`
	OrderDate   time.Time       `json:"orderDate"`
	Items       []OrderItemView `json:"items"`
	Address     string          `json:"address"`
	Phone       string          `json:"phone"`
}

// NewOrderView строит представление заказа для событий.
func NewOrderView(o *model.Order) OrderView {
	items := make([]OrderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemView{
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			UnitPrice:  model.Amount(it.UnitPrice),
		})
	}
	return OrderView{
		ID:          o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		TotalAmount: model.Amount(o.TotalAmount),
		OrderDate:   o.OrderDate,
		Items:       items,
		Address:     o.Delivery.Address,
		Phone:       o.Delivery.Phone,
	}
}
