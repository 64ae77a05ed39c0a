// Package handler содержит HTTP-обработчики API сервиса заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-orders/internal/middleware"
	"github.com/mmeshcher/restaurant-orders/internal/model"
	"github.com/mmeshcher/restaurant-orders/internal/notify"
	"github.com/mmeshcher/restaurant-orders/internal/payment"
	"github.com/mmeshcher/restaurant-orders/internal/service"
)

const maxBodyBytes = 1 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, model.Role, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, model.Role, error)
	CreateOrder(ctx context.Context, userID int64, items []model.ItemRequest, delivery model.DeliveryInfo) (*model.Order, error)
	ConfirmWithPayment(ctx context.Context, userID int64, items []model.ItemRequest, delivery model.DeliveryInfo, gp model.GatewayPayment) (*model.Order, error)
	CreatePaymentOrder(ctx context.Context, userID int64, items []model.ItemRequest) (*payment.RemoteOrder, error)
	UpdateStatus(ctx context.Context, orderID int64, next model.OrderStatus, actor model.Actor) (*model.Order, error)
	GetOrder(ctx context.Context, orderID int64, actor model.Actor) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]*model.Order, error)
	ListOrders(ctx context.Context, actor model.Actor, limit int) ([]*model.Order, error)
	GetStats(ctx context.Context) (*model.Stats, error)
	GetRestaurantStatus(ctx context.Context) (*model.RestaurantStatus, error)
	UpdateRestaurantStatus(ctx context.Context, actor model.Actor, value model.RestaurantStatus) (*model.RestaurantStatus, error)
}

// Subscriber подписывает WebSocket-соединение на набор топиков.
type Subscriber interface {
	Serve(w http.ResponseWriter, r *http.Request, topics []string)
}

// Handler реализует HTTP-обработчики API сервиса заказов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	subscriber     Subscriber
	corsOrigins    []string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// subscriber может быть nil, тогда /ws отвечает 503.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, subscriber Subscriber, corsOrigins []string) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		subscriber:     subscriber,
		corsOrigins:    corsOrigins,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type itemRequest struct {
	MenuItemID int64 `json:"menuItemId"`
	Quantity   int   `json:"quantity"`
}

type deliveryRequest struct {
	Address   string   `json:"address"`
	Phone     string   `json:"phone"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type createOrderRequest struct {
	Items    []itemRequest   `json:"items"`
	Delivery deliveryRequest `json:"delivery"`
}

func (r createOrderRequest) items() []model.ItemRequest {
	res := make([]model.ItemRequest, 0, len(r.Items))
	for _, it := range r.Items {
		res = append(res, model.ItemRequest{MenuItemID: it.MenuItemID, Quantity: it.Quantity})
	}
	return res
}

func (r createOrderRequest) delivery() model.DeliveryInfo {
	return model.DeliveryInfo{
		Address:   r.Delivery.Address,
		Phone:     r.Delivery.Phone,
		Latitude:  r.Delivery.Latitude,
		Longitude: r.Delivery.Longitude,
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

type paymentOrderRequest struct {
	Items []itemRequest `json:"items"`
}

type verifyPaymentRequest struct {
	GatewayOrderID   string             `json:"razorpay_order_id"`
	GatewayPaymentID string             `json:"razorpay_payment_id"`
	Signature        string             `json:"razorpay_signature"`
	Order            createOrderRequest `json:"order"`
}

type restaurantStatusRequest struct {
	IsOpen            *bool  `json:"isOpen"`
	StatusMessage     string `json:"statusMessage"`
	EstimatedWaitTime string `json:"estimatedWaitTime"`
}

type orderItemResponse struct {
	MenuItemID int64        `json:"menuItemId"`
	Quantity   int          `json:"quantity"`
	UnitPrice  model.Amount `json:"unitPrice"`
	Subtotal   model.Amount `json:"subtotal"`
}

type orderResponse struct {
	ID          int64               `json:"id"`
	UserID      int64               `json:"userId"`
	Status      string              `json:"status"`
	TotalAmount model.Amount        `json:"totalAmount"`
	OrderDate   string              `json:"orderDate"`
	Items       []orderItemResponse `json:"items"`
	Delivery    deliveryRequest     `json:"delivery"`
}

type paymentOrderResponse struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"keyId"`
}

type errorResponse struct {
	Error   string   `json:"error"`
	Allowed []string `json:"allowed,omitempty"`
}

func newOrderResponse(o *model.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			UnitPrice:  model.Amount(it.UnitPrice),
			Subtotal:   model.Amount(it.Subtotal()),
		})
	}
	return orderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		TotalAmount: model.Amount(o.TotalAmount),
		OrderDate:   o.OrderDate.Format(time.RFC3339),
		Items:       items,
		Delivery: deliveryRequest{
			Address:   o.Delivery.Address,
			Phone:     o.Delivery.Phone,
			Latitude:  o.Delivery.Latitude,
			Longitude: o.Delivery.Longitude,
		},
	}
}

func newOrderList(orders []*model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, newOrderResponse(o))
	}
	return resp
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, role, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, model.Actor{UserID: userID, Role: role})
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, role, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, model.Actor{UserID: userID, Role: role})
	w.WriteHeader(http.StatusOK)
}

// CreateOrder создаёт заказ текущего пользователя с оплатой при получении.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.service.CreateOrder(r.Context(), actor.UserID, req.items(), req.delivery())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newOrderResponse(order))
}

// GetMyOrders возвращает заказы текущего пользователя. Пустой список отдаётся как [].
func (h *Handler) GetMyOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newOrderList(orders))
}

// ListOrders возвращает последние заказы всех пользователей. Параметр limit необязателен.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = n
	}

	orders, err := h.service.ListOrders(r.Context(), actor, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newOrderList(orders))
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), orderID, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newOrderResponse(order))
}

// UpdateOrderStatus переводит заказ в новый статус.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}

	next, valid := model.ParseOrderStatus(req.Status)
	if !valid {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown order status " + strconv.Quote(req.Status)})
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), orderID, next, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newOrderResponse(order))
}

// CreatePaymentOrder создаёт заказ в платёжном шлюзе.
func (h *Handler) CreatePaymentOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req paymentOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	remote, err := h.service.CreatePaymentOrder(r.Context(), actor.UserID, createOrderRequest{Items: req.Items}.items())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, paymentOrderResponse{
		OrderID:  remote.ID,
		Amount:   remote.Amount,
		Currency: remote.Currency,
		KeyID:    remote.KeyID,
	})
}

// VerifyPayment проверяет подпись шлюза и сохраняет подтверждённый заказ вместе с платежом.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req verifyPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	gp := model.GatewayPayment{
		OrderID:   req.GatewayOrderID,
		PaymentID: req.GatewayPaymentID,
		Signature: req.Signature,
	}

	order, err := h.service.ConfirmWithPayment(r.Context(), actor.UserID, req.Order.items(), req.Order.delivery(), gp)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newOrderResponse(order))
}

// GetRestaurantStatus возвращает текущий статус ресторана.
func (h *Handler) GetRestaurantStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.GetRestaurantStatus(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// UpdateRestaurantStatus обновляет статус ресторана.
func (h *Handler) UpdateRestaurantStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req restaurantStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IsOpen == nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "isOpen is required"})
		return
	}

	st, err := h.service.UpdateRestaurantStatus(r.Context(), actor, model.RestaurantStatus{
		IsOpen:            *req.IsOpen,
		StatusMessage:     req.StatusMessage,
		EstimatedWaitTime: req.EstimatedWaitTime,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, st)
}

// GetStats возвращает статистику для панели администратора.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, notify.NewStatsView(stats))
}

// Subscribe открывает WebSocket-соединение. Набор топиков определяется ролью пользователя:
// клиент получает свои заказы и статус ресторана, администратор дополнительно все заказы и статистику.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if h.subscriber == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	h.subscriber.Serve(w, r, topicsFor(actor))
}

func topicsFor(actor model.Actor) []string {
	topics := []string{notify.UserTopic(actor.UserID), notify.TopicRestaurantStatus}
	if actor.Role.IsAdmin() {
		topics = append(topics, notify.TopicOrders, notify.TopicAdminStats)
	}
	return topics
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return actor, ok
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

// writeError сопоставляет ошибку бизнес-логики с кодом ответа.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var te *service.TransitionError
	if errors.As(err, &te) {
		allowed := make([]string, 0, len(te.Allowed))
		for _, st := range te.Allowed {
			allowed = append(allowed, string(st))
		}
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Allowed: allowed})
		return
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
		)
		http.Error(w, http.StatusText(status), status)
		return
	}

	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrPaymentVerificationFailed):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrRestaurantClosed),
		errors.Is(err, service.ErrDuplicatePayment),
		errors.Is(err, service.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrGatewayUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
