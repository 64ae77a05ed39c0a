package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmeshcher/restaurant-orders/internal/model"
	"github.com/mmeshcher/restaurant-orders/internal/payment"
	"github.com/mmeshcher/restaurant-orders/internal/repository"
	"github.com/mmeshcher/restaurant-orders/internal/validation"
)

// CreatePaymentOrder создаёт заказ в платёжном шлюзе на сумму, рассчитанную по ценам меню.
func (s *Service) CreatePaymentOrder(ctx context.Context, userID int64, items []model.ItemRequest) (*payment.RemoteOrder, error) {
	if s.gateway == nil {
		return nil, fmt.Errorf("%w: gateway not configured", ErrGatewayUnavailable)
	}
	if len(items) == 0 {
		return nil, invalidInput(errors.New("order must contain at least one item"))
	}

	order, err := s.priceItems(ctx, userID, items)
	if err != nil {
		return nil, err
	}

	amount, err := payment.ToMinorUnits(order.TotalAmount)
	if err != nil {
		return nil, invalidInput(err)
	}

	receipt := fmt.Sprintf("u%d-%s", userID, uuid.NewString())
	remote, err := s.gateway.CreateRemoteOrder(ctx, amount, s.currency, receipt)
	if err != nil {
		return nil, gatewayErr(err)
	}

	return remote, nil
}

// ConfirmWithPayment проверяет подпись шлюза и атомарно сохраняет заказ в статусе CONFIRMED
// вместе с завершённым платежом. При неуспешной проверке ничего не сохраняется.
func (s *Service) ConfirmWithPayment(ctx context.Context, userID int64, items []model.ItemRequest, delivery model.DeliveryInfo, gp model.GatewayPayment) (*model.Order, error) {
	if gp.OrderID == "" || gp.PaymentID == "" || gp.Signature == "" {
		return nil, invalidInput(errors.New("gateway order id, payment id and signature are required"))
	}
	if err := validateOrderRequest(items, delivery); err != nil {
		return nil, err
	}

	if s.gateway == nil || !s.gateway.VerifyCallback(gp.OrderID, gp.PaymentID, gp.Signature) {
		return nil, ErrPaymentVerificationFailed
	}

	order, err := s.priceOrder(ctx, userID, items, delivery)
	if err != nil {
		return nil, err
	}

	if err := s.checkPaidAmount(ctx, gp.OrderID, order); err != nil {
		return nil, err
	}

	order.Status = model.OrderStatusConfirmed
	pay := &model.Payment{
		Amount:         order.TotalAmount,
		Status:         model.PaymentStatusCompleted,
		Method:         model.PaymentMethodGateway,
		TransactionID:  gp.PaymentID,
		GatewayOrderID: gp.OrderID,
	}

	if err := s.repo.CreateOrderWithPayment(ctx, order, pay); err != nil {
		if errors.Is(err, repository.ErrPaymentExists) {
			return nil, ErrDuplicatePayment
		}
		return nil, storageErr("create order with payment", err)
	}

	s.events.OrderCreated(order)
	s.events.OrderStatusChanged(order)
	s.events.StatsChanged()

	return order, nil
}

// checkPaidAmount сверяет сумму заказа в шлюзе с суммой, рассчитанной по ценам меню.
func (s *Service) checkPaidAmount(ctx context.Context, gatewayOrderID string, order *model.Order) error {
	want, err := payment.ToMinorUnits(order.TotalAmount)
	if err != nil {
		return invalidInput(err)
	}

	remote, err := s.gateway.GetRemoteOrder(ctx, gatewayOrderID)
	if err != nil {
		if errors.Is(err, payment.ErrUnknownOrder) {
			return ErrPaymentVerificationFailed
		}
		return gatewayErr(err)
	}

	if remote.Amount != want {
		return fmt.Errorf("%w: paid %d, order total %d", ErrPaymentVerificationFailed, remote.Amount, want)
	}
	return nil
}

// priceItems проверяет позиции по тем же правилам, что и подтверждение оплаты,
// и считает сумму без проверки данных доставки.
func (s *Service) priceItems(ctx context.Context, userID int64, items []model.ItemRequest) (*model.Order, error) {
	if err := validation.ValidateItems(items); err != nil {
		return nil, invalidInput(err)
	}
	return s.priceOrder(ctx, userID, items, model.DeliveryInfo{})
}

func gatewayErr(err error) error {
	if errors.Is(err, payment.ErrInvalidAmount) {
		return invalidInput(err)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}
