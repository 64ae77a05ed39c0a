package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmeshcher/restaurant-orders/internal/model"
)

// Ошибки бизнес-логики. Обработчики HTTP сопоставляют их с кодами ответа через errors.Is.
var (
	ErrNotFound                  = errors.New("not found")
	ErrForbidden                 = errors.New("forbidden")
	ErrInvalidInput              = errors.New("invalid input")
	ErrInvalidTransition         = errors.New("invalid status transition")
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrGatewayUnavailable        = errors.New("payment gateway unavailable")
	ErrStorageUnavailable        = errors.New("storage unavailable")
	ErrRestaurantClosed          = errors.New("restaurant is closed")
	ErrDuplicatePayment          = errors.New("payment already processed")
	ErrUserExists                = errors.New("user already exists")
	ErrInvalidCredentials        = errors.New("invalid credentials")
)

// TransitionError описывает отклонённую смену статуса и допустимые варианты.
type TransitionError struct {
	From    model.OrderStatus
	To      model.OrderStatus
	Allowed []model.OrderStatus
}

func (e *TransitionError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, st := range e.Allowed {
		allowed = append(allowed, string(st))
	}
	return fmt.Sprintf("%s: %s -> %s (allowed: %s)", ErrInvalidTransition, e.From, e.To, strings.Join(allowed, ", "))
}

// Unwrap позволяет сравнивать ошибку с ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func invalidInput(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
