// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/mmeshcher/restaurant-orders/internal/model"
)

const (
	maxItems       = 100
	maxQuantity    = 99
	maxAddressLen  = 500
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

// IsValidPhone проверяет номер телефона: необязательный «+» и от 10 до 15 цифр,
// допускаются пробелы, дефисы и скобки между цифрами.
func IsValidPhone(phone string) bool {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return false
	}

	digits := 0
	for i, ch := range phone {
		switch {
		case unicode.IsDigit(ch):
			digits++
		case ch == '+' && i == 0:
		case ch == ' ' || ch == '-' || ch == '(' || ch == ')':
		default:
			return false
		}
	}

	return digits >= minPhoneDigits && digits <= maxPhoneDigits
}

// ValidateItems проверяет список позиций заказа.
func ValidateItems(items []model.ItemRequest) error {
	if len(items) == 0 {
		return errors.New("order must contain at least one item")
	}
	if len(items) > maxItems {
		return fmt.Errorf("order must contain at most %d items", maxItems)
	}

	for i, it := range items {
		if it.MenuItemID <= 0 {
			return fmt.Errorf("item %d: invalid menu item id", i)
		}
		if it.Quantity < 1 || it.Quantity > maxQuantity {
			return fmt.Errorf("item %d: quantity must be between 1 and %d", i, maxQuantity)
		}
	}

	return nil
}

// ValidateDelivery проверяет данные доставки.
func ValidateDelivery(d model.DeliveryInfo) error {
	address := strings.TrimSpace(d.Address)
	if address == "" {
		return errors.New("delivery address is required")
	}
	if len(address) > maxAddressLen {
		return fmt.Errorf("delivery address is longer than %d bytes", maxAddressLen)
	}

	if !IsValidPhone(d.Phone) {
		return errors.New("invalid phone number")
	}

	if (d.Latitude == nil) != (d.Longitude == nil) {
		return errors.New("latitude and longitude must be set together")
	}
	if d.Latitude != nil && (*d.Latitude < -90 || *d.Latitude > 90) {
		return errors.New("latitude out of range")
	}
	if d.Longitude != nil && (*d.Longitude < -180 || *d.Longitude > 180) {
		return errors.New("longitude out of range")
	}

	return nil
}
