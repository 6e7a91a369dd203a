package services

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the requester does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates the order cannot make the requested change in its current state.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates another writer changed the order concurrently.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderPaymentNotVerified indicates the payment gateway rejected the transaction.
	ErrOrderPaymentNotVerified = errors.New("order: payment not verified")
	// ErrPaymentUnverifiable is returned by verifiers that cannot check the given payment method.
	ErrPaymentUnverifiable = errors.New("payment: method cannot be verified")

	// ErrProductNotFound indicates a referenced product does not exist.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryInvalidInput signals malformed reservation lines.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")

	// ErrServiceUnavailable wraps transient persistence failures.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// InsufficientStockError reports the first product that cannot cover the requested quantity.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("inventory: insufficient stock for %q: %d available, %d requested", name, e.Available, e.Requested)
}

// Is lets callers match the error with errors.Is(err, ErrInventoryInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInventoryInsufficientStock
}
