package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for stock adjustments.
type InventoryErrorCode string

const (
	InventoryErrorUnknown           InventoryErrorCode = "inventory_unknown"
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	InventoryErrorStockNotFound     InventoryErrorCode = "inventory_stock_not_found"
	InventoryErrorInvalidDelta      InventoryErrorCode = "inventory_invalid_delta"
)

// InventoryError carries the machine readable cause of a failed stock adjustment. Available is
// populated for InventoryErrorInsufficientStock with the stock observed at the time of the check.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	Available int
	Message   string
	Err       error
}

func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.ProductID != "" {
		msg = fmt.Sprintf("%s (product %s)", msg, e.ProductID)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound lets InventoryError satisfy RepositoryError.
func (e *InventoryError) IsNotFound() bool {
	return e != nil && e.Code == InventoryErrorStockNotFound
}

// IsConflict reports a conditional adjustment rejected for lack of stock.
func (e *InventoryError) IsConflict() bool {
	return e != nil && e.Code == InventoryErrorInsufficientStock
}

func (e *InventoryError) IsUnavailable() bool { return false }

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(op string, code InventoryErrorCode, productID string, err error) *InventoryError {
	return &InventoryError{
		Op:        op,
		Code:      code,
		ProductID: productID,
		Message:   string(code),
		Err:       err,
	}
}

// NewInsufficientStockError reports that applying a decrement would leave stock below zero.
func NewInsufficientStockError(op, productID string, available int) *InventoryError {
	e := NewInventoryError(op, InventoryErrorInsufficientStock, productID, nil)
	e.Available = available
	e.Message = fmt.Sprintf("insufficient stock: %d available", available)
	return e
}
