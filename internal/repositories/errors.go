package repositories

import (
	"fmt"
	"math"
	"strings"
)

// InventoryErrorCode enumerates repository error causes for inventory operations.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorInsufficientStock indicates an exit exceeds the product stock.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorProductNotFound indicates a movement references an unknown product.
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
	// InventoryErrorInvalidMovement indicates a malformed movement (quantity, type).
	InventoryErrorInvalidMovement InventoryErrorCode = "inventory_invalid_movement"
)

// InventoryError wraps inventory-specific failures with machine readable codes. Shortfall details
// are populated for InventoryErrorInsufficientStock.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	Message   string
	ProductID string
	Needed    int64
	Available int64
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError reports that productID holds fewer units than needed.
func NewInsufficientStockError(productID string, needed, available int64) *InventoryError {
	e := NewInventoryError(InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s: needed %d, available %d", productID, needed, available), nil)
	e.ProductID = productID
	e.Needed = needed
	e.Available = available
	return e
}

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	// CounterErrorInvalidInput indicates the caller supplied invalid arguments.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted indicates the counter reached its upper bound.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError wraps counter failures such as invalid identifiers.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

// ValidateCounterRequest trims counterID and rejects blank ids and non-positive steps.
func ValidateCounterRequest(counterID string, step int64) (string, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return "", NewCounterError(CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step <= 0 {
		return "", NewCounterError(CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}
	return id, nil
}

// AdvanceCounter returns current+step, failing with CounterErrorExhausted on int64 overflow or
// when a non-nil limit would be passed.
func AdvanceCounter(counterID string, current, step int64, limit *int64) (int64, error) {
	if current > math.MaxInt64-step {
		return 0, NewCounterError(CounterErrorExhausted, fmt.Sprintf("counter %s overflowed", counterID), nil)
	}
	next := current + step
	if limit != nil && next > *limit {
		return 0, NewCounterError(CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", counterID, *limit), nil)
	}
	return next, nil
}
