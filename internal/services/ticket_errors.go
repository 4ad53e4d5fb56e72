package services

import (
	"errors"
	"fmt"
)

var (
	// ErrTicketInvalidInput signals the caller provided invalid data.
	ErrTicketInvalidInput = errors.New("ticket: invalid input")
	// ErrTicketNotFound indicates the ticket (or a record it owns) could not be located.
	ErrTicketNotFound = errors.New("ticket: not found")
	// ErrTicketInvalidTransition indicates the action is not legal from the current status.
	ErrTicketInvalidTransition = errors.New("ticket: invalid transition")
	// ErrTicketConflict indicates optimistic concurrency conflicts or duplicates.
	ErrTicketConflict = errors.New("ticket: conflict")
	// ErrBudgetLocked indicates the budget was approved and can no longer be regenerated.
	ErrBudgetLocked = errors.New("ticket: budget locked")
	// ErrBudgetMissing indicates the action needs a budget the ticket does not have yet.
	ErrBudgetMissing = errors.New("ticket: budget missing")
	// ErrInvalidLineItem indicates a budget line failed validation.
	ErrInvalidLineItem = errors.New("ticket: invalid line item")
	// ErrPaymentSettled indicates the budget is already fully paid.
	ErrPaymentSettled = errors.New("ticket: payment already settled")
	// ErrPaymentPending indicates the action requires a fully paid budget.
	ErrPaymentPending = errors.New("ticket: payment pending")
	// ErrPaymentVerification indicates the payment provider did not confirm the reference.
	ErrPaymentVerification = errors.New("ticket: payment verification failed")
	// ErrInsufficientStock indicates a stock exit exceeds availability.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryInvalidInput signals an invalid inventory request.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrProductNotFound indicates an unknown product id.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrRefundNotFound indicates the refund could not be located.
	ErrRefundNotFound = errors.New("refund: not found")
	// ErrRefundInvalidState indicates the refund was already resolved.
	ErrRefundInvalidState = errors.New("refund: invalid state")
	// ErrCouponInvalidInput signals an invalid coupon definition.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates no coupon exists for the code.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponConflict indicates the code already exists.
	ErrCouponConflict = errors.New("coupon: conflict")
)

// TransitionError reports an action that is not listed for the ticket's current status.
type TransitionError struct {
	From   RepairStatus
	Action TicketAction
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: action %q not allowed from status %q", ErrTicketInvalidTransition, e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrTicketInvalidTransition }

// LineItemError reports the first invalid budget line.
type LineItemError struct {
	Position int
	Reason   string
}

func (e *LineItemError) Error() string {
	return fmt.Sprintf("%s: line %d: %s", ErrInvalidLineItem, e.Position, e.Reason)
}

func (e *LineItemError) Unwrap() error { return ErrInvalidLineItem }

// InsufficientStockError carries the first product whose stock cannot cover an exit.
type InsufficientStockError struct {
	ProductID string
	Needed    int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: product %s needs %d, available %d", ErrInsufficientStock, e.ProductID, e.Needed, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
