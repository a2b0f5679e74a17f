package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidQuantity    = errors.New("quantity must be > 0")
	ErrInvalidAmount      = errors.New("amount must be >= 0 with at most 2 decimal places")
	ErrProductUnavailable = errors.New("product is not available for ordering")
	ErrEmptyOrder         = errors.New("order must have at least one line")
	ErrInvalidStatus      = errors.New("unknown order status")
	ErrTransient          = errors.New("transient failure, retry later")
)

// NotFoundError names the missing entity. It matches ErrNotFound.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NewNotFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// InsufficientStockError carries the available vs requested counts for a
// rejected reservation. It matches ErrInsufficientStock.
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
	return fmt.Sprintf("insufficient stock for product %s. Available: %d, Requested: %d", name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// TransitionError reports a (from, to) pair rejected by the active policy.
type TransitionError struct {
	From   OrderStatus
	To     OrderStatus
	Policy string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s is not allowed by %s policy", e.From, e.To, e.Policy)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
