package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Error kinds. Every error returned by Service matches exactly one of these
// with errors.Is, or is an unexpected infrastructure failure.
var (
	ErrNotFound           = errors.New("not found")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrValidation         = errors.New("validation failed")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrAlreadyCancelled   = errors.New("order is already cancelled")
	ErrInvalidStatus      = errors.New("invalid order status")
	// ErrTransient marks a storage conflict or timeout. The whole operation
	// may be retried from scratch.
	ErrTransient = errors.New("transient storage failure")
)

// Reasons reported by ProductUnavailableError.
const (
	ReasonSold   = "sold"
	ReasonHidden = "hidden"
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrNotFound }

// OrderNotFoundError indicates a requested order does not exist.
type OrderNotFoundError struct {
	OrderID int64
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order %d not found", e.OrderID)
}

func (e *OrderNotFoundError) Unwrap() error { return ErrNotFound }

// ProductUnavailableError indicates a product cannot be reserved, usually
// because another checkout claimed it first.
type ProductUnavailableError struct {
	ProductID int64
	Name      string
	Reason    string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %q (id %d) is unavailable: %s", e.Name, e.ProductID, e.Reason)
}

func (e *ProductUnavailableError) Unwrap() error { return ErrProductUnavailable }

// ValidationError indicates a malformed request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransitionError indicates an illegal state machine edge.
type TransitionError struct {
	OrderID int64
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %d: cannot change status from %s to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
