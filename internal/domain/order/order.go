package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/secondhand-market/internal/domain/product"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusShipping  Status = "Shipping"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

// ParseStatus converts a wire string into a Status, ignoring case.
func ParseStatus(s string) (Status, bool) {
	for _, st := range []Status{StatusPending, StatusShipping, StatusCompleted, StatusCancelled} {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, true
		}
	}
	return "", false
}

func (s Status) String() string { return string(s) }

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Order is a customer purchase of one or more unique products.
type Order struct {
	ID              int64
	UserID          int64
	OrderDate       time.Time
	TotalAmount     decimal.Decimal
	ShippingAddress string
	Status          Status
	Details         []Detail
}

// Detail is one line of an order. Price is the product price at the moment
// the order was created and never changes afterwards.
type Detail struct {
	ID        int64
	OrderID   int64
	ProductID int64
	// ProductName is informational, filled by reads.
	ProductName string
	Price       decimal.Decimal
}

// ProductIDs returns the product of every line, in line order.
func (o *Order) ProductIDs() []int64 {
	ids := make([]int64, len(o.Details))
	for i, d := range o.Details {
		ids[i] = d.ProductID
	}
	return ids
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts o and its details, assigning their IDs.
	Create(ctx context.Context, o *Order) error
	// Get returns the order with its details.
	Get(ctx context.Context, id int64) (*Order, error)
	// GetForUpdate is Get with the order row locked until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	// ListByUser and ListAll return orders newest first.
	ListByUser(ctx context.Context, userID int64) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Products() product.Repository
	Orders() Repository
}

// Store opens transactions over orders and products.
//
// Atomic runs fn in a read-write transaction and commits only if fn returns
// nil. View runs fn in a read-only transaction. Implementations report
// storage conflicts (serialization failures, deadlocks, lock timeouts) as
// errors matching ErrTransient.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
