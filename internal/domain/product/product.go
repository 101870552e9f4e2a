package product

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInUse is returned when deleting a product referenced by an order.
	ErrInUse = errors.New("product is referenced by an order")
	// ErrReserved is returned when making a product available while a live
	// order still holds it.
	ErrReserved = errors.New("product is reserved by a live order")
)

// Status is the lifecycle state of a catalog item.
type Status string

const (
	// StatusAvailable marks a product that can be checked out.
	StatusAvailable Status = "Available"
	// StatusSold marks a product reserved by a live order or sold.
	StatusSold Status = "Sold"
	// StatusHidden marks a product withdrawn from the storefront.
	StatusHidden Status = "Hidden"
)

// ParseStatus converts a wire string into a Status, ignoring case.
func ParseStatus(s string) (Status, bool) {
	for _, st := range []Status{StatusAvailable, StatusSold, StatusHidden} {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

func (s Status) String() string { return string(s) }

// Product is a single, non-fungible second-hand item.
type Product struct {
	ID            int64
	Name          string
	Description   string
	Price         decimal.Decimal
	OriginalPrice decimal.Decimal
	Condition     string
	ImageURL      string
	Status        Status
	CategoryID    int64
	CreatedAt     time.Time
}

// Filter narrows a catalog listing. Zero values are ignored.
type Filter struct {
	// Keyword is matched case-insensitively against name and description.
	Keyword    string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	CategoryID int64
	Condition  string
	Status     Status
}

// Match reports whether p satisfies the filter.
func (f Filter) Match(p Product) bool {
	if kw := strings.ToLower(strings.TrimSpace(f.Keyword)); kw != "" {
		if !strings.Contains(strings.ToLower(p.Name), kw) &&
			!strings.Contains(strings.ToLower(p.Description), kw) {
			return false
		}
	}
	if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.CategoryID != 0 && p.CategoryID != f.CategoryID {
		return false
	}
	if f.Condition != "" && p.Condition != f.Condition {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return true
}

// Repository defines persistence operations for the product catalog.
//
// Lock and SetStatus are reservation primitives: they are only meaningful
// inside a transaction, where Lock holds row locks until commit or rollback.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Product, error)
	List(ctx context.Context, f Filter) ([]Product, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	Delete(ctx context.Context, id int64) error

	// Lock returns the existing products among ids in ascending id order,
	// locking each row for the rest of the transaction. Missing ids are
	// simply absent from the result.
	Lock(ctx context.Context, ids []int64) ([]Product, error)
	// SetStatus sets status on every listed product.
	SetStatus(ctx context.Context, ids []int64, status Status) error
	// Reserved reports whether a Pending or Shipping order references id.
	Reserved(ctx context.Context, id int64) (bool, error)
}

// Transactor runs fn in a single transaction. Rows returned by repo.Lock
// stay locked until fn returns.
type Transactor interface {
	AtomicProducts(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
