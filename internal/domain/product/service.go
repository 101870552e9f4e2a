package product

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// InvalidInputError describes an admin catalog edit that was rejected.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return e.Field + ": " + e.Message
}

// Input is the editable part of a product.
type Input struct {
	Name          string
	Description   string
	Price         decimal.Decimal
	OriginalPrice decimal.Decimal
	Condition     string
	ImageURL      string
	// Status is optional on create (defaults to Available) and on update
	// (keeps the current status when empty).
	Status     string
	CategoryID int64
}

// Service implements the admin catalog operations on top of a Repository.
// Edits run in a transaction through tx so they serialize with checkout.
type Service struct {
	repo Repository
	tx   Transactor
	now  func() time.Time
}

// NewService creates a catalog Service.
func NewService(repo Repository, tx Transactor) *Service {
	return &Service{repo: repo, tx: tx, now: time.Now}
}

// List returns products matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]Product, error) {
	products, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return products, nil
}

// Get returns a single product.
func (s *Service) Get(ctx context.Context, id int64) (*Product, error) {
	return s.repo.GetByID(ctx, id)
}

// Create validates in and stores a new product.
func (s *Service) Create(ctx context.Context, in Input) (*Product, error) {
	status := StatusAvailable
	if in.Status != "" {
		st, ok := ParseStatus(in.Status)
		if !ok {
			return nil, &InvalidInputError{Field: "status", Message: "unknown status " + in.Status}
		}
		status = st
	}
	p := &Product{Status: status, CreatedAt: s.now().UTC()}
	if err := apply(p, in); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create product")
	}
	return p, nil
}

// Update replaces the editable fields of product id. The row is locked
// first, so a checkout that already reserved the product keeps it Sold
// unless in.Status asks otherwise. Moving a product held by a live order
// back to Available fails with ErrReserved.
func (s *Service) Update(ctx context.Context, id int64, in Input) error {
	var status Status
	if in.Status != "" {
		st, ok := ParseStatus(in.Status)
		if !ok {
			return &InvalidInputError{Field: "status", Message: "unknown status " + in.Status}
		}
		status = st
	}

	return s.tx.AtomicProducts(ctx, func(ctx context.Context, repo Repository) error {
		locked, err := repo.Lock(ctx, []int64{id})
		if err != nil {
			return errors.Wrapf(err, "lock product %d", id)
		}
		if len(locked) == 0 {
			return ErrNotFound
		}
		p := &locked[0]

		if status == StatusAvailable && p.Status != StatusAvailable {
			reserved, err := repo.Reserved(ctx, id)
			if err != nil {
				return errors.Wrapf(err, "check reservations of product %d", id)
			}
			if reserved {
				return errors.Wrapf(ErrReserved, "product %d", id)
			}
		}
		if status != "" {
			p.Status = status
		}
		if err := apply(p, in); err != nil {
			return err
		}
		if err := repo.Update(ctx, p); err != nil {
			return errors.Wrapf(err, "update product %d", id)
		}
		return nil
	})
}

// Delete removes product id.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// maxPrice is the first value that does not fit NUMERIC(18, 2).
var maxPrice = decimal.New(1, 16)

// CheckPrice reports whether d is a storable price: not negative, at most
// two decimal places and below maxPrice.
func CheckPrice(field string, d decimal.Decimal) error {
	switch {
	case d.IsNegative():
		return &InvalidInputError{Field: field, Message: "must not be negative"}
	case !d.Equal(d.Truncate(2)):
		return &InvalidInputError{Field: field, Message: "must have at most 2 decimal places"}
	case d.GreaterThanOrEqual(maxPrice):
		return &InvalidInputError{Field: field, Message: "too large"}
	}
	return nil
}

func apply(p *Product, in Input) error {
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return &InvalidInputError{Field: "name", Message: "required"}
	case utf8.RuneCountInString(name) > 200:
		return &InvalidInputError{Field: "name", Message: "must be at most 200 characters"}
	case utf8.RuneCountInString(in.Condition) > 50:
		return &InvalidInputError{Field: "condition", Message: "must be at most 50 characters"}
	case in.CategoryID <= 0:
		return &InvalidInputError{Field: "categoryId", Message: "required"}
	}
	if err := CheckPrice("price", in.Price); err != nil {
		return err
	}
	if err := CheckPrice("originalPrice", in.OriginalPrice); err != nil {
		return err
	}
	p.Name = name
	p.Description = in.Description
	p.Price = in.Price
	p.OriginalPrice = in.OriginalPrice
	p.Condition = in.Condition
	p.ImageURL = in.ImageURL
	p.CategoryID = in.CategoryID
	return nil
}
