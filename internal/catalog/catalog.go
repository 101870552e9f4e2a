// Package catalog loads products in bulk: the demo seed shipped with the
// binary and gzip-compressed NDJSON feeds from partner shops.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/secondhand-market/internal/domain/product"
)

// Category is a product category identified by its unique name.
type Category struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
}

// Listing is one product as it appears in a seed file or feed. Category
// refers to a Category by name.
type Listing struct {
	Name          string          `json:"name" validate:"required,max=200"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
	Condition     string          `json:"condition" validate:"max=50"`
	ImageURL      string          `json:"imageUrl"`
	Status        string          `json:"status" validate:"omitempty,oneof=Available Sold Hidden"`
	Category      string          `json:"category" validate:"required"`
}

// key identifies a listing for de-duplication across feeds.
func (l Listing) key() string {
	return strings.ToLower(strings.TrimSpace(l.Name)) + "\x00" +
		strings.ToLower(l.Category) + "\x00" +
		l.Condition + "\x00" +
		l.Price.String()
}

// Product converts l into a catalog product in categoryID.
func (l Listing) Product(categoryID int64, now time.Time) product.Product {
	status := product.StatusAvailable
	if st, ok := product.ParseStatus(l.Status); ok {
		status = st
	}
	return product.Product{
		Name:          strings.TrimSpace(l.Name),
		Description:   l.Description,
		Price:         l.Price,
		OriginalPrice: l.OriginalPrice,
		Condition:     l.Condition,
		ImageURL:      l.ImageURL,
		Status:        status,
		CategoryID:    categoryID,
		CreatedAt:     now,
	}
}

// Sink persists categories and products.
type Sink interface {
	// EnsureCategories creates missing categories and returns the id of
	// every known category by name.
	EnsureCategories(ctx context.Context, cats []Category) (map[string]int64, error)
	// SeedProducts inserts the products that do not exist yet, matching by
	// name within a category, and reports how many were inserted.
	SeedProducts(ctx context.Context, products []product.Product) (int64, error)
	// InsertProducts appends products unconditionally.
	InsertProducts(ctx context.Context, products []product.Product) (int64, error)
}

// check validates l beyond what the struct tags express.
func (l Listing) check(v *validator.Validate) error {
	if err := v.Struct(l); err != nil {
		return err
	}
	if err := product.CheckPrice("price", l.Price); err != nil {
		return err
	}
	return product.CheckPrice("originalPrice", l.OriginalPrice)
}
