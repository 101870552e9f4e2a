package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/secondhand-market/internal/domain/product"
)

// Seed is a small catalog loaded in one go.
type Seed struct {
	Categories []Category
	Products   []Listing
}

// ParseSeed decodes a seed document of the form
// {"categories":[...],"products":[...]}.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "categories":
			return d.Arr(func(d *jx.Decoder) error {
				c, err := decodeCategory(d)
				s.Categories = append(s.Categories, c)
				return err
			})
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				l, err := decodeListing(d)
				s.Products = append(s.Products, l)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode seed")
	}
	return &s, nil
}

func decodeCategory(d *jx.Decoder) (Category, error) {
	var c Category
	err := d.Obj(func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "name":
			c.Name, err = d.Str()
		case "description":
			c.Description, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return c, err
}

// Load writes s to sink. Loading the same seed twice inserts nothing the
// second time.
func Load(ctx context.Context, sink Sink, s *Seed) (inserted int64, err error) {
	lg := zctx.From(ctx)
	v := validator.New()
	for _, c := range s.Categories {
		if err := v.Struct(c); err != nil {
			return 0, errors.Wrapf(err, "category %q", c.Name)
		}
	}
	ids, err := sink.EnsureCategories(ctx, s.Categories)
	if err != nil {
		return 0, errors.Wrap(err, "ensure categories")
	}
	lg.Info("Categories ready", zap.Int("count", len(ids)))

	now := time.Now().UTC()
	products := make([]product.Product, 0, len(s.Products))
	for _, l := range s.Products {
		if err := l.check(v); err != nil {
			return 0, errors.Wrapf(err, "product %q", l.Name)
		}
		id, ok := ids[l.Category]
		if !ok {
			return 0, errors.Errorf("product %q: unknown category %q", l.Name, l.Category)
		}
		products = append(products, l.Product(id, now))
	}

	inserted, err = sink.SeedProducts(ctx, products)
	if err != nil {
		return 0, errors.Wrap(err, "seed products")
	}
	lg.Info("Products seeded",
		zap.Int("total", len(products)),
		zap.Int64("inserted", inserted),
	)
	return inserted, nil
}
