package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/secondhand-market/internal/catalog"
	"github.com/xenking/secondhand-market/internal/domain/product"
)

const (
	upsertCategorySQL = `INSERT INTO categories (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description`

	listCategoriesSQL = `SELECT name, id FROM categories`

	seedProductSQL = `INSERT INTO products
		(name, description, price, original_price, condition, image_url, status, category_id, created_at)
		SELECT $1::varchar, $2::text, $3::numeric, $4::numeric, $5::varchar, $6::text, $7::varchar, $8::bigint, $9::timestamptz
		WHERE NOT EXISTS (SELECT 1 FROM products WHERE name = $1 AND category_id = $8)`
)

var copyProductColumns = []string{
	"name", "description", "price", "original_price", "condition",
	"image_url", "status", "category_id", "created_at",
}

var _ catalog.Sink = (*CatalogRepository)(nil)

// CatalogRepository loads categories and products in bulk.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository on pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// EnsureCategories implements catalog.Sink.
func (r *CatalogRepository) EnsureCategories(ctx context.Context, cats []catalog.Category) (map[string]int64, error) {
	if len(cats) > 0 {
		batch := &pgx.Batch{}
		for _, c := range cats {
			batch.Queue(upsertCategorySQL, c.Name, c.Description)
		}
		if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
			return nil, errors.Wrap(err, "upsert categories")
		}
	}

	rows, err := r.pool.Query(ctx, listCategoriesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	ids := make(map[string]int64)
	var (
		name string
		id   int64
	)
	if _, err := pgx.ForEachRow(rows, []any{&name, &id}, func() error {
		ids[name] = id
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	return ids, nil
}

// SeedProducts implements catalog.Sink.
func (r *CatalogRepository) SeedProducts(ctx context.Context, products []product.Product) (int64, error) {
	var inserted int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range products {
			batch.Queue(seedProductSQL,
				p.Name, p.Description, p.Price, p.OriginalPrice, p.Condition,
				p.ImageURL, string(p.Status), p.CategoryID, p.CreatedAt,
			).Exec(func(tag pgconn.CommandTag) error {
				inserted += tag.RowsAffected()
				return nil
			})
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, errors.Wrap(err, "seed products")
	}
	return inserted, nil
}

// InsertProducts implements catalog.Sink with COPY.
func (r *CatalogRepository) InsertProducts(ctx context.Context, products []product.Product) (int64, error) {
	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"products"}, copyProductColumns,
		pgx.CopyFromSlice(len(products), func(i int) ([]any, error) {
			p := products[i]
			return []any{
				p.Name, p.Description, p.Price, p.OriginalPrice, p.Condition,
				p.ImageURL, string(p.Status), p.CategoryID, p.CreatedAt,
			}, nil
		}),
	)
	if err != nil {
		return 0, errors.Wrap(err, "copy products")
	}
	return n, nil
}
