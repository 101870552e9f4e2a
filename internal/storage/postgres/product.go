package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/secondhand-market/internal/domain/product"
)

const productColumns = `id, name, description, price, original_price, condition, image_url, status, category_id, created_at`

const (
	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	lockProductsSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	createProductSQL = `INSERT INTO products
		(name, description, price, original_price, condition, image_url, status, category_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	updateProductSQL = `UPDATE products SET
		name = $2, description = $3, price = $4, original_price = $5,
		condition = $6, image_url = $7, status = $8, category_id = $9
		WHERE id = $1`

	deleteProductSQL = `DELETE FROM products WHERE id = $1`

	setProductStatusSQL = `UPDATE products SET status = $2 WHERE id = ANY($1)`

	productReservedSQL = `SELECT EXISTS (
		SELECT 1 FROM order_details d
		JOIN orders o ON o.id = d.order_id
		WHERE d.product_id = $1 AND o.status IN ('Pending', 'Shipping'))`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db DBTX
}

// NewProductRepository returns a ProductRepository that runs on db.
func NewProductRepository(db DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := r.db.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	return &p, nil
}

// List returns the products matching f ordered by id.
func (r *ProductRepository) List(ctx context.Context, f product.Filter) ([]product.Product, error) {
	query, args := listProductsQuery(f)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

func listProductsQuery(f product.Filter) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`SELECT ` + productColumns + ` FROM products WHERE TRUE`)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		p := arg("%" + escapeLike(kw) + "%")
		b.WriteString(` AND (name ILIKE ` + p + ` OR description ILIKE ` + p + `)`)
	}
	if f.MinPrice != nil {
		b.WriteString(` AND price >= ` + arg(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		b.WriteString(` AND price <= ` + arg(*f.MaxPrice))
	}
	if f.CategoryID != 0 {
		b.WriteString(` AND category_id = ` + arg(f.CategoryID))
	}
	if f.Condition != "" {
		b.WriteString(` AND condition = ` + arg(f.Condition))
	}
	if f.Status != "" {
		b.WriteString(` AND status = ` + arg(string(f.Status)))
	}
	b.WriteString(` ORDER BY id`)
	return b.String(), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// Create inserts p and assigns its ID.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	err := r.db.QueryRow(ctx, createProductSQL,
		p.Name, p.Description, p.Price, p.OriginalPrice, p.Condition,
		p.ImageURL, string(p.Status), p.CategoryID, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		if pgCode(err) == pgerrcode.ForeignKeyViolation {
			return &product.InvalidInputError{Field: "categoryId", Message: "unknown category"}
		}
		return errors.Wrap(err, "create product")
	}
	return nil
}

// Update overwrites the stored product with p.
func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	tag, err := r.db.Exec(ctx, updateProductSQL,
		p.ID, p.Name, p.Description, p.Price, p.OriginalPrice,
		p.Condition, p.ImageURL, string(p.Status), p.CategoryID,
	)
	if err != nil {
		if pgCode(err) == pgerrcode.ForeignKeyViolation {
			return &product.InvalidInputError{Field: "categoryId", Message: "unknown category"}
		}
		return errors.Wrapf(err, "update product %d", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// Delete removes a product that no order references.
func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, deleteProductSQL, id)
	if err != nil {
		if pgCode(err) == pgerrcode.ForeignKeyViolation {
			return product.ErrInUse
		}
		return errors.Wrapf(err, "delete product %d", id)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// Lock selects the existing products among ids with FOR UPDATE, in
// ascending id order.
func (r *ProductRepository) Lock(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := r.db.Query(ctx, lockProductsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// SetStatus updates the status of every product in ids.
func (r *ProductRepository) SetStatus(ctx context.Context, ids []int64, status product.Status) error {
	tag, err := r.db.Exec(ctx, setProductStatusSQL, ids, string(status))
	if err != nil {
		return errors.Wrap(err, "set product status")
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return product.ErrNotFound
	}
	return nil
}

// Reserved reports whether a Pending or Shipping order references id.
func (r *ProductRepository) Reserved(ctx context.Context, id int64) (bool, error) {
	var reserved bool
	if err := r.db.QueryRow(ctx, productReservedSQL, id).Scan(&reserved); err != nil {
		return false, errors.Wrapf(err, "check reservations of product %d", id)
	}
	return reserved, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p      product.Product
		status string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.OriginalPrice,
		&p.Condition, &p.ImageURL, &status, &p.CategoryID, &p.CreatedAt,
	)
	p.Status = product.Status(status)
	return p, err
}
