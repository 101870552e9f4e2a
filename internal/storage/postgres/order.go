package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/secondhand-market/internal/domain/order"
)

const orderColumns = `id, user_id, order_date, total_amount, shipping_address, status`

const (
	createOrderSQL = `INSERT INTO orders (user_id, order_date, total_amount, shipping_address, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	createOrderDetailSQL = `INSERT INTO order_details (order_id, product_id, price)
		VALUES ($1, $2, $3)
		RETURNING id`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY order_date DESC, id DESC`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		ORDER BY order_date DESC, id DESC`

	listOrderDetailsSQL = `SELECT d.id, d.order_id, d.product_id, p.name, d.price
		FROM order_details d
		JOIN products p ON p.id = d.product_id
		WHERE d.order_id = ANY($1)
		ORDER BY d.order_id, d.id`

	updateOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository returns an OrderRepository that runs on db.
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists a new order and its details. Details are inserted in a
// single batch round trip.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := r.db.QueryRow(ctx, createOrderSQL,
		o.UserID, o.OrderDate, o.TotalAmount, o.ShippingAddress, string(o.Status),
	).Scan(&o.ID)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}

	batch := &pgx.Batch{}
	for i := range o.Details {
		d := &o.Details[i]
		d.OrderID = o.ID
		batch.Queue(createOrderDetailSQL, o.ID, d.ProductID, d.Price).QueryRow(func(row pgx.Row) error {
			return row.Scan(&d.ID)
		})
	}
	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "insert details of order %d", o.ID)
	}
	return nil
}

// Get returns the order with its details.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, id)
}

// GetForUpdate is Get with the order row locked.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) get(ctx context.Context, query string, id int64) (*order.Order, error) {
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &order.OrderNotFoundError{OrderID: id}
		}
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	orders := []order.Order{o}
	if err := r.loadDetails(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// UpdateStatus sets the status column of order id.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, status order.Status) error {
	tag, err := r.db.Exec(ctx, updateOrderStatusSQL, id, string(status))
	if err != nil {
		return errors.Wrapf(err, "update order %d status", id)
	}
	if tag.RowsAffected() == 0 {
		return &order.OrderNotFoundError{OrderID: id}
	}
	return nil
}

// ListByUser returns the orders placed by userID, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	return r.list(ctx, listOrdersByUserSQL, userID)
}

// ListAll returns every order, newest first.
func (r *OrderRepository) ListAll(ctx context.Context) ([]order.Order, error) {
	return r.list(ctx, listOrdersSQL)
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	if err := r.loadDetails(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) loadDetails(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.db.Query(ctx, listOrderDetailsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "list order details")
	}
	details, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Detail, error) {
		var d order.Detail
		err := row.Scan(&d.ID, &d.OrderID, &d.ProductID, &d.ProductName, &d.Price)
		return d, err
	})
	if err != nil {
		return errors.Wrap(err, "list order details")
	}
	for _, d := range details {
		o := &orders[index[d.OrderID]]
		o.Details = append(o.Details, d)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.OrderDate, &o.TotalAmount, &o.ShippingAddress, &status)
	o.Status = order.Status(status)
	return o, err
}
