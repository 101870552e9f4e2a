// Package memory provides an in-process implementation of the order and
// product stores.
//
// Transactions are fully serialized: Atomic holds an exclusive lock for the
// whole callback and works on a private copy of the data, which replaces the
// shared state only when the callback succeeds. This is equivalent to
// SERIALIZABLE isolation for a single process and is intended for tests and
// local runs without PostgreSQL.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/secondhand-market/internal/domain/order"
	"github.com/xenking/secondhand-market/internal/domain/product"
)

var (
	_ order.Store        = (*Store)(nil)
	_ product.Transactor = (*Store)(nil)
)

type state struct {
	products   map[int64]product.Product
	orders     map[int64]order.Order
	nextProdID int64
	nextOrdID  int64
	nextLineID int64
}

func (s *state) clone() *state {
	c := *s
	c.products = maps.Clone(s.products)
	c.orders = make(map[int64]order.Order, len(s.orders))
	for id, o := range s.orders {
		c.orders[id] = cloneOrder(o)
	}
	return &c
}

func cloneOrder(o order.Order) order.Order {
	o.Details = slices.Clone(o.Details)
	return o
}

// Store is an in-memory order.Store.
type Store struct {
	mu sync.RWMutex
	st *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: &state{
		products: make(map[int64]product.Product),
		orders:   make(map[int64]order.Order),
	}}
}

// Atomic implements order.Store.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return transient(err)
	}
	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// View implements order.Store. Writes made by fn are discarded.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return transient(err)
	}
	return fn(ctx, &tx{st: work})
}

// AtomicProducts implements product.Transactor.
func (s *Store) AtomicProducts(ctx context.Context, fn func(ctx context.Context, repo product.Repository) error) error {
	return s.Atomic(ctx, func(ctx context.Context, tx order.Tx) error {
		return fn(ctx, tx.Products())
	})
}

// Products returns a product.Repository whose every call is its own
// transaction.
func (s *Store) Products() product.Repository {
	return &catalog{s: s}
}

type tx struct {
	st *state
}

func (t *tx) Products() product.Repository { return &products{st: t.st} }
func (t *tx) Orders() order.Repository     { return &orders{st: t.st} }

type products struct {
	st *state
}

func (r *products) GetByID(_ context.Context, id int64) (*product.Product, error) {
	p, ok := r.st.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (r *products) List(_ context.Context, f product.Filter) ([]product.Product, error) {
	var out []product.Product
	for _, p := range r.st.products {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b product.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *products) Create(_ context.Context, p *product.Product) error {
	r.st.nextProdID++
	p.ID = r.st.nextProdID
	r.st.products[p.ID] = *p
	return nil
}

func (r *products) Update(_ context.Context, p *product.Product) error {
	if _, ok := r.st.products[p.ID]; !ok {
		return product.ErrNotFound
	}
	r.st.products[p.ID] = *p
	return nil
}

func (r *products) Delete(_ context.Context, id int64) error {
	if _, ok := r.st.products[id]; !ok {
		return product.ErrNotFound
	}
	for _, o := range r.st.orders {
		if slices.Contains(o.ProductIDs(), id) {
			return product.ErrInUse
		}
	}
	delete(r.st.products, id)
	return nil
}

func (r *products) Lock(_ context.Context, ids []int64) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.st.products[id]; ok {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b product.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *products) SetStatus(_ context.Context, ids []int64, status product.Status) error {
	for _, id := range ids {
		p, ok := r.st.products[id]
		if !ok {
			return product.ErrNotFound
		}
		p.Status = status
		r.st.products[id] = p
	}
	return nil
}

func (r *products) Reserved(_ context.Context, id int64) (bool, error) {
	for _, o := range r.st.orders {
		if !o.Status.Terminal() && slices.Contains(o.ProductIDs(), id) {
			return true, nil
		}
	}
	return false, nil
}

type orders struct {
	st *state
}

func (r *orders) Create(_ context.Context, o *order.Order) error {
	r.st.nextOrdID++
	o.ID = r.st.nextOrdID
	for i := range o.Details {
		r.st.nextLineID++
		o.Details[i].ID = r.st.nextLineID
		o.Details[i].OrderID = o.ID
	}
	r.st.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (r *orders) Get(_ context.Context, id int64) (*order.Order, error) {
	o, ok := r.st.orders[id]
	if !ok {
		return nil, &order.OrderNotFoundError{OrderID: id}
	}
	o = cloneOrder(o)
	return &o, nil
}

func (r *orders) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.Get(ctx, id)
}

func (r *orders) UpdateStatus(_ context.Context, id int64, status order.Status) error {
	o, ok := r.st.orders[id]
	if !ok {
		return &order.OrderNotFoundError{OrderID: id}
	}
	o.Status = status
	r.st.orders[id] = o
	return nil
}

func (r *orders) ListByUser(_ context.Context, userID int64) ([]order.Order, error) {
	return r.collect(func(o order.Order) bool { return o.UserID == userID }), nil
}

func (r *orders) ListAll(_ context.Context) ([]order.Order, error) {
	return r.collect(func(order.Order) bool { return true }), nil
}

func (r *orders) collect(keep func(order.Order) bool) []order.Order {
	var out []order.Order
	for _, o := range r.st.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	slices.SortFunc(out, func(a, b order.Order) int {
		if c := b.OrderDate.Compare(a.OrderDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

func transient(err error) error {
	return errors.Wrap(order.ErrTransient, err.Error())
}

// catalog runs each product call in its own transaction.
type catalog struct {
	s *Store
}

func (c *catalog) GetByID(ctx context.Context, id int64) (p *product.Product, err error) {
	err = c.s.View(ctx, func(ctx context.Context, tx order.Tx) error {
		p, err = tx.Products().GetByID(ctx, id)
		return err
	})
	return p, err
}

func (c *catalog) List(ctx context.Context, f product.Filter) (list []product.Product, err error) {
	err = c.s.View(ctx, func(ctx context.Context, tx order.Tx) error {
		list, err = tx.Products().List(ctx, f)
		return err
	})
	return list, err
}

func (c *catalog) Create(ctx context.Context, p *product.Product) error {
	return c.s.Atomic(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.Products().Create(ctx, p)
	})
}

func (c *catalog) Update(ctx context.Context, p *product.Product) error {
	return c.s.Atomic(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.Products().Update(ctx, p)
	})
}

func (c *catalog) Delete(ctx context.Context, id int64) error {
	return c.s.Atomic(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.Products().Delete(ctx, id)
	})
}

func (c *catalog) Lock(ctx context.Context, ids []int64) (list []product.Product, err error) {
	err = c.s.View(ctx, func(ctx context.Context, tx order.Tx) error {
		list, err = tx.Products().Lock(ctx, ids)
		return err
	})
	return list, err
}

func (c *catalog) SetStatus(ctx context.Context, ids []int64, status product.Status) error {
	return c.s.Atomic(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.Products().SetStatus(ctx, ids, status)
	})
}

func (c *catalog) Reserved(ctx context.Context, id int64) (reserved bool, err error) {
	err = c.s.View(ctx, func(ctx context.Context, tx order.Tx) error {
		reserved, err = tx.Products().Reserved(ctx, id)
		return err
	})
	return reserved, err
}
