package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/secondhand-market/internal/domain/order"
	"github.com/xenking/secondhand-market/internal/domain/product"
)

var (
	_ order.Store        = (*Store)(nil)
	_ product.Transactor = (*Store)(nil)
)

// Store runs order and product work in PostgreSQL transactions.
//
// Read-write transactions use READ COMMITTED. Correctness comes from row
// locks: repositories lock product and order rows with SELECT ... FOR UPDATE
// before reading the state they are about to change, so a blocked
// transaction re-reads the committed row once the lock is released.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Atomic implements order.Store.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, scope{db: tx})
	})
	return classify(err)
}

// View implements order.Store.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(tx pgx.Tx) error {
		return fn(ctx, scope{db: tx})
	})
	return classify(err)
}

// AtomicProducts implements product.Transactor on top of Atomic.
func (s *Store) AtomicProducts(ctx context.Context, fn func(ctx context.Context, repo product.Repository) error) error {
	return s.Atomic(ctx, func(ctx context.Context, tx order.Tx) error {
		return fn(ctx, tx.Products())
	})
}

// Products returns a product repository outside any explicit transaction.
func (s *Store) Products() *ProductRepository {
	return NewProductRepository(s.pool)
}

type scope struct {
	db DBTX
}

func (s scope) Products() product.Repository { return NewProductRepository(s.db) }
func (s scope) Orders() order.Repository     { return NewOrderRepository(s.db) }

// transientError marks a failure that may succeed if the whole
// transaction is retried.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

func (e *transientError) Is(target error) bool { return target == order.ErrTransient }

var transientCodes = map[string]struct{}{
	pgerrcode.SerializationFailure: {},
	pgerrcode.DeadlockDetected:     {},
	pgerrcode.LockNotAvailable:     {},
	pgerrcode.QueryCanceled:        {},
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := transientCodes[pgErr.Code]; ok {
			return &transientError{err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &transientError{err: err}
	}
	return err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
