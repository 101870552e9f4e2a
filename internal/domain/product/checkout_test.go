package product_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/secondhand-market/internal/domain/order"
	"github.com/xenking/secondhand-market/internal/domain/product"
	"github.com/xenking/secondhand-market/internal/storage/memory"
)

func seedAvailable(t *testing.T, store *memory.Store) int64 {
	t.Helper()
	p := &product.Product{
		Name:       "Film camera",
		Price:      decimal.NewFromInt(100),
		Status:     product.StatusAvailable,
		CategoryID: 1,
	}
	require.NoError(t, store.Products().Create(context.Background(), p))
	return p.ID
}

func edit(price int64) product.Input {
	return product.Input{Name: "Film camera", Price: decimal.NewFromInt(price), CategoryID: 1}
}

func buy(orders *order.Service, userID, productID int64) (*order.Order, error) {
	return orders.Checkout(context.Background(), order.CheckoutRequest{
		UserID:          userID,
		ShippingAddress: "5 Dong Khoi, District 1",
		ProductIDs:      []int64{productID},
	})
}

func TestUpdate_KeepsCheckoutReservation(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	products := product.NewService(store.Products(), store)
	orders := order.NewService(store)
	id := seedAvailable(t, store)

	o, err := buy(orders, 7, id)
	require.NoError(t, err)

	require.NoError(t, products.Update(ctx, id, edit(120)))
	p, err := products.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, product.StatusSold, p.Status)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(120)))

	_, err = buy(orders, 8, id)
	require.ErrorIs(t, err, order.ErrProductUnavailable)

	in := edit(120)
	in.Status = "Available"
	require.ErrorIs(t, products.Update(ctx, id, in), product.ErrReserved)

	require.NoError(t, orders.Cancel(ctx, o.ID, 7, false))
	in.Status = "Hidden"
	require.NoError(t, products.Update(ctx, id, in))
	in.Status = "Available"
	require.NoError(t, products.Update(ctx, id, in))
}

func TestUpdate_ConcurrentWithCheckout(t *testing.T) {
	store := memory.New()
	products := product.NewService(store.Products(), store)
	orders := order.NewService(store)
	id := seedAvailable(t, store)

	const workers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int64
	)
	for i := range workers {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := buy(orders, int64(i+1), id)
			if err == nil {
				wins.Add(1)
				return
			}
			assert.True(t, errors.Is(err, order.ErrProductUnavailable), "unexpected error: %v", err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, products.Update(context.Background(), id, edit(int64(100+i))))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
	p, err := products.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, product.StatusSold, p.Status)
}
