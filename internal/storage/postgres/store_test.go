//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/secondhand-market/db"
	"github.com/xenking/secondhand-market/internal/catalog"
	"github.com/xenking/secondhand-market/internal/domain/order"
	"github.com/xenking/secondhand-market/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "market",
				"POSTGRES_PASSWORD": "market",
				"POSTGRES_DB":       "market",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := c.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://market:market@%s:%s/market?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn, PoolConfig{MaxConns: 32})
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if _, err := RunMigrations(testPool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	return m.Run()
}

// --- Helpers ---

func reset(t *testing.T) (*Store, int64) {
	t.Helper()
	ctx := context.Background()
	_, err := testPool.Exec(ctx, `TRUNCATE order_details, orders, products, categories RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	var categoryID int64
	require.NoError(t, testPool.QueryRow(ctx,
		`INSERT INTO categories (name) VALUES ('Misc') RETURNING id`).Scan(&categoryID))
	return NewStore(testPool), categoryID
}

func seedProduct(t *testing.T, s *Store, categoryID int64, name string, price int64) int64 {
	t.Helper()
	p := &product.Product{
		Name:       name,
		Price:      decimal.NewFromInt(price),
		Status:     product.StatusAvailable,
		CategoryID: categoryID,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.Products().Create(context.Background(), p))
	return p.ID
}

func productStatus(t *testing.T, s *Store, id int64) product.Status {
	t.Helper()
	p, err := s.Products().GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func place(svc *order.Service, userID int64, ids ...int64) (*order.Order, error) {
	return svc.Checkout(context.Background(), order.CheckoutRequest{
		UserID:          userID,
		ShippingAddress: "1 Le Loi, District 1",
		ProductIDs:      ids,
	})
}

// --- Tests ---

func TestRunMigrations_Idempotent(t *testing.T) {
	applied, err := RunMigrations(testPool)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestCheckout_PersistsOrder(t *testing.T) {
	s, cat := reset(t)
	p1 := seedProduct(t, s, cat, "White tee", 50000)
	p2 := seedProduct(t, s, cat, "Black tee", 75000)
	svc := order.NewService(s)

	o, err := place(svc, 3, p1, p2)
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), o.ID, 3, false)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.True(t, decimal.NewFromInt(125000).Equal(got.TotalAmount))
	require.Len(t, got.Details, 2)
	assert.Equal(t, "White tee", got.Details[0].ProductName)
	assert.NotZero(t, got.Details[0].ID)
	assert.Equal(t, product.StatusSold, productStatus(t, s, p1))
	assert.Equal(t, product.StatusSold, productStatus(t, s, p2))
}

func TestCheckout_ConcurrentSingleWinner(t *testing.T) {
	s, cat := reset(t)
	p1 := seedProduct(t, s, cat, "Rare watch", 50000)
	svc := order.NewService(s)

	const buyers = 20
	var (
		wg   sync.WaitGroup
		errs = make([]error, buyers)
	)
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = place(svc, int64(i+1), p1)
		}()
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, order.ErrProductUnavailable)
	}
	assert.Equal(t, 1, won)

	all, err := svc.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCheckout_OverlappingCartsDoNotDeadlock(t *testing.T) {
	s, cat := reset(t)
	a := seedProduct(t, s, cat, "A", 10)
	b := seedProduct(t, s, cat, "B", 20)
	c := seedProduct(t, s, cat, "C", 30)
	svc := order.NewService(s)

	carts := [][]int64{{a, b, c}, {c, b, a}, {b, c}, {c, a}}
	var (
		wg   sync.WaitGroup
		errs = make([]error, len(carts))
	)
	for i, cart := range carts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = place(svc, int64(i+1), cart...)
		}()
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, order.ErrProductUnavailable)
		require.NotErrorIs(t, err, order.ErrTransient)
	}
	assert.Equal(t, 1, won)
}

func TestCheckout_RollsBackOnUnavailable(t *testing.T) {
	s, cat := reset(t)
	p1 := seedProduct(t, s, cat, "Lamp", 100)
	p2 := seedProduct(t, s, cat, "Chair", 200)
	svc := order.NewService(s)

	_, err := place(svc, 1, p2)
	require.NoError(t, err)

	_, err = place(svc, 2, p1, p2)
	var uErr *order.ProductUnavailableError
	require.ErrorAs(t, err, &uErr)
	assert.Equal(t, p2, uErr.ProductID)
	assert.Equal(t, product.StatusAvailable, productStatus(t, s, p1))
}

func TestCancel_RestoresProducts(t *testing.T) {
	s, cat := reset(t)
	p1 := seedProduct(t, s, cat, "Lamp", 100)
	svc := order.NewService(s)
	ctx := context.Background()

	o, err := place(svc, 1, p1)
	require.NoError(t, err)
	require.NoError(t, svc.UpdateStatus(ctx, o.ID, "Shipping"))
	require.NoError(t, svc.Cancel(ctx, o.ID, 1, false))
	assert.Equal(t, product.StatusAvailable, productStatus(t, s, p1))

	err = svc.Cancel(ctx, o.ID, 1, false)
	require.ErrorIs(t, err, order.ErrAlreadyCancelled)
}

func TestCancelAndCompleteRace(t *testing.T) {
	s, cat := reset(t)
	p1 := seedProduct(t, s, cat, "Lamp", 100)
	svc := order.NewService(s)
	ctx := context.Background()

	o, err := place(svc, 1, p1)
	require.NoError(t, err)

	var (
		wg                   sync.WaitGroup
		cancelErr, completeE error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		cancelErr = svc.Cancel(ctx, o.ID, 1, false)
	}()
	go func() {
		defer wg.Done()
		completeE = svc.UpdateStatus(ctx, o.ID, "Completed")
	}()
	wg.Wait()

	got, err := svc.Get(ctx, o.ID, 1, false)
	require.NoError(t, err)
	switch got.Status {
	case order.StatusCancelled:
		require.NoError(t, cancelErr)
		require.ErrorIs(t, completeE, order.ErrInvalidTransition)
		assert.Equal(t, product.StatusAvailable, productStatus(t, s, p1))
	case order.StatusCompleted:
		require.NoError(t, completeE)
		require.ErrorIs(t, cancelErr, order.ErrInvalidTransition)
		assert.Equal(t, product.StatusSold, productStatus(t, s, p1))
	default:
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestListOrders_NewestFirst(t *testing.T) {
	s, cat := reset(t)
	p1 := seedProduct(t, s, cat, "Lamp", 100)
	p2 := seedProduct(t, s, cat, "Chair", 200)
	p3 := seedProduct(t, s, cat, "Desk", 300)
	svc := order.NewService(s)

	first, err := place(svc, 1, p1)
	require.NoError(t, err)
	_, err = place(svc, 2, p2)
	require.NoError(t, err)
	second, err := place(svc, 1, p3)
	require.NoError(t, err)

	mine, err := svc.ListMine(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Equal(t, first.ID, mine[1].ID)
	assert.Len(t, mine[0].Details, 1)
}

func TestProductRepository_List(t *testing.T) {
	s, cat := reset(t)
	ctx := context.Background()
	repo := s.Products()
	for _, p := range []product.Product{
		{Name: "Vintage camera", Description: "35mm film", Price: decimal.NewFromInt(500), Condition: "90%"},
		{Name: "Jeans", Description: "100% cotton", Price: decimal.NewFromInt(80), Condition: "85%"},
		{Name: "Lens_cap", Description: "", Price: decimal.NewFromInt(5), Condition: "90%"},
	} {
		p.Status = product.StatusAvailable
		p.CategoryID = cat
		p.CreatedAt = time.Now().UTC()
		require.NoError(t, repo.Create(ctx, &p))
	}
	minPrice := decimal.NewFromInt(50)

	for _, tt := range []struct {
		name string
		f    product.Filter
		want []string
	}{
		{"All", product.Filter{}, []string{"Vintage camera", "Jeans", "Lens_cap"}},
		{"Keyword", product.Filter{Keyword: "FILM"}, []string{"Vintage camera"}},
		{"KeywordPercentIsLiteral", product.Filter{Keyword: "100%"}, []string{"Jeans"}},
		{"KeywordUnderscoreIsLiteral", product.Filter{Keyword: "s_c"}, []string{"Lens_cap"}},
		{"MinPrice", product.Filter{MinPrice: &minPrice}, []string{"Vintage camera", "Jeans"}},
		{"Condition", product.Filter{Condition: "90%"}, []string{"Vintage camera", "Lens_cap"}},
		{"Status", product.Filter{Status: product.StatusSold}, nil},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.f)
			require.NoError(t, err)
			var names []string
			for _, p := range got {
				names = append(names, p.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestProductRepository_DeleteInUse(t *testing.T) {
	s, cat := reset(t)
	p1 := seedProduct(t, s, cat, "Lamp", 100)
	p2 := seedProduct(t, s, cat, "Chair", 200)
	svc := order.NewService(s)
	ctx := context.Background()

	_, err := place(svc, 1, p1)
	require.NoError(t, err)

	require.ErrorIs(t, s.Products().Delete(ctx, p1), product.ErrInUse)
	require.NoError(t, s.Products().Delete(ctx, p2))
	require.ErrorIs(t, s.Products().Delete(ctx, p2), product.ErrNotFound)
}

func TestProductRepository_UnknownCategory(t *testing.T) {
	s, _ := reset(t)
	err := s.Products().Create(context.Background(), &product.Product{
		Name:       "Orphan",
		Status:     product.StatusAvailable,
		CategoryID: 999,
		CreatedAt:  time.Now().UTC(),
	})
	var iErr *product.InvalidInputError
	require.True(t, errors.As(err, &iErr))
	assert.Equal(t, "categoryId", iErr.Field)
}

func TestAtomic_ContextCancelledIsTransient(t *testing.T) {
	s, _ := reset(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Atomic(ctx, func(ctx context.Context, tx order.Tx) error {
		_, err := tx.Orders().Get(ctx, 1)
		return err
	})
	require.ErrorIs(t, err, order.ErrTransient)
}

func TestCatalogRepository_SeedTwice(t *testing.T) {
	reset(t)
	ctx := context.Background()
	seed, err := catalog.ParseSeed(db.Catalog)
	require.NoError(t, err)
	repo := NewCatalogRepository(testPool)

	n, err := catalog.Load(ctx, repo, seed)
	require.NoError(t, err)
	assert.Equal(t, int64(len(seed.Products)), n)

	n, err = catalog.Load(ctx, repo, seed)
	require.NoError(t, err)
	assert.Zero(t, n)

	ids, err := repo.EnsureCategories(ctx, nil)
	require.NoError(t, err)
	assert.Contains(t, ids, "T-shirts")
	assert.Contains(t, ids, "Misc")
}

func TestCatalogRepository_InsertProducts(t *testing.T) {
	s, cat := reset(t)
	ctx := context.Background()
	now := time.Now().UTC()

	products := make([]product.Product, 25)
	for i := range products {
		products[i] = product.Product{
			Name:       fmt.Sprintf("Item %d", i),
			Price:      decimal.RequireFromString("19.99"),
			Status:     product.StatusAvailable,
			CategoryID: cat,
			CreatedAt:  now,
		}
	}
	n, err := NewCatalogRepository(testPool).InsertProducts(ctx, products)
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)

	list, err := s.Products().List(ctx, product.Filter{Keyword: "item 2"})
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.True(t, list[0].Price.Equal(decimal.RequireFromString("19.99")))
}

func TestProductService_UpdateKeepsReservation(t *testing.T) {
	s, cat := reset(t)
	ctx := context.Background()
	id := seedProduct(t, s, cat, "Turntable", 300)
	orders := order.NewService(s)
	products := product.NewService(s.Products(), s)
	in := product.Input{Name: "Turntable", Price: decimal.NewFromInt(250), CategoryID: cat}

	var wg sync.WaitGroup
	var wins int64
	var mu sync.Mutex
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := place(orders, int64(i+1), id); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, products.Update(ctx, id, in))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
	assert.Equal(t, product.StatusSold, productStatus(t, s, id))

	reserved, err := s.Products().Reserved(ctx, id)
	require.NoError(t, err)
	assert.True(t, reserved)

	in.Status = "Available"
	require.ErrorIs(t, products.Update(ctx, id, in), product.ErrReserved)
	assert.Equal(t, product.StatusSold, productStatus(t, s, id))
}
