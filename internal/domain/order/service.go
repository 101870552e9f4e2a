package order

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/secondhand-market/internal/domain/product"
)

const maxShippingAddressLen = 300

// CheckoutRequest holds the input for placing an order.
type CheckoutRequest struct {
	UserID          int64
	ShippingAddress string
	ProductIDs      []int64
}

func (r CheckoutRequest) validate() error {
	if r.UserID <= 0 {
		return &ValidationError{Field: "userId", Message: "required"}
	}
	addr := strings.TrimSpace(r.ShippingAddress)
	if addr == "" {
		return &ValidationError{Field: "shippingAddress", Message: "required"}
	}
	if utf8.RuneCountInString(addr) > maxShippingAddressLen {
		return &ValidationError{Field: "shippingAddress", Message: "must be at most 300 characters"}
	}
	if len(r.ProductIDs) == 0 {
		return &ValidationError{Field: "productIds", Message: "at least one product is required"}
	}
	seen := make(map[int64]struct{}, len(r.ProductIDs))
	for _, id := range r.ProductIDs {
		if id <= 0 {
			return &ValidationError{Field: "productIds", Message: "product ids must be positive"}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "productIds", Message: "duplicate product id"}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("market/order") }
}

// WithMeterProvider sets the meter provider used for operation counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("market/order") }
}

// Service implements checkout (inventory reservation) and the order status
// state machine on top of a transactional Store.
//
// Reservation is eager: checkout locks the requested product rows, verifies
// they are Available and marks them Sold in the same transaction that
// inserts the order. A concurrent checkout of the same product blocks on
// the row lock and then observes Sold.
type Service struct {
	store  Store
	now    func() time.Time
	tracer trace.Tracer
	meter  metric.Meter

	checkouts   metric.Int64Counter
	transitions metric.Int64Counter
}

// NewService creates an order Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		tracer: otel.GetTracerProvider().Tracer("market/order"),
		meter:  otel.GetMeterProvider().Meter("market/order"),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	s.checkouts, err = s.meter.Int64Counter("market.order.checkouts",
		metric.WithDescription("Checkout attempts by outcome"))
	if err != nil {
		s.checkouts, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}
	s.transitions, err = s.meter.Int64Counter("market.order.transitions",
		metric.WithDescription("Order status transitions by target status and outcome"))
	if err != nil {
		s.transitions, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}
	return s
}

// Checkout reserves every requested product and creates a Pending order in
// a single transaction. Products are examined in request order; the first
// missing or unavailable product aborts the whole checkout.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Checkout", trace.WithAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.Int("product.count", len(req.ProductIDs)),
	))
	defer func() {
		endSpan(span, rerr)
		s.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(rerr))))
	}()

	if err := req.validate(); err != nil {
		return nil, err
	}

	o := &Order{
		UserID:          req.UserID,
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		Status:          StatusPending,
	}
	err := s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		o.OrderDate = s.now().UTC()
		o.Details = make([]Detail, 0, len(req.ProductIDs))
		o.TotalAmount = decimal.Zero

		// Lock in ascending id order so overlapping carts cannot deadlock.
		ids := slices.Clone(req.ProductIDs)
		slices.Sort(ids)
		locked, err := tx.Products().Lock(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "lock products")
		}
		byID := make(map[int64]product.Product, len(locked))
		for _, p := range locked {
			byID[p.ID] = p
		}

		for _, id := range req.ProductIDs {
			p, ok := byID[id]
			if !ok {
				return &ProductNotFoundError{ProductID: id}
			}
			switch p.Status {
			case product.StatusAvailable:
			case product.StatusHidden:
				return &ProductUnavailableError{ProductID: id, Name: p.Name, Reason: ReasonHidden}
			default:
				return &ProductUnavailableError{ProductID: id, Name: p.Name, Reason: ReasonSold}
			}
			o.Details = append(o.Details, Detail{
				ProductID:   id,
				ProductName: p.Name,
				Price:       p.Price,
			})
			o.TotalAmount = o.TotalAmount.Add(p.Price)
		}

		if err := tx.Products().SetStatus(ctx, ids, product.StatusSold); err != nil {
			return errors.Wrap(err, "reserve products")
		}
		if err := tx.Orders().Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		return nil
	})

	lg := zctx.From(ctx)
	if err != nil {
		var unavailable *ProductUnavailableError
		if errors.As(err, &unavailable) {
			lg.Warn("Checkout lost product",
				zap.Int64("user_id", req.UserID),
				zap.Int64("product_id", unavailable.ProductID),
				zap.String("reason", unavailable.Reason),
			)
		}
		return nil, err
	}

	lg.Info("Order placed",
		zap.Int64("order_id", o.ID),
		zap.Int64("user_id", o.UserID),
		zap.Int("lines", len(o.Details)),
		zap.Stringer("total", o.TotalAmount),
	)
	return o, nil
}

// UpdateStatus moves an order to newStatus and applies the product side
// effects of entering that status, atomically.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, newStatus string) (rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.status", newStatus),
	))
	defer func() { endSpan(span, rerr) }()

	to, ok := ParseStatus(newStatus)
	if !ok {
		return errors.Wrapf(ErrInvalidStatus, "status %q", newStatus)
	}

	var from Status
	err := s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Status
		if !CanTransition(o.Status, to) {
			return &TransitionError{OrderID: orderID, From: o.Status, To: to}
		}
		_, err = s.enter(ctx, tx, o, to)
		return err
	})
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", to.String()),
		attribute.String("outcome", outcome(err)),
	))
	if err != nil {
		return err
	}

	zctx.From(ctx).Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	return nil
}

// Cancel cancels an order on behalf of its owner or an admin, restoring
// every Sold line product to Available.
func (s *Service) Cancel(ctx context.Context, orderID, requestingUserID int64, isAdmin bool) (rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int64("user.id", requestingUserID),
		attribute.Bool("user.admin", isAdmin),
	))
	defer func() { endSpan(span, rerr) }()

	var restored int
	err := s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !isAdmin && o.UserID != requestingUserID {
			return errors.Wrapf(ErrForbidden, "order %d belongs to another user", orderID)
		}
		switch o.Status {
		case StatusCancelled:
			return errors.Wrapf(ErrAlreadyCancelled, "order %d", orderID)
		case StatusCompleted:
			return &TransitionError{OrderID: orderID, From: o.Status, To: StatusCancelled}
		}
		restored, err = s.enter(ctx, tx, o, StatusCancelled)
		return err
	})
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", StatusCancelled.String()),
		attribute.String("outcome", outcome(err)),
	))
	if err != nil {
		return err
	}

	zctx.From(ctx).Info("Order cancelled",
		zap.Int64("order_id", orderID),
		zap.Int64("by_user", requestingUserID),
		zap.Bool("admin", isAdmin),
		zap.Int("products_restored", restored),
	)
	return nil
}

// Get returns an order visible to the requesting user.
func (s *Service) Get(ctx context.Context, orderID, requestingUserID int64, isAdmin bool) (*Order, error) {
	var o *Order
	err := s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.Orders().Get(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !isAdmin && o.UserID != requestingUserID {
		return nil, errors.Wrapf(ErrForbidden, "order %d belongs to another user", orderID)
	}
	return o, nil
}

// ListMine returns the orders of userID, newest first.
func (s *Service) ListMine(ctx context.Context, userID int64) ([]Order, error) {
	var orders []Order
	err := s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		orders, err = tx.Orders().ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return orders, nil
}

// ListAll returns every order, newest first.
func (s *Service) ListAll(ctx context.Context) ([]Order, error) {
	var orders []Order
	err := s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		orders, err = tx.Orders().ListAll(ctx)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// enter writes the new status and the product side effects of entering it,
// returning how many products changed.
func (s *Service) enter(ctx context.Context, tx Tx, o *Order, to Status) (int, error) {
	ids := o.ProductIDs()
	slices.Sort(ids)
	products, err := tx.Products().Lock(ctx, ids)
	if err != nil {
		return 0, errors.Wrap(err, "lock order products")
	}
	changed, status := affected(to, products)
	if len(changed) > 0 {
		if err := tx.Products().SetStatus(ctx, changed, status); err != nil {
			return 0, errors.Wrap(err, "update order products")
		}
	}
	if err := tx.Orders().UpdateStatus(ctx, o.ID, to); err != nil {
		return 0, errors.Wrap(err, "update order status")
	}
	o.Status = to
	return len(changed), nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrProductUnavailable):
		return "unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidStatus):
		return "invalid"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyCancelled):
		return "rejected"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "error"
	}
}
