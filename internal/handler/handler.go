// Package handler exposes the marketplace over HTTP.
package handler

import (
	"context"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/secondhand-market/internal/domain/order"
	"github.com/xenking/secondhand-market/internal/domain/product"
)

// Idempotency remembers which order a client-supplied Idempotency-Key
// produced, so a retried checkout replays the original result.
type Idempotency interface {
	Lookup(ctx context.Context, userID int64, key string) (int64, bool, error)
	Remember(ctx context.Context, userID int64, key string, orderID int64) (int64, error)
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
}

// Handler serves the catalog and order endpoints.
type Handler struct {
	products     *product.Service
	orders       *order.Service
	tokens       *TokenVerifier
	idempotency  Idempotency
	validate     *validator.Validate
	imageBaseURL string
}

// NewHandler constructs a Handler. idempotency may be nil, in which case the
// Idempotency-Key header is ignored.
func NewHandler(
	cfg HandlerConfig,
	products *product.Service,
	orders *order.Service,
	tokens *TokenVerifier,
	idempotency Idempotency,
) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		products:     products,
		orders:       orders,
		tokens:       tokens,
		idempotency:  idempotency,
		validate:     v,
		imageBaseURL: strings.TrimRight(cfg.ImageBaseURL, "/"),
	}
}

// Routes registers the API under r. Middlewares installed on r beforehand
// apply to every route.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.tokens.Authenticate)

		r.Route("/product", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Get("/{id}", h.GetProduct)
			r.With(requireAdmin).Post("/", h.CreateProduct)
			r.With(requireAdmin).Put("/{id}", h.UpdateProduct)
			r.With(requireAdmin).Delete("/{id}", h.DeleteProduct)
		})

		r.Route("/order", func(r chi.Router) {
			r.Use(requireUser)
			r.Post("/", h.Checkout)
			r.Get("/history", h.OrderHistory)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/customer-cancel", h.CustomerCancel)
			r.With(requireAdmin).Get("/all", h.AllOrders)
			r.With(requireAdmin).Put("/{id}/status", h.UpdateOrderStatus)
			r.With(requireAdmin).Post("/{id}/cancel", h.AdminCancel)
		})
	})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
