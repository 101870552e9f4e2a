package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/secondhand-market/internal/domain/auth"
	"github.com/xenking/secondhand-market/internal/domain/order"
)

// HeaderIdempotencyKey lets a client retry a checkout without placing a
// second order.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

const cancelledMessage = "Order cancelled successfully. Products restored to available."

// Checkout handles POST /api/order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, _ := auth.FromContext(ctx)

	req, err := decodeCheckout(w, r)
	if err == nil {
		err = h.validate.Struct(req)
	}
	if err == nil && req.UserID != 0 && req.UserID != p.UserID {
		err = &order.ValidationError{Field: "userId", Message: "user id mismatch"}
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if len(key) > maxIdempotencyKeyLen {
		fail(w, r, &order.ValidationError{Field: HeaderIdempotencyKey, Message: "too long"})
		return
	}
	if h.idempotency == nil {
		key = ""
	}
	if key != "" && h.replay(w, r, p, key) {
		return
	}

	o, err := h.orders.Checkout(ctx, order.CheckoutRequest{
		UserID:          p.UserID,
		ShippingAddress: req.ShippingAddress,
		ProductIDs:      req.ProductIDs,
	})
	if err != nil {
		// A concurrent request with the same key may have taken the products.
		if key != "" && errors.Is(err, order.ErrProductUnavailable) && h.replay(w, r, p, key) {
			return
		}
		fail(w, r, err)
		return
	}

	if key != "" && h.remember(w, r, p, key, o) {
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, *o) })
}

// remember stores key for o. When a concurrent request already stored
// another order under key, o is cancelled to release its products and the
// stored order is written instead; remember then reports true.
func (h *Handler) remember(w http.ResponseWriter, r *http.Request, p auth.Principal, key string, o *order.Order) bool {
	ctx := r.Context()
	lg := zctx.From(ctx)
	stored, err := h.idempotency.Remember(ctx, p.UserID, key, o.ID)
	if err != nil {
		lg.Warn("Remember idempotency key", zap.Int64("order_id", o.ID), zap.Error(err))
		return false
	}
	if stored == o.ID {
		return false
	}

	lg.Warn("Idempotency key taken by another order",
		zap.Int64("order_id", o.ID),
		zap.Int64("stored_order_id", stored),
	)
	if err := h.orders.Cancel(ctx, o.ID, p.UserID, false); err != nil {
		lg.Error("Cancel duplicate order", zap.Int64("order_id", o.ID), zap.Error(err))
		return false
	}
	o.Status = order.StatusCancelled
	return h.replay(w, r, p, key)
}

// replay writes the order previously created for key, reporting whether it
// did. Lookup failures fall through to a regular checkout.
func (h *Handler) replay(w http.ResponseWriter, r *http.Request, p auth.Principal, key string) bool {
	ctx := r.Context()
	id, ok, err := h.idempotency.Lookup(ctx, p.UserID, key)
	if err != nil {
		zctx.From(ctx).Warn("Lookup idempotency key", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	o, err := h.orders.Get(ctx, id, p.UserID, p.IsAdmin())
	if err != nil {
		zctx.From(ctx).Warn("Load remembered order", zap.Int64("order_id", id), zap.Error(err))
		return false
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, *o) })
	return true
}

// OrderHistory handles GET /api/order/history.
func (h *Handler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	orders, err := h.orders.ListMine(r.Context(), p.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOrders(w, orders)
}

// AllOrders handles GET /api/order/all.
func (h *Handler) AllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListAll(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOrders(w, orders)
}

func writeOrders(w http.ResponseWriter, orders []order.Order) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, o := range orders {
				encodeOrder(e, o)
			}
		})
	})
}

// GetOrder handles GET /api/order/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeStatus(w, http.StatusBadRequest, "invalid order id")
		return
	}
	p, _ := auth.FromContext(r.Context())
	o, err := h.orders.Get(r.Context(), id, p.UserID, p.IsAdmin())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, *o) })
}

// UpdateOrderStatus handles PUT /api/order/{id}/status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeStatus(w, http.StatusBadRequest, "invalid order id")
		return
	}
	status, err := decodeStatus(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.orders.UpdateStatus(r.Context(), id, status); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminCancel handles POST /api/order/{id}/cancel.
func (h *Handler) AdminCancel(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, true)
}

// CustomerCancel handles POST /api/order/{id}/customer-cancel. Only the
// owner may cancel through this route, admins included.
func (h *Handler) CustomerCancel(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, false)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request, asAdmin bool) {
	id, ok := pathID(r)
	if !ok {
		writeStatus(w, http.StatusBadRequest, "invalid order id")
		return
	}
	p, _ := auth.FromContext(r.Context())
	if err := h.orders.Cancel(r.Context(), id, p.UserID, asAdmin); err != nil {
		fail(w, r, err)
		return
	}
	writeMessage(w, cancelledMessage)
}
