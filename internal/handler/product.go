package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/secondhand-market/internal/domain/product"
)

// ListProducts handles GET /api/product with optional keyword, minPrice,
// maxPrice, categoryId, condition and status query parameters.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	products, err := h.products.List(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, p := range products {
				h.encodeProduct(e, p)
			}
		})
	})
}

func parseFilter(r *http.Request) (product.Filter, error) {
	q := r.URL.Query()
	f := product.Filter{
		Keyword:   q.Get("keyword"),
		Condition: q.Get("condition"),
	}
	for _, p := range []struct {
		name string
		dst  **decimal.Decimal
	}{
		{"minPrice", &f.MinPrice},
		{"maxPrice", &f.MaxPrice},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return f, &product.InvalidInputError{Field: p.name, Message: "must be a number"}
		}
		*p.dst = &d
	}
	if v := q.Get("categoryId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, &product.InvalidInputError{Field: "categoryId", Message: "must be an integer"}
		}
		f.CategoryID = id
	}
	if v := q.Get("status"); v != "" {
		st, ok := product.ParseStatus(v)
		if !ok {
			return f, &product.InvalidInputError{Field: "status", Message: "unknown product status"}
		}
		f.Status = st
	}
	return f, nil
}

// GetProduct handles GET /api/product/{id}.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeStatus(w, http.StatusBadRequest, "invalid product id")
		return
	}
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeProduct(e, *p) })
}

// CreateProduct handles POST /api/product.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	req, err := decodeProduct(w, r)
	if err == nil {
		err = h.validate.Struct(req)
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := h.products.Create(r.Context(), req.input())
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/product/"+strconv.FormatInt(p.ID, 10))
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { h.encodeProduct(e, *p) })
}

// UpdateProduct handles PUT /api/product/{id}.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeStatus(w, http.StatusBadRequest, "invalid product id")
		return
	}
	req, err := decodeProduct(w, r)
	if err == nil {
		err = h.validate.Struct(req)
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.products.Update(r.Context(), id, req.input()); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteProduct handles DELETE /api/product/{id}.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeStatus(w, http.StatusBadRequest, "invalid product id")
		return
	}
	if err := h.products.Delete(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
