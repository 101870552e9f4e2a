package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/secondhand-market/internal/domain/order"
	"github.com/xenking/secondhand-market/internal/domain/product"
)

const maxBodyBytes = 1 << 20

var errMalformedBody = errors.New("malformed request body")

type productRequest struct {
	Name          string          `json:"name" validate:"required,max=200"`
	Description   string          `json:"description" validate:"max=4000"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
	Condition     string          `json:"condition" validate:"max=50"`
	ImageURL      string          `json:"imageUrl" validate:"max=500"`
	Status        string          `json:"status"`
	CategoryID    int64           `json:"categoryId" validate:"required,gt=0"`
}

func (p productRequest) input() product.Input {
	return product.Input{
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price,
		OriginalPrice: p.OriginalPrice,
		Condition:     p.Condition,
		ImageURL:      p.ImageURL,
		Status:        p.Status,
		CategoryID:    p.CategoryID,
	}
}

type checkoutRequest struct {
	UserID          int64   `json:"userId" validate:"gte=0"`
	ShippingAddress string  `json:"shippingAddress" validate:"required,max=300"`
	ProductIDs      []int64 `json:"productIds" validate:"required,min=1,dive,gt=0"`
}

// readBody decodes the request body with fn, which is called once per top
// level object field.
func readBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 4096)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		return fn(d, key)
	}); err != nil {
		return errors.Wrap(errMalformedBody, err.Error())
	}
	return nil
}

func decodeProduct(w http.ResponseWriter, r *http.Request) (productRequest, error) {
	var req productRequest
	err := readBody(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "name":
			req.Name, err = d.Str()
		case "description":
			req.Description, err = optStr(d)
		case "price":
			req.Price, err = decodeDecimal(d)
		case "originalPrice":
			req.OriginalPrice, err = decodeDecimal(d)
		case "condition":
			req.Condition, err = optStr(d)
		case "imageUrl":
			req.ImageURL, err = optStr(d)
		case "status":
			req.Status, err = optStr(d)
		case "categoryId":
			req.CategoryID, err = d.Int64()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return req, err
}

func decodeCheckout(w http.ResponseWriter, r *http.Request) (checkoutRequest, error) {
	var req checkoutRequest
	err := readBody(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "userId":
			req.UserID, err = d.Int64()
		case "shippingAddress":
			req.ShippingAddress, err = d.Str()
		case "productIds":
			err = d.Arr(func(d *jx.Decoder) error {
				id, err := d.Int64()
				req.ProductIDs = append(req.ProductIDs, id)
				return err
			})
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return req, err
}

// decodeStatus accepts either a bare JSON string or {"status": "..."}.
func decodeStatus(w http.ResponseWriter, r *http.Request) (string, error) {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 512)
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return "", errors.Wrap(errMalformedBody, err.Error())
		}
		return s, nil
	case jx.Object:
		var status string
		err := d.Obj(func(d *jx.Decoder, key string) (err error) {
			if key == "status" {
				status, err = d.Str()
				return err
			}
			return d.Skip()
		})
		if err != nil {
			return "", errors.Wrap(errMalformedBody, err.Error())
		}
		return status, nil
	default:
		return "", errors.Wrap(errMalformedBody, "expected status string")
	}
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// decodeDecimal reads a JSON number or a numeric string without going
// through float64.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(strings.TrimSpace(s))
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	default:
		return decimal.Zero, errors.New("expected number")
	}
}

func writeJSON(w http.ResponseWriter, code int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		})
	})
}

func encodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, p.Price) })
		e.Field("originalPrice", func(e *jx.Encoder) { encodeDecimal(e, p.OriginalPrice) })
		e.Field("condition", func(e *jx.Encoder) { e.Str(p.Condition) })
		e.Field("imageUrl", func(e *jx.Encoder) { e.Str(h.imageURL(p.ImageURL)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(p.Status.String()) })
		e.Field("categoryId", func(e *jx.Encoder) { e.Int64(p.CategoryID) })
		e.Field("createdDate", func(e *jx.Encoder) { encodeTime(e, p.CreatedAt) })
	})
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Int64(o.UserID) })
		e.Field("orderDate", func(e *jx.Encoder) { encodeTime(e, o.OrderDate) })
		e.Field("totalAmount", func(e *jx.Encoder) { encodeDecimal(e, o.TotalAmount) })
		e.Field("shippingAddress", func(e *jx.Encoder) { e.Str(o.ShippingAddress) })
		e.Field("status", func(e *jx.Encoder) { e.Str(o.Status.String()) })
		e.Field("orderDetails", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, d := range o.Details {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Int64(d.ID) })
						e.Field("productId", func(e *jx.Encoder) { e.Int64(d.ProductID) })
						e.Field("productName", func(e *jx.Encoder) { e.Str(d.ProductName) })
						e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, d.Price) })
					})
				}
			})
		})
	})
}

// imageURL resolves a stored image path against the configured base URL.
func (h *Handler) imageURL(path string) string {
	if h.imageBaseURL == "" || path == "" || strings.Contains(path, "://") {
		return path
	}
	return h.imageBaseURL + "/" + strings.TrimLeft(path, "/")
}
