package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/secondhand-market/internal/domain/order"
	"github.com/xenking/secondhand-market/internal/domain/product"
)

// retryAfterSeconds is advertised on 503 responses caused by storage
// conflicts.
const retryAfterSeconds = "1"

// apiError is the JSON error body. Field, ProductID and Reason are only set
// for the errors that carry them.
type apiError struct {
	Code      int
	Message   string
	Field     string
	ProductID int64
	Reason    string
}

func (e apiError) encode(enc *jx.Encoder) {
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("code", func(enc *jx.Encoder) { enc.Int(e.Code) })
		enc.Field("message", func(enc *jx.Encoder) { enc.Str(e.Message) })
		if e.Field != "" {
			enc.Field("field", func(enc *jx.Encoder) { enc.Str(e.Field) })
		}
		if e.ProductID != 0 {
			enc.Field("productId", func(enc *jx.Encoder) { enc.Int64(e.ProductID) })
		}
		if e.Reason != "" {
			enc.Field("reason", func(enc *jx.Encoder) { enc.Str(e.Reason) })
		}
	})
}

func writeStatus(w http.ResponseWriter, code int, message string) {
	writeAPIError(w, apiError{Code: code, Message: message})
}

func writeAPIError(w http.ResponseWriter, e apiError) {
	enc := jx.GetEncoder()
	defer jx.PutEncoder(enc)
	e.encode(enc)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	_, _ = w.Write(enc.Bytes())
}

// fail maps a service error onto an HTTP response. Unexpected errors are
// logged and reported as 500 without details.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(r, err)
	if e.Code == http.StatusServiceUnavailable {
		zctx.From(r.Context()).Warn("Storage conflict", zap.Error(err))
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeAPIError(w, e)
}

func classify(r *http.Request, err error) apiError {
	var (
		unavailable *order.ProductUnavailableError
		notFound    *order.ProductNotFoundError
		invalid     *order.ValidationError
		input       *product.InvalidInputError
		fields      validator.ValidationErrors
	)
	switch {
	case errors.As(err, &unavailable):
		return apiError{
			Code:      http.StatusConflict,
			Message:   unavailable.Error(),
			ProductID: unavailable.ProductID,
			Reason:    unavailable.Reason,
		}
	case errors.As(err, &notFound):
		return apiError{Code: http.StatusNotFound, Message: notFound.Error(), ProductID: notFound.ProductID}
	case errors.As(err, &invalid):
		return apiError{Code: http.StatusBadRequest, Message: invalid.Message, Field: invalid.Field}
	case errors.As(err, &input):
		return apiError{Code: http.StatusBadRequest, Message: input.Message, Field: input.Field}
	case errors.As(err, &fields):
		f := fields[0]
		return apiError{Code: http.StatusBadRequest, Message: "failed on " + f.Tag(), Field: f.Field()}
	case errors.Is(err, errMalformedBody):
		return apiError{Code: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, order.ErrInvalidStatus):
		return apiError{Code: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, order.ErrForbidden):
		return apiError{Code: http.StatusForbidden, Message: "forbidden"}
	case errors.Is(err, order.ErrNotFound), errors.Is(err, product.ErrNotFound):
		return apiError{Code: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrAlreadyCancelled),
		errors.Is(err, product.ErrInUse),
		errors.Is(err, product.ErrReserved):
		return apiError{Code: http.StatusConflict, Message: err.Error()}
	case errors.Is(err, order.ErrTransient):
		return apiError{Code: http.StatusServiceUnavailable, Message: "temporarily unavailable, retry"}
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		return apiError{Code: http.StatusInternalServerError, Message: "internal server error"}
	}
}
