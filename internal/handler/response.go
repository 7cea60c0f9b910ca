package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/smartpick/internal/domain/cart"
	"github.com/xenking/smartpick/internal/domain/checkout"
	"github.com/xenking/smartpick/internal/domain/order"
	"github.com/xenking/smartpick/internal/domain/product"
)

// maxBodySize limits request bodies.
const maxBodySize = 1 << 20

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Code      int               `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Code: code, Message: msg})
}

// errBadRequest marks a request body that could not be decoded.
var errBadRequest = errors.New("malformed request body")

// decode reads a single JSON object from the request body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errBadRequest, err.Error())
	}
	if dec.More() {
		return errors.Wrap(errBadRequest, "unexpected data after JSON object")
	}
	return nil
}

// fail maps err to a status code and writes it. Unknown errors are logged
// and hidden behind a 500.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Message: err.Error()}

	var (
		validation *checkout.ValidationError
		state      *checkout.StateError
		transition *order.InvalidTransitionError
		retryable  interface{ Retryable() bool }
	)
	switch {
	case errors.Is(err, errBadRequest):
		resp.Code = http.StatusBadRequest
	case errors.As(err, &validation):
		resp.Code = http.StatusUnprocessableEntity
		resp.Message = "validation failed"
		resp.Fields = validation.Fields
	case errors.Is(err, cart.ErrInvalidQuantity):
		resp.Code = http.StatusUnprocessableEntity
		resp.Fields = map[string]string{"quantity": "must be at least 1"}
	case errors.Is(err, cart.ErrInvalidProduct):
		resp.Code = http.StatusUnprocessableEntity
		resp.Fields = map[string]string{"productId": "is not a purchasable product"}
	case errors.Is(err, order.ErrInvalidStatus):
		resp.Code = http.StatusUnprocessableEntity
		resp.Fields = map[string]string{"status": "is not a known order status"}
	case errors.As(err, &state), errors.As(err, &transition),
		errors.Is(err, order.ErrStatusConflict), errors.Is(err, checkout.ErrEmptyCart):
		resp.Code = http.StatusConflict
	case errors.Is(err, order.ErrNotFound), errors.Is(err, product.ErrNotFound),
		errors.Is(err, checkout.ErrNoSession):
		resp.Code = http.StatusNotFound
	case errors.As(err, &retryable) && retryable.Retryable():
		resp.Code = http.StatusServiceUnavailable
		resp.Message = "storage unavailable, try again"
		resp.Retryable = true
		zctx.From(r.Context()).Warn("Storage failure", zap.Error(err))
	default:
		resp.Code = http.StatusInternalServerError
		resp.Message = "internal server error"
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeJSON(w, resp.Code, resp)
}
