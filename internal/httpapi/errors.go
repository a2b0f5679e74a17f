package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/nazeru/order-fulfillment/internal/fulfillment"
	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/pkg/idempotency"
)

var errBadRequest = errors.New("bad request")

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrEmptyOrder),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrProductUnavailable),
		errors.Is(err, fulfillment.ErrInvalidWindow),
		errors.Is(err, idempotency.ErrKeyTooLong):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error, code int) errorResponse {
	if code == http.StatusInternalServerError {
		return errorResponse{Error: "internal error"}
	}
	body := errorResponse{Error: err.Error()}
	var stock *domain.InsufficientStockError
	if errors.As(err, &stock) {
		body.ProductID = stock.ProductID
		body.Available = &stock.Available
		body.Requested = &stock.Requested
	}
	return body
}
