package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-gateway/internal/apperr"
	"github.com/xenking/storefront-gateway/internal/domain/cart"
	"github.com/xenking/storefront-gateway/internal/domain/checkout"
	"github.com/xenking/storefront-gateway/internal/domain/coupon"
	"github.com/xenking/storefront-gateway/internal/domain/order"
	"github.com/xenking/storefront-gateway/internal/domain/product"
	"github.com/xenking/storefront-gateway/internal/domain/session"
	"github.com/xenking/storefront-gateway/internal/domain/support"
	"github.com/xenking/storefront-gateway/pkg/httpmiddleware"
)

// badRequestError is a malformed request body or parameter.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

var (
	badRequestErrs = []error{
		cart.ErrEmptyCouponCode,
		checkout.ErrMissingAddress,
		checkout.ErrEmptyCart,
		checkout.ErrMissingPayment,
		order.ErrEmptyReturnReason,
		order.ErrReturnReasonTooLong,
		order.ErrEmptyDeliveryMan,
		coupon.ErrEmptyCode,
		coupon.ErrInvalidPercentage,
		coupon.ErrInvalidPurchaseRange,
		coupon.ErrMissingExpiration,
		session.ErrInvalidRole,
		support.ErrEmptyMessage,
		support.ErrMessageTooLong,
		support.ErrMissingCustomer,
	}
	unprocessableErrs = []error{
		cart.ErrOutOfStock,
		cart.ErrInvalidVariant,
		order.ErrNotDelivered,
	}
	conflictErrs = []error{
		checkout.ErrAlreadyPaid,
		order.ErrReturnAlreadyRequested,
		order.ErrStaleStatus,
	}
	notFoundErrs = []error{
		product.ErrNotFound,
		cart.ErrLineNotFound,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// statusOf maps an error onto an HTTP status and a user-facing message.
func statusOf(err error) (int, string) {
	var (
		badReq     *badRequestError
		qty        *cart.QuantityRejectedError
		transition *order.TransitionError
		unknown    *order.UnknownStatusError
	)
	switch {
	case errors.As(err, &badReq):
		return http.StatusBadRequest, badReq.msg
	case errors.As(err, &unknown):
		return http.StatusBadRequest, unknown.Error()
	case errors.Is(err, session.ErrForbidden):
		return http.StatusForbidden, "You do not have access to this resource"
	case errors.As(err, &qty):
		return http.StatusUnprocessableEntity, qty.Error()
	case errors.As(err, &transition):
		return http.StatusConflict, transition.Error()
	case isAny(err, badRequestErrs):
		return http.StatusBadRequest, rootMessage(err, badRequestErrs)
	case isAny(err, unprocessableErrs):
		return http.StatusUnprocessableEntity, rootMessage(err, unprocessableErrs)
	case isAny(err, conflictErrs):
		return http.StatusConflict, rootMessage(err, conflictErrs)
	case isAny(err, notFoundErrs):
		return http.StatusNotFound, rootMessage(err, notFoundErrs)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "The request timed out"
	}

	if kind, ok := apperr.KindOf(err); ok {
		msg := apperr.MessageOf(err, "")
		switch kind {
		case apperr.KindValidation:
			return http.StatusUnprocessableEntity, msg
		case apperr.KindAuth:
			return http.StatusUnauthorized, msg
		case apperr.KindNotFound:
			return http.StatusNotFound, msg
		case apperr.KindNetwork:
			return http.StatusBadGateway, "Network error, please try again"
		}
	}
	return http.StatusInternalServerError, "Internal Server Error"
}

// rootMessage returns the message of the sentinel err wraps, without the
// wrapping context.
func rootMessage(err error, targets []error) string {
	for _, t := range targets {
		if errors.Is(err, t) {
			return t.Error()
		}
	}
	return err.Error()
}

// writeError logs err and writes the matching error envelope. Nothing is
// written when the client already went away.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		zctx.From(r.Context()).Debug("Client canceled request", zap.Error(err))
		return
	}
	status, msg := statusOf(err)
	lg := zctx.From(r.Context())
	switch {
	case status >= http.StatusInternalServerError:
		lg.Error("Request failed", zap.Int("status", status), zap.Error(err))
	default:
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	httpmiddleware.WriteError(w, status, msg)
}
