package domain

import (
	"errors"

	"github.com/smallbiznis/paycore/internal/paymenterror"
)

type orderError struct {
	code string
	kind paymenterror.Kind
}

func (e *orderError) Error() string                       { return e.code }
func (e *orderError) PaymentErrorKind() paymenterror.Kind { return e.kind }

var (
	ErrInvalidOrder         error = &orderError{code: "invalid_order", kind: paymenterror.KindValidationError}
	ErrInvalidCurrency      error = &orderError{code: "invalid_currency", kind: paymenterror.KindValidationError}
	ErrInvalidRefundAmount  error = &orderError{code: "invalid_refund_amount", kind: paymenterror.KindValidationError}
	ErrRefundExceedsBalance error = &orderError{code: "refund_exceeds_balance", kind: paymenterror.KindValidationError}
	ErrNoSucceededPayment   error = &orderError{code: "no_succeeded_payment", kind: paymenterror.KindValidationError}
	ErrAmountMismatch       error = &orderError{code: "payment_amount_mismatch", kind: paymenterror.KindWebhookError}
	ErrInvalidTransition    error = errors.New("invalid_transition")
	ErrOrderNotFound        error = errors.New("order_not_found")
	ErrPaymentNotFound      error = errors.New("payment_not_found")
	ErrDuplicatePayment     error = errors.New("duplicate_payment_intent")
)
