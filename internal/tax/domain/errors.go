package domain

import (
	"errors"

	"github.com/smallbiznis/paycore/internal/paymenterror"
)

type taxError struct {
	code string
	kind paymenterror.Kind
}

func (e *taxError) Error() string                       { return e.code }
func (e *taxError) PaymentErrorKind() paymenterror.Kind { return e.kind }

var (
	ErrUnknownJurisdiction error = &taxError{code: "unknown_jurisdiction", kind: paymenterror.KindTaxCalculationFailed}
	ErrInvalidSubtotal     error = &taxError{code: "invalid_subtotal", kind: paymenterror.KindValidationError}
	ErrInvalidQuantity     error = &taxError{code: "invalid_quantity", kind: paymenterror.KindValidationError}
	ErrAmountOverflow      error = &taxError{code: "amount_overflow", kind: paymenterror.KindValidationError}
	ErrEmptyCart           error = &taxError{code: "empty_cart", kind: paymenterror.KindValidationError}
	ErrInvalidPromoCode    error = &taxError{code: "invalid_promo_code", kind: paymenterror.KindPromoCodeInvalid}
	ErrPromoNotFound       error = errors.New("promo_not_found")
)
