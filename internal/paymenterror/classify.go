package paymenterror

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"
)

// Classify maps any error onto the taxonomy. It returns nil only for a nil error.
func Classify(err error) *PaymentError {
	if err == nil {
		return nil
	}
	if pe, ok := As(err); ok {
		return pe
	}

	var kinded Kinded
	if errors.As(err, &kinded) {
		if kind := kinded.PaymentErrorKind(); kind.Valid() {
			pe := Wrap(kind, err)
			pe.Message = kind.UserMessage()
			return pe
		}
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return classifyStripe(stripeErr, err)
	}

	if isNetworkError(err) {
		return Wrap(KindNetworkError, err)
	}
	if isStorageError(err) {
		return Wrap(KindStorageError, err)
	}
	return Wrap(KindProcessingError, err)
}

func classifyStripe(se *stripe.Error, cause error) *PaymentError {
	kind := stripeKind(se)
	pe := Wrap(kind, cause)
	pe.Code = string(se.Code)
	if se.DeclineCode != "" {
		pe.Code = string(se.DeclineCode)
	}
	return pe
}

func stripeKind(se *stripe.Error) Kind {
	switch se.DeclineCode {
	case stripe.DeclineCode("insufficient_funds"):
		return KindInsufficientFunds
	case stripe.DeclineCode("expired_card"):
		return KindExpiredCard
	case stripe.DeclineCode("incorrect_cvc"), stripe.DeclineCode("invalid_cvc"):
		return KindIncorrectCVC
	case stripe.DeclineCode("authentication_required"):
		return KindAuthenticationRequired
	}

	switch se.Code {
	case stripe.ErrorCodeCardDeclined:
		return KindCardDeclined
	case stripe.ErrorCodeBalanceInsufficient, stripe.ErrorCode("insufficient_funds"):
		return KindInsufficientFunds
	case stripe.ErrorCodeExpiredCard:
		return KindExpiredCard
	case stripe.ErrorCodeIncorrectCVC, stripe.ErrorCode("invalid_cvc"):
		return KindIncorrectCVC
	case stripe.ErrorCode("authentication_required"):
		return KindAuthenticationRequired
	case stripe.ErrorCodeRateLimit:
		return KindGatewayUnavailable
	case stripe.ErrorCodeLockTimeout:
		return KindProcessingError
	}

	if se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError {
		return KindGatewayUnavailable
	}
	return KindProcessingError
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isStorageError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
