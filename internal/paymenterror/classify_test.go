package paymenterror

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"
)

type kindedErr struct{ kind Kind }

func (e kindedErr) Error() string          { return "domain failure" }
func (e kindedErr) PaymentErrorKind() Kind { return e.kind }

func TestClassifyStripeErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      *stripe.Error
		wantKind Kind
		wantCode string
	}{
		{"card_declined", &stripe.Error{Code: stripe.ErrorCodeCardDeclined, HTTPStatusCode: 402}, KindCardDeclined, "card_declined"},
		{"decline_code_insufficient_funds", &stripe.Error{Code: stripe.ErrorCodeCardDeclined, DeclineCode: stripe.DeclineCode("insufficient_funds"), HTTPStatusCode: 402}, KindInsufficientFunds, "insufficient_funds"},
		{"expired_card", &stripe.Error{Code: stripe.ErrorCodeExpiredCard}, KindExpiredCard, "expired_card"},
		{"incorrect_cvc", &stripe.Error{Code: stripe.ErrorCodeIncorrectCVC}, KindIncorrectCVC, "incorrect_cvc"},
		{"invalid_cvc", &stripe.Error{Code: stripe.ErrorCode("invalid_cvc")}, KindIncorrectCVC, "invalid_cvc"},
		{"authentication_required", &stripe.Error{Code: stripe.ErrorCode("authentication_required")}, KindAuthenticationRequired, "authentication_required"},
		{"rate_limit", &stripe.Error{Code: stripe.ErrorCodeRateLimit, HTTPStatusCode: 429}, KindGatewayUnavailable, "rate_limit"},
		{"http_429_without_code", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, KindGatewayUnavailable, ""},
		{"server_error", &stripe.Error{HTTPStatusCode: http.StatusBadGateway}, KindGatewayUnavailable, ""},
		{"lock_timeout", &stripe.Error{Code: stripe.ErrorCodeLockTimeout, HTTPStatusCode: 400}, KindProcessingError, "lock_timeout"},
		{"unknown_code", &stripe.Error{Code: stripe.ErrorCode("parameter_missing"), HTTPStatusCode: 400}, KindProcessingError, "parameter_missing"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pe := Classify(fmt.Errorf("refund: %w", tc.err))
			require.NotNil(t, pe)
			assert.Equal(t, tc.wantKind, pe.Kind)
			assert.Equal(t, tc.wantCode, pe.Code)
			assert.Equal(t, tc.wantKind.Retryable(), pe.Retryable)
			assert.Equal(t, tc.wantKind.Action(), pe.Action)

			var se *stripe.Error
			assert.True(t, errors.As(pe, &se), "stripe error must stay reachable")
		})
	}
}

func TestClassifyTransportErrors(t *testing.T) {
	cases := map[string]error{
		"deadline":       context.DeadlineExceeded,
		"unexpected_eof": fmt.Errorf("read body: %w", io.ErrUnexpectedEOF),
		"conn_refused":   &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
		"conn_reset":     fmt.Errorf("write: %w", syscall.ECONNRESET),
		"dns":            &net.DNSError{Err: "no such host", Name: "api.stripe.com"},
	}
	for name, err := range cases {
		t.Run(name, func(t *testing.T) {
			pe := Classify(err)
			assert.Equal(t, KindNetworkError, pe.Kind)
			assert.True(t, pe.Retryable)
			assert.Equal(t, ActionAutoRetry, pe.Action)
		})
	}
}

func TestClassifyStorageErrors(t *testing.T) {
	assert.Equal(t, KindStorageError, Classify(&pgconn.PgError{Code: "08006"}).Kind)
	assert.Equal(t, KindStorageError, Classify(gorm.ErrInvalidTransaction).Kind)
	assert.Equal(t, KindStorageError, Classify(fmt.Errorf("exec: %w", driver.ErrBadConn)).Kind)
	assert.Equal(t, KindProcessingError, Classify(gorm.ErrRecordNotFound).Kind)
}

func TestClassifyPassThroughAndKinded(t *testing.T) {
	original := New(KindSubscriptionError, "already cancelled")
	assert.Same(t, original, Classify(fmt.Errorf("cancel: %w", original)))

	pe := Classify(kindedErr{kind: KindPromoCodeInvalid})
	assert.Equal(t, KindPromoCodeInvalid, pe.Kind)
	assert.Equal(t, ActionRemovePromoCode, pe.Action)
	assert.False(t, pe.Retryable)

	assert.Nil(t, Classify(nil))
	assert.Equal(t, KindProcessingError, Classify(errors.New("mystery")).Kind)
}

func TestPolicyTableCoversEveryKind(t *testing.T) {
	kinds := Kinds()
	require.Len(t, kinds, 16)
	for _, kind := range kinds {
		assert.True(t, kind.Valid(), kind)
		assert.NotEmpty(t, kind.Action(), kind)
		assert.NotEmpty(t, kind.UserMessage(), kind)
	}
	assert.False(t, Kind("bogus").Valid())

	retryable := map[Kind]bool{}
	for _, kind := range kinds {
		if kind.Retryable() {
			retryable[kind] = true
		}
	}
	assert.Equal(t, map[Kind]bool{
		KindInsufficientFunds:  true,
		KindProcessingError:    true,
		KindNetworkError:       true,
		KindGatewayUnavailable: true,
		KindStorageError:       true,
		KindWebhookError:       true,
	}, retryable)
}

func TestPaymentErrorIsAndMessage(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(KindNetworkError, io.ErrUnexpectedEOF))
	assert.ErrorIs(t, err, &PaymentError{Kind: KindNetworkError})
	assert.NotErrorIs(t, err, &PaymentError{Kind: KindStorageError})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, KindNetworkError, KindOf(err))

	pe := New(KindCardDeclined, "")
	pe.Code = "card_declined"
	assert.Equal(t, "card_declined (card_declined): Your card was declined.", pe.Error())
}
