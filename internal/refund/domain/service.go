package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	"gorm.io/gorm"
)

type Service interface {
	Refund(ctx context.Context, req RefundRequest) (*RefundResponse, error)
	CancelSubscription(ctx context.Context, req CancelRequest) (*CancelResponse, error)
	CheckRefundEligibility(ctx context.Context, orderID snowflake.ID) (*Eligibility, error)
	GetRefund(ctx context.Context, id snowflake.ID) (*Refund, error)

	// RetryRefund re-attempts a pending refund with its original idempotency key.
	RetryRefund(ctx context.Context, id snowflake.ID, attempt int) error
	// ReconcileChargeRefunded records refunds the gateway reports on a charge.
	// It runs inside the webhook ledger transaction.
	ReconcileChargeRefunded(ctx context.Context, tx *gorm.DB, ev paymentdomain.ChargeRefunded) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, refund *Refund) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Refund, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Refund, error)
	FindByGatewayRefundID(ctx context.Context, db *gorm.DB, gatewayRefundID string) (*Refund, error)
	MarkSucceeded(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayRefundID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, kind, message string, at time.Time) (bool, error)
}

type refundError struct {
	code string
	kind paymenterror.Kind
}

func (e *refundError) Error() string                       { return e.code }
func (e *refundError) PaymentErrorKind() paymenterror.Kind { return e.kind }

var (
	ErrInvalidTarget        error = &refundError{code: "refund_target_required", kind: paymenterror.KindValidationError}
	ErrNothingToRefund      error = &refundError{code: "nothing_to_refund", kind: paymenterror.KindValidationError}
	ErrNoPaymentIntent      error = &refundError{code: "no_refundable_payment", kind: paymenterror.KindValidationError}
	ErrReconcileExceedsCap  error = &refundError{code: "gateway_refund_exceeds_balance", kind: paymenterror.KindWebhookError}
	ErrUnknownPaymentIntent error = &refundError{code: "unknown_payment_intent", kind: paymenterror.KindWebhookError}
	ErrRefundNotFound       error = errors.New("refund_not_found")
)

// RefundRejectedCode marks a refund the gateway answered with a final failed
// status.
const RefundRejectedCode = "refund_rejected"

// RejectedByGateway is the failure for a refund the gateway declined outright.
// Resending it under the same idempotency key returns the same answer, so it
// is never retried.
func RejectedByGateway() *paymenterror.PaymentError {
	pe := paymenterror.New(paymenterror.KindProcessingError, "The refund was rejected by the payment provider.")
	pe.Code = RefundRejectedCode
	pe.Retryable = false
	pe.Action = paymenterror.ActionContactSupport
	return pe
}
