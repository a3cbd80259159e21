package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	"gorm.io/gorm"
)

type CreateSubscriptionRequest struct {
	PlanID                 string `json:"planId" validate:"required"`
	CustomerEmail          string `json:"customerEmail" validate:"omitempty,email"`
	Price                  int64  `json:"price" validate:"gt=0"`
	Currency               string `json:"currency" validate:"required,len=3,alpha"`
	BillingCycleDays       int    `json:"billingCycleDays" validate:"gt=0,lte=366"`
	GatewaySubscriptionID  string `json:"gatewaySubscriptionId,omitempty"`
	GatewayPaymentIntentID string `json:"gatewayPaymentIntentId,omitempty"`
}

// GatewaySync is the subscription state the gateway reported.
type GatewaySync struct {
	GatewaySubscriptionID string
	Status                SubscriptionStatus
	CurrentPeriodStart    time.Time
	CurrentPeriodEnd      time.Time
	CancelAtPeriodEnd     bool
}

type CancelResult struct {
	Subscription   Subscription
	PreviousStatus SubscriptionStatus
}

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks github.com/smallbiznis/paycore/internal/subscription/domain Service
type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Subscription, error)
	Lock(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Subscription, error)
	// LockByPaymentIntent finds the subscription whose last paid cycle used intentID.
	LockByPaymentIntent(ctx context.Context, tx *gorm.DB, intentID string) (*Subscription, error)

	// Cancel applies mode inside tx. Immediate cancellation ends the
	// subscription now; at_period_end only flags it.
	Cancel(ctx context.Context, tx *gorm.DB, id snowflake.ID, mode CancelMode) (*CancelResult, error)
	ApplyRefund(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount int64) (*Subscription, error)
	ReleaseRefund(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount int64) (*Subscription, error)

	SyncFromGateway(ctx context.Context, tx *gorm.DB, sync GatewaySync) error
	EndFromGateway(ctx context.Context, tx *gorm.DB, gatewaySubscriptionID string, endedAt time.Time) error
	SweepPeriodEnd(ctx context.Context, limit int) (int, error)
}

type subscriptionError struct {
	code string
	kind paymenterror.Kind
}

func (e *subscriptionError) Error() string                       { return e.code }
func (e *subscriptionError) PaymentErrorKind() paymenterror.Kind { return e.kind }

var (
	ErrSubscriptionAlreadyCancelled error = &subscriptionError{code: "subscription_already_cancelled", kind: paymenterror.KindSubscriptionError}
	ErrSubscriptionNotActive        error = &subscriptionError{code: "subscription_not_active", kind: paymenterror.KindSubscriptionError}
	ErrInvalidCancelMode            error = &subscriptionError{code: "invalid_cancel_mode", kind: paymenterror.KindValidationError}
	ErrInvalidRefundAmount          error = &subscriptionError{code: "invalid_refund_amount", kind: paymenterror.KindValidationError}
	ErrRefundExceedsPeriod          error = &subscriptionError{code: "refund_exceeds_period_price", kind: paymenterror.KindValidationError}
	ErrSubscriptionNotFound         error = errors.New("subscription_not_found")
	ErrInvalidTransition            error = errors.New("invalid_subscription_transition")
	ErrDuplicateGatewayID           error = errors.New("duplicate_gateway_subscription")
)
