// Package domain holds the refund model and the request and response shapes
// of the refund and cancellation manager.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/paycore/internal/subscription/domain"
)

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

func (s RefundStatus) Valid() bool {
	return s == RefundStatusPending || s == RefundStatusSucceeded || s == RefundStatusFailed
}

type Reason string

const (
	ReasonDuplicate                Reason = "duplicate"
	ReasonFraudulent               Reason = "fraudulent"
	ReasonRequestedByCustomer      Reason = "requested_by_customer"
	ReasonSubscriptionCancellation Reason = "subscription_cancellation"
	ReasonProductUnavailable       Reason = "product_unavailable"
	ReasonOther                    Reason = "other"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonDuplicate,
		ReasonFraudulent,
		ReasonRequestedByCustomer,
		ReasonSubscriptionCancellation,
		ReasonProductUnavailable,
		ReasonOther:
		return true
	default:
		return false
	}
}

type Refund struct {
	ID              snowflake.ID  `json:"id" gorm:"column:id;primaryKey"`
	OrderID         *snowflake.ID `json:"order_id,omitempty" gorm:"column:order_id"`
	PaymentID       *snowflake.ID `json:"payment_id,omitempty" gorm:"column:payment_id"`
	SubscriptionID  *snowflake.ID `json:"subscription_id,omitempty" gorm:"column:subscription_id"`
	GatewayRefundID *string       `json:"gateway_refund_id,omitempty" gorm:"column:gateway_refund_id"`
	Amount          int64         `json:"amount" gorm:"column:amount"`
	Currency        string        `json:"currency" gorm:"column:currency"`
	Status          RefundStatus  `json:"status" gorm:"column:status"`
	Reason          Reason        `json:"reason" gorm:"column:reason"`
	RevokeAccess    bool          `json:"revoke_access" gorm:"column:revoke_access"`
	NotifyCustomer  bool          `json:"notify_customer" gorm:"column:notify_customer"`
	FailureKind     *string       `json:"failure_kind,omitempty" gorm:"column:failure_kind"`
	FailureMessage  *string       `json:"failure_message,omitempty" gorm:"column:failure_message"`
	ProcessedAt     *time.Time    `json:"processed_at,omitempty" gorm:"column:processed_at"`
	CreatedAt       time.Time     `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time     `json:"updated_at" gorm:"column:updated_at"`
}

func (Refund) TableName() string { return "refunds" }

// RefundRequest names exactly one target. Amount defaults to the remaining
// balance, or the prorated period price for a subscription.
type RefundRequest struct {
	OrderID        snowflake.ID `json:"orderId,omitempty"`
	PaymentID      snowflake.ID `json:"paymentId,omitempty"`
	SubscriptionID snowflake.ID `json:"subscriptionId,omitempty"`
	Amount         *int64       `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Reason         Reason       `json:"reason" validate:"required,oneof=duplicate fraudulent requested_by_customer subscription_cancellation product_unavailable other"`
	RevokeAccess   bool         `json:"revokeAccess,omitempty"`
	NotifyCustomer bool         `json:"notifyCustomer,omitempty"`
}

type CancelRequest struct {
	SubscriptionID snowflake.ID                  `json:"-"`
	Mode           subscriptiondomain.CancelMode `json:"mode" validate:"required,oneof=at_period_end immediate"`
	Prorate        bool                          `json:"prorate,omitempty"`
	Reason         string                        `json:"reason,omitempty" validate:"max=255"`
}

type RefundSummary struct {
	ID     string       `json:"id"`
	Amount int64        `json:"amount"`
	Status RefundStatus `json:"status"`
}

type OrderSummary struct {
	Status        string `json:"status"`
	TotalRefunded int64  `json:"totalRefunded"`
}

type SubscriptionSummary struct {
	Status  string     `json:"status"`
	EndedAt *time.Time `json:"endedAt,omitempty"`
}

type RefundResponse struct {
	Refund       RefundSummary        `json:"refund"`
	Order        *OrderSummary        `json:"order,omitempty"`
	Subscription *SubscriptionSummary `json:"subscription,omitempty"`
}

type CancelResponse struct {
	Subscription SubscriptionSummary `json:"subscription"`
	Refund       *RefundSummary      `json:"refund,omitempty"`
}

// Eligibility reasons.
const (
	ReasonRefundWindowExpired = "refund_window_expired"
	ReasonOrderNotRefundable  = "order_not_refundable"
	ReasonNoSucceededPayment  = "no_succeeded_payment"
	ReasonNothingToRefund     = "nothing_left_to_refund"
)

type Eligibility struct {
	Eligible         bool     `json:"eligible"`
	Reasons          []string `json:"reasons"`
	RefundableAmount int64    `json:"refundableAmount"`
}

// RetryPayload is the refund.retry job payload.
type RetryPayload struct {
	RefundID string `json:"refund_id"`
}
