package domain

import (
	"time"

	"github.com/smallbiznis/paycore/internal/paymenterror"
)

const ProviderStripe = "stripe"

// RefundMetadataKey tags gateway refunds with the local refund id.
const RefundMetadataKey = "paycore_refund_id"

// Gateway event types handled by the reconciliation core.
const (
	EventTypePaymentSucceeded      = "payment_intent.succeeded"
	EventTypePaymentFailed         = "payment_intent.payment_failed"
	EventTypePaymentRequiresAction = "payment_intent.requires_action"
	EventTypeChargeRefunded        = "charge.refunded"
	EventTypeSubscriptionUpdated   = "customer.subscription.updated"
	EventTypeSubscriptionDeleted   = "customer.subscription.deleted"
)

// Envelope identifies one verified delivery. EventID is the idempotency key.
type Envelope struct {
	EventID    string
	Provider   string
	EventType  string
	Payload    []byte
	OccurredAt time.Time
}

// Event is the parsed, typed form of a gateway event. The set of
// implementations is closed to this package.
type Event interface {
	EventType() string
	isEvent()
}

type PaymentSucceeded struct {
	PaymentIntentID string
	Amount          int64
	Currency        string
}

type PaymentFailed struct {
	PaymentIntentID string
	Amount          int64
	Currency        string
	// Failure is the classified last_payment_error of the intent.
	Failure *paymenterror.PaymentError
}

type PaymentRequiresAction struct {
	PaymentIntentID string
	NextAction      string
}

// GatewayRefund is one refund on a charge. LocalRefundID is set when the
// refund was issued by this service and tagged with its refund id.
type GatewayRefund struct {
	ID            string
	Amount        int64
	Status        string
	LocalRefundID string
}

type ChargeRefunded struct {
	ChargeID        string
	PaymentIntentID string
	AmountRefunded  int64
	Currency        string
	Refunds         []GatewayRefund
}

// SubscriptionUpdated carries the gateway view of a subscription. Status is
// already mapped onto the local status names.
type SubscriptionUpdated struct {
	GatewaySubscriptionID string
	Status                string
	CurrentPeriodStart    time.Time
	CurrentPeriodEnd      time.Time
	CancelAtPeriodEnd     bool
}

type SubscriptionDeleted struct {
	GatewaySubscriptionID string
	EndedAt               time.Time
}

// Unhandled is recorded in the ledger and acknowledged without side effects.
type Unhandled struct {
	Type string
}

func (PaymentSucceeded) EventType() string      { return EventTypePaymentSucceeded }
func (PaymentFailed) EventType() string         { return EventTypePaymentFailed }
func (PaymentRequiresAction) EventType() string { return EventTypePaymentRequiresAction }
func (ChargeRefunded) EventType() string        { return EventTypeChargeRefunded }
func (SubscriptionUpdated) EventType() string   { return EventTypeSubscriptionUpdated }
func (SubscriptionDeleted) EventType() string   { return EventTypeSubscriptionDeleted }
func (e Unhandled) EventType() string           { return e.Type }

func (PaymentSucceeded) isEvent()      {}
func (PaymentFailed) isEvent()         {}
func (PaymentRequiresAction) isEvent() {}
func (ChargeRefunded) isEvent()        {}
func (SubscriptionUpdated) isEvent()   {}
func (SubscriptionDeleted) isEvent()   {}
func (Unhandled) isEvent()             {}
