// Package events publishes customer notifications and domain events to Kafka.
package events

import (
	"context"
	"errors"
	"time"
)

const (
	TypeRefundSucceeded       = "refund.succeeded"
	TypeSubscriptionCancelled = "subscription.cancelled"
	TypePaymentRetryRequested = "payment.retry_requested"
)

var ErrInvalidEvent = errors.New("invalid_event")

// Event is the envelope written as the message value. Key selects the
// partition so events for one order or subscription stay ordered.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Key        string    `json:"-"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type Publisher interface {
	// Notify publishes to the customer notifications topic.
	Notify(ctx context.Context, ev Event) error
	// Emit publishes to the domain events topic.
	Emit(ctx context.Context, ev Event) error
}

type RefundSucceeded struct {
	RefundID      string `json:"refund_id"`
	OrderID       string `json:"order_id,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason"`
}

type SubscriptionCancelled struct {
	SubscriptionID string     `json:"subscription_id"`
	CustomerEmail  string     `json:"customer_email,omitempty"`
	Mode           string     `json:"mode"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	RefundAmount   int64      `json:"refund_amount,omitempty"`
}

type PaymentRetryRequested struct {
	OrderID         string `json:"order_id"`
	PaymentID       string `json:"payment_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Attempt         int    `json:"attempt"`
	FailureKind     string `json:"failure_kind"`
}
