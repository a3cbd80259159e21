package domain

import "time"

const (
	ActionRefundCreated         = "refund.created"
	ActionRefundFailed          = "refund.failed"
	ActionSubscriptionCancelled = "subscription.cancelled"
	ActionPaymentStateChanged   = "payment.state_changed"
	ActionWebhookApplied        = "webhook.applied"
)

type RefundCreatedV1 struct {
	RefundID        string `json:"refund_id"`
	OrderID         string `json:"order_id,omitempty"`
	PaymentID       string `json:"payment_id,omitempty"`
	SubscriptionID  string `json:"subscription_id,omitempty"`
	GatewayRefundID string `json:"gateway_refund_id,omitempty"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Reason          string `json:"reason"`
	Status          string `json:"status"`
	RevokeAccess    bool   `json:"revoke_access"`
	// Source is "api" for refunds paycore issued and "gateway" for ones
	// reconciled from charge.refunded.
	Source string `json:"source"`
}

func (RefundCreatedV1) AuditAction() string { return ActionRefundCreated }
func (RefundCreatedV1) AuditVersion() int   { return 1 }
func (p RefundCreatedV1) AuditTarget() (string, string) {
	return TargetRefund, p.RefundID
}

type RefundFailedV1 struct {
	RefundID     string `json:"refund_id"`
	OrderID      string `json:"order_id,omitempty"`
	Amount       int64  `json:"amount"`
	ErrorKind    string `json:"error_kind"`
	ErrorCode    string `json:"error_code,omitempty"`
	Retryable    bool   `json:"retryable"`
	Compensated  bool   `json:"compensated"`
	AttemptCount int    `json:"attempt_count"`
}

func (RefundFailedV1) AuditAction() string { return ActionRefundFailed }
func (RefundFailedV1) AuditVersion() int   { return 1 }
func (p RefundFailedV1) AuditTarget() (string, string) {
	return TargetRefund, p.RefundID
}

type SubscriptionCancelledV1 struct {
	SubscriptionID string     `json:"subscription_id"`
	Mode           string     `json:"mode"`
	Reason         string     `json:"reason,omitempty"`
	PreviousStatus string     `json:"previous_status"`
	Status         string     `json:"status"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	RefundID       string     `json:"refund_id,omitempty"`
	RefundAmount   int64      `json:"refund_amount,omitempty"`
	Source         string     `json:"source"`
}

func (SubscriptionCancelledV1) AuditAction() string { return ActionSubscriptionCancelled }
func (SubscriptionCancelledV1) AuditVersion() int   { return 1 }
func (p SubscriptionCancelledV1) AuditTarget() (string, string) {
	return TargetSubscription, p.SubscriptionID
}

type PaymentStateChangedV1 struct {
	PaymentID       string `json:"payment_id"`
	OrderID         string `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	From            string `json:"from"`
	To              string `json:"to"`
	OrderStatus     string `json:"order_status"`
	FailureKind     string `json:"failure_kind,omitempty"`
	FailureCode     string `json:"failure_code,omitempty"`
	RetryScheduled  bool   `json:"retry_scheduled,omitempty"`
}

func (PaymentStateChangedV1) AuditAction() string { return ActionPaymentStateChanged }
func (PaymentStateChangedV1) AuditVersion() int   { return 1 }
func (p PaymentStateChangedV1) AuditTarget() (string, string) {
	return TargetPayment, p.PaymentID
}

type WebhookAppliedV1 struct {
	EventID   string `json:"event_id"`
	Provider  string `json:"provider"`
	EventType string `json:"event_type"`
	// Secret-bearing identifiers are masked before storage.
	Reference string `json:"reference,omitempty"`
}

func (WebhookAppliedV1) AuditAction() string { return ActionWebhookApplied }
func (WebhookAppliedV1) AuditVersion() int   { return 1 }
func (p WebhookAppliedV1) AuditTarget() (string, string) {
	return TargetWebhookEvent, p.EventID
}
