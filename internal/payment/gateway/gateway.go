package gateway

import "context"

//go:generate mockgen -destination=mocks/mock_gateway.go -package=mocks github.com/smallbiznis/paycore/internal/payment/gateway Gateway

// Gateway is the outbound side of the payment provider.
type Gateway interface {
	Refund(ctx context.Context, params RefundParams) (*RefundResult, error)
}

type RefundParams struct {
	PaymentIntentID string
	Amount          int64
	Currency        string
	Reason          string
	// IdempotencyKey makes a re-attempted refund land on the same gateway refund.
	IdempotencyKey string
	Metadata       map[string]string
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

type RefundResult struct {
	GatewayRefundID string
	Amount          int64
	Status          RefundStatus
}
