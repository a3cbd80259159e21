package gateway

import (
	"context"
	"strings"

	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"
)

// StripeGateway issues refunds through a per-instance stripe client.
type StripeGateway struct {
	sc  *client.API
	log *zap.Logger
}

func NewStripeGateway(secretKey string, log *zap.Logger) (*StripeGateway, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeGateway{sc: sc, log: log.Named("payment.gateway.stripe")}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, params RefundParams) (*RefundResult, error) {
	if strings.TrimSpace(params.PaymentIntentID) == "" || params.Amount <= 0 {
		return nil, paymenterror.New(paymenterror.KindValidationError, "refund requires a payment intent and a positive amount")
	}

	req := &stripego.RefundParams{
		PaymentIntent: stripego.String(params.PaymentIntentID),
		Amount:        stripego.Int64(params.Amount),
	}
	if reason := stripeReason(params.Reason); reason != "" {
		req.Reason = stripego.String(reason)
	}
	req.Context = ctx
	if params.IdempotencyKey != "" {
		req.SetIdempotencyKey(params.IdempotencyKey)
	}
	for k, v := range params.Metadata {
		req.AddMetadata(k, v)
	}

	refund, err := g.sc.Refunds.New(req)
	if err != nil {
		classified := paymenterror.Classify(err)
		g.log.Warn("stripe refund failed",
			zap.String("payment_intent_id", params.PaymentIntentID),
			zap.String("error_kind", string(classified.Kind)),
			zap.String("code", classified.Code),
		)
		return nil, classified
	}

	return &RefundResult{
		GatewayRefundID: refund.ID,
		Amount:          refund.Amount,
		Status:          refundStatus(refund.Status),
	}, nil
}

// stripeReason maps local reasons onto the three values the refunds API accepts.
func stripeReason(reason string) string {
	switch reason {
	case "duplicate":
		return string(stripego.RefundReasonDuplicate)
	case "fraudulent":
		return string(stripego.RefundReasonFraudulent)
	case "requested_by_customer", "subscription_cancellation":
		return string(stripego.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

func refundStatus(status stripego.RefundStatus) RefundStatus {
	switch status {
	case stripego.RefundStatusSucceeded:
		return RefundStatusSucceeded
	case stripego.RefundStatusFailed, stripego.RefundStatusCanceled:
		return RefundStatusFailed
	default:
		return RefundStatusPending
	}
}

var _ Gateway = (*StripeGateway)(nil)
