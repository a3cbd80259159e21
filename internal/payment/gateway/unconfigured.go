package gateway

import (
	"context"

	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/paymenterror"
)

// Unconfigured stands in when no secret key is set outside production.
// Every refund fails as gateway_unavailable, so reservations are retried
// rather than lost.
type Unconfigured struct{}

func (Unconfigured) Refund(ctx context.Context, params RefundParams) (*RefundResult, error) {
	return nil, paymenterror.Wrap(paymenterror.KindGatewayUnavailable, paymentdomain.ErrGatewayNotConfigured)
}
