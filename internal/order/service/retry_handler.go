package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycore/internal/events"
	orderdomain "github.com/smallbiznis/paycore/internal/order/domain"
	"github.com/smallbiznis/paycore/internal/retry"
	"github.com/smallbiznis/paycore/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type RetryHandlerParams struct {
	fx.In

	Dispatcher *retry.Dispatcher
	Orders     orderdomain.Service
	Publisher  events.Publisher
	Log        *zap.Logger
}

func RegisterRetryHandler(p RetryHandlerParams) error {
	return p.Dispatcher.Register(retry.JobTypePaymentRetry, NewRetryHandler(p.Orders, p.Publisher, p.Log))
}

// NewRetryHandler re-arms a failed payment and asks the checkout side to
// confirm the intent again.
func NewRetryHandler(orders orderdomain.Service, publisher events.Publisher, log *zap.Logger) retry.Handler {
	log = log.Named("order.retry")
	return func(ctx context.Context, job retry.Job) error {
		var payload orderdomain.RetryPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		paymentID, err := snowflake.ParseString(payload.PaymentID)
		if err != nil || paymentID == 0 || payload.Attempt < 2 {
			return retry.ErrInvalidPayload
		}

		payment, armed, err := orders.RearmPayment(ctx, paymentID, payload.Attempt)
		if err != nil {
			return err
		}
		if !armed {
			ctxlogger.WithContext(ctx, log).Info("payment retry skipped",
				zap.String("payment_id", payload.PaymentID),
				zap.String("status", string(payment.Status)),
			)
			return nil
		}

		failureKind := ""
		if payment.FailureKind != nil {
			failureKind = *payment.FailureKind
		}
		return publisher.Emit(ctx, events.Event{
			Type: events.TypePaymentRetryRequested,
			Key:  payment.OrderID.String(),
			Data: events.PaymentRetryRequested{
				OrderID:         payment.OrderID.String(),
				PaymentID:       payment.ID.String(),
				PaymentIntentID: payment.GatewayPaymentIntentID,
				Attempt:         payment.AttemptCount,
				FailureKind:     failureKind,
			},
		})
	}
}
