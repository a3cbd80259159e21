package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	refunddomain "github.com/smallbiznis/paycore/internal/refund/domain"
	"github.com/smallbiznis/paycore/internal/retry"
	"go.uber.org/fx"
)

type RetryHandlerParams struct {
	fx.In

	Dispatcher *retry.Dispatcher
	Refunds    refunddomain.Service
}

func RegisterRetryHandler(p RetryHandlerParams) error {
	return p.Dispatcher.Register(retry.JobTypeRefundRetry, NewRetryHandler(p.Refunds))
}

// NewRetryHandler re-attempts a pending refund as the job's attempt.
func NewRetryHandler(refunds refunddomain.Service) retry.Handler {
	return func(ctx context.Context, job retry.Job) error {
		var payload refunddomain.RetryPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		id, err := snowflake.ParseString(payload.RefundID)
		if err != nil || id == 0 {
			return retry.ErrInvalidPayload
		}
		return refunds.RetryRefund(ctx, id, job.Attempt)
	}
}
