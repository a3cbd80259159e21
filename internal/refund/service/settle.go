package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paycore/internal/audit/domain"
	"github.com/smallbiznis/paycore/internal/events"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/payment/gateway"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	refunddomain "github.com/smallbiznis/paycore/internal/refund/domain"
	"github.com/smallbiznis/paycore/internal/retry"
	"github.com/smallbiznis/paycore/pkg/log/ctxlogger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	outcomeSucceeded      = "succeeded"
	outcomeFailed         = "failed"
	outcomeRetryScheduled = "retry_scheduled"
)

// settle runs the first gateway attempt for a reserved refund. A retryable
// failure leaves the refund pending behind a refund.retry job; any other
// failure releases the reservation. The classified error is returned in both
// cases.
func (s *Service) settle(ctx context.Context, refund *refunddomain.Refund, source string) (*refunddomain.Refund, error) {
	result, err := s.callGateway(ctx, refund)
	if err == nil {
		return s.succeed(ctx, refund, result.GatewayRefundID, source)
	}

	failure := paymenterror.Classify(err)
	s.metrics.RecordPaymentError(ctx, string(failure.Kind), failure.Retryable)
	decision := s.scheduler.Decide(failure, 2)
	if decision.Retry {
		if err := s.scheduleRetry(ctx, refund, failure, decision); err != nil {
			return nil, err
		}
		return nil, failure
	}
	if err := s.compensate(ctx, refund, failure, 1); err != nil {
		return nil, err
	}
	return nil, failure
}

// RetryRefund runs attempt for a pending refund. Errors are returned to the
// dispatcher, which reschedules the job with the same policy used here; once
// the policy gives up the reservation is released first.
func (s *Service) RetryRefund(ctx context.Context, id snowflake.ID, attempt int) error {
	refund, err := s.GetRefund(ctx, id)
	if err != nil {
		return err
	}
	log := ctxlogger.WithContext(ctx, s.log).With(zap.String("refund_id", id.String()))
	if refund.Status != refunddomain.RefundStatusPending {
		log.Info("refund retry skipped", zap.String("status", string(refund.Status)))
		return nil
	}

	result, err := s.callGateway(ctx, refund)
	if err == nil {
		_, err = s.succeed(ctx, refund, result.GatewayRefundID, "retry")
		return err
	}

	failure := paymenterror.Classify(err)
	s.metrics.RecordPaymentError(ctx, string(failure.Kind), failure.Retryable)
	if s.scheduler.Decide(failure, attempt+1).Retry {
		log.Info("refund attempt failed, will retry",
			zap.Int("attempt", attempt),
			zap.String("error_kind", string(failure.Kind)),
		)
		return failure
	}
	if err := s.compensate(ctx, refund, failure, attempt); err != nil {
		return err
	}
	return failure
}

func (s *Service) callGateway(ctx context.Context, refund *refunddomain.Refund) (*gateway.RefundResult, error) {
	intentID, err := s.intentFor(ctx, refund)
	if err != nil {
		return nil, err
	}
	result, err := s.gateway.Refund(ctx, gateway.RefundParams{
		PaymentIntentID: intentID,
		Amount:          refund.Amount,
		Currency:        refund.Currency,
		Reason:          string(refund.Reason),
		IdempotencyKey:  refund.ID.String(),
		Metadata:        map[string]string{paymentdomain.RefundMetadataKey: refund.ID.String()},
	})
	if err != nil {
		return nil, err
	}
	if result.Status == gateway.RefundStatusFailed {
		return nil, refunddomain.RejectedByGateway()
	}
	return result, nil
}

func (s *Service) intentFor(ctx context.Context, refund *refunddomain.Refund) (string, error) {
	if refund.PaymentID != nil {
		payment, err := s.orders.GetPayment(ctx, *refund.PaymentID)
		if err != nil {
			return "", err
		}
		return payment.GatewayPaymentIntentID, nil
	}
	if refund.SubscriptionID != nil {
		subscription, err := s.subscriptions.GetByID(ctx, *refund.SubscriptionID)
		if err != nil {
			return "", err
		}
		if subscription.GatewayPaymentIntentID == nil {
			return "", refunddomain.ErrNoPaymentIntent
		}
		return *subscription.GatewayPaymentIntentID, nil
	}
	return "", refunddomain.ErrInvalidTarget
}

// succeed records the gateway refund. The refund may already have been
// settled by charge.refunded reconciliation, in which case nothing changes.
func (s *Service) succeed(ctx context.Context, refund *refunddomain.Refund, gatewayRefundID, source string) (*refunddomain.Refund, error) {
	now := s.clock.Now().UTC()
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.MarkSucceeded(ctx, tx, refund.ID, gatewayRefundID, now)
		if err != nil || !ok {
			return err
		}
		applied = true
		if refund.RevokeAccess && refund.OrderID != nil {
			if _, err := s.orders.RevokeDownloadAccess(ctx, tx, *refund.OrderID); err != nil {
				return err
			}
		}
		return s.audit.Record(ctx, tx, createdEvent(refund, gatewayRefundID, source))
	})
	if err != nil {
		// The gateway has moved the money. charge.refunded carries the
		// refund id in its metadata and settles the row on delivery.
		ctxlogger.WithContext(ctx, s.log).Error("refund succeeded at gateway but was not recorded",
			zap.String("refund_id", refund.ID.String()),
			zap.String("gateway_refund_id", gatewayRefundID),
			zap.Error(err),
		)
		return nil, err
	}

	settled, err := s.GetRefund(ctx, refund.ID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return settled, nil
	}

	s.metrics.RecordRefund(ctx, string(refund.Reason), outcomeSucceeded)
	s.log.Info("refund succeeded",
		zap.String("refund_id", refund.ID.String()),
		zap.Int64("amount", refund.Amount),
		zap.String("source", source),
	)
	if refund.NotifyCustomer {
		s.notify(ctx, s.refundSucceededEvent(ctx, settled))
	}
	return settled, nil
}

func (s *Service) scheduleRetry(ctx context.Context, refund *refunddomain.Refund, failure *paymenterror.PaymentError, decision retry.Decision) error {
	runAt := s.clock.Now().UTC().Add(decision.Delay)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.queue.Enqueue(ctx, tx, retry.EnqueueRequest{
			JobType:   retry.JobTypeRefundRetry,
			ErrorKind: failure.Kind,
			DedupeKey: fmt.Sprintf("%s:%s", retry.JobTypeRefundRetry, refund.ID),
			Payload:   refunddomain.RetryPayload{RefundID: refund.ID.String()},
			Attempt:   decision.Attempt,
			RunAt:     runAt,
		}); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, failedEvent(refund, failure, false, 1))
	})
	if err != nil {
		return err
	}
	s.metrics.RecordRefund(ctx, string(refund.Reason), outcomeRetryScheduled)
	s.log.Warn("refund failed, retry scheduled",
		zap.String("refund_id", refund.ID.String()),
		zap.String("error_kind", string(failure.Kind)),
		zap.Time("run_at", runAt),
	)
	return nil
}

// compensate marks the refund failed and hands the reserved amount back to
// the order or subscription.
func (s *Service) compensate(ctx context.Context, refund *refunddomain.Refund, failure *paymenterror.PaymentError, attempt int) error {
	now := s.clock.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.MarkFailed(ctx, tx, refund.ID, string(failure.Kind), failure.Error(), now)
		if err != nil || !ok {
			return err
		}
		if refund.SubscriptionID != nil {
			if _, err := s.subscriptions.ReleaseRefund(ctx, tx, *refund.SubscriptionID, refund.Amount); err != nil {
				return err
			}
		} else if refund.OrderID != nil {
			if _, err := s.orders.ReleaseRefund(ctx, tx, *refund.OrderID, refund.Amount); err != nil {
				return err
			}
		}
		return s.audit.Record(ctx, tx, failedEvent(refund, failure, true, attempt))
	})
	if err != nil {
		return err
	}
	s.metrics.RecordRefund(ctx, string(refund.Reason), outcomeFailed)
	s.log.Warn("refund failed, reservation released",
		zap.String("refund_id", refund.ID.String()),
		zap.String("error_kind", string(failure.Kind)),
		zap.Int("attempt", attempt),
	)
	return nil
}

func (s *Service) refundSucceededEvent(ctx context.Context, refund *refunddomain.Refund) events.Event {
	data := events.RefundSucceeded{
		RefundID: refund.ID.String(),
		Amount:   refund.Amount,
		Currency: refund.Currency,
		Reason:   string(refund.Reason),
	}
	key := refund.ID.String()
	switch {
	case refund.OrderID != nil:
		data.OrderID = refund.OrderID.String()
		key = data.OrderID
		if order, err := s.orders.GetOrder(ctx, *refund.OrderID); err == nil {
			data.CustomerEmail = order.CustomerEmail
		}
	case refund.SubscriptionID != nil:
		key = refund.SubscriptionID.String()
		if subscription, err := s.subscriptions.GetByID(ctx, *refund.SubscriptionID); err == nil {
			data.CustomerEmail = subscription.CustomerEmail
		}
	}
	return events.Event{Type: events.TypeRefundSucceeded, Key: key, Data: data}
}

func createdEvent(refund *refunddomain.Refund, gatewayRefundID, source string) auditdomain.RefundCreatedV1 {
	return auditdomain.RefundCreatedV1{
		RefundID:        refund.ID.String(),
		OrderID:         idString(refund.OrderID),
		PaymentID:       idString(refund.PaymentID),
		SubscriptionID:  idString(refund.SubscriptionID),
		GatewayRefundID: gatewayRefundID,
		Amount:          refund.Amount,
		Currency:        refund.Currency,
		Reason:          string(refund.Reason),
		Status:          string(refunddomain.RefundStatusSucceeded),
		RevokeAccess:    refund.RevokeAccess,
		Source:          source,
	}
}

func failedEvent(refund *refunddomain.Refund, failure *paymenterror.PaymentError, compensated bool, attempt int) auditdomain.RefundFailedV1 {
	return auditdomain.RefundFailedV1{
		RefundID:     refund.ID.String(),
		OrderID:      idString(refund.OrderID),
		Amount:       refund.Amount,
		ErrorKind:    string(failure.Kind),
		ErrorCode:    failure.Code,
		Retryable:    failure.Retryable,
		Compensated:  compensated,
		AttemptCount: attempt,
	}
}

func idString(id *snowflake.ID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
