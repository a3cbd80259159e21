package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paycore/internal/audit/domain"
	orderdomain "github.com/smallbiznis/paycore/internal/order/domain"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	"github.com/smallbiznis/paycore/internal/retry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ApplyPaymentSucceeded completes the order. Replays for a payment that
// already succeeded are no-ops. A failed payment is re-armed first: either a
// retry is in flight or the customer paid again after a terminal decline,
// and in both cases the money was captured.
func (s *Service) ApplyPaymentSucceeded(ctx context.Context, tx *gorm.DB, intentID string, amount int64) error {
	payment, order, err := s.lockByIntent(ctx, tx, intentID)
	if err != nil {
		return err
	}
	if payment.Status == orderdomain.PaymentStatusSucceeded {
		return nil
	}
	if amount != payment.Amount {
		s.log.Warn("payment amount mismatch",
			zap.String("payment_id", payment.ID.String()),
			zap.Int64("expected", payment.Amount),
			zap.Int64("received", amount),
		)
		return orderdomain.ErrAmountMismatch
	}

	from := payment.Status
	if payment.Status == orderdomain.PaymentStatusFailed &&
		(order.Status == orderdomain.OrderStatusPending || order.Status == orderdomain.OrderStatusFailed) {
		payment.Status = orderdomain.PaymentStatusPending
		payment.AttemptCount++
	}
	if !payment.Status.CanTransitionTo(orderdomain.PaymentStatusSucceeded) ||
		!order.Status.CanTransitionTo(orderdomain.OrderStatusCompleted) {
		return orderdomain.ErrInvalidTransition
	}

	now := s.clock.Now().UTC()
	payment.Status = orderdomain.PaymentStatusSucceeded
	payment.FailureKind = nil
	payment.FailureCode = nil
	payment.UpdatedAt = now
	order.Status = orderdomain.OrderStatusCompleted
	order.UpdatedAt = now

	if err := s.repo.UpdatePaymentState(ctx, tx, payment); err != nil {
		return err
	}
	if err := s.repo.UpdateOrderState(ctx, tx, order); err != nil {
		return err
	}
	return s.recordTransition(ctx, tx, payment, order, from, nil, false)
}

// ApplyPaymentFailed records the failure. A retryable failure with attempts
// left schedules payment.retry and keeps the order pending; anything else
// fails the order.
func (s *Service) ApplyPaymentFailed(ctx context.Context, tx *gorm.DB, intentID string, failure *paymenterror.PaymentError) error {
	if failure == nil {
		failure = paymenterror.New(paymenterror.KindProcessingError, "")
	}
	payment, order, err := s.lockByIntent(ctx, tx, intentID)
	if err != nil {
		return err
	}
	switch payment.Status {
	case orderdomain.PaymentStatusFailed:
		return nil
	case orderdomain.PaymentStatusSucceeded:
		// Out-of-order delivery of an earlier attempt's failure.
		s.log.Warn("stale payment failure ignored",
			zap.String("payment_id", payment.ID.String()),
			zap.String("kind", string(failure.Kind)),
		)
		return nil
	}
	if !payment.Status.CanTransitionTo(orderdomain.PaymentStatusFailed) {
		return orderdomain.ErrInvalidTransition
	}

	now := s.clock.Now().UTC()
	from := payment.Status
	kind := string(failure.Kind)
	payment.Status = orderdomain.PaymentStatusFailed
	payment.FailureKind = &kind
	payment.FailureCode = nil
	if failure.Code != "" {
		code := failure.Code
		payment.FailureCode = &code
	}
	payment.UpdatedAt = now
	if err := s.repo.UpdatePaymentState(ctx, tx, payment); err != nil {
		return err
	}
	s.metrics.RecordPaymentError(ctx, kind, failure.Retryable)

	retryScheduled := false
	if order.Status == orderdomain.OrderStatusPending {
		decision := s.scheduler.Decide(failure, payment.AttemptCount+1)
		if decision.Retry {
			if _, err := s.queue.Enqueue(ctx, tx, retry.EnqueueRequest{
				JobType:   retry.JobTypePaymentRetry,
				ErrorKind: failure.Kind,
				DedupeKey: fmt.Sprintf("%s:%s:%d", retry.JobTypePaymentRetry, payment.ID, decision.Attempt),
				Payload:   orderdomain.RetryPayload{PaymentID: payment.ID.String(), Attempt: decision.Attempt},
				Attempt:   1,
				RunAt:     now.Add(decision.Delay),
			}); err != nil {
				return err
			}
			retryScheduled = true
		} else {
			order.Status = orderdomain.OrderStatusFailed
			order.UpdatedAt = now
			if err := s.repo.UpdateOrderState(ctx, tx, order); err != nil {
				return err
			}
		}
	}

	s.log.Info("payment failed",
		zap.String("payment_id", payment.ID.String()),
		zap.String("kind", kind),
		zap.Int("attempt", payment.AttemptCount),
		zap.Bool("retry_scheduled", retryScheduled),
	)
	return s.recordTransition(ctx, tx, payment, order, from, failure, retryScheduled)
}

func (s *Service) ApplyRequiresAction(ctx context.Context, tx *gorm.DB, intentID string) error {
	payment, order, err := s.lockByIntent(ctx, tx, intentID)
	if err != nil {
		return err
	}
	switch payment.Status {
	case orderdomain.PaymentStatusRequiresAction:
		return nil
	case orderdomain.PaymentStatusSucceeded:
		s.log.Warn("stale requires_action ignored", zap.String("payment_id", payment.ID.String()))
		return nil
	}
	if !payment.Status.CanTransitionTo(orderdomain.PaymentStatusRequiresAction) {
		return orderdomain.ErrInvalidTransition
	}

	from := payment.Status
	payment.Status = orderdomain.PaymentStatusRequiresAction
	payment.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.UpdatePaymentState(ctx, tx, payment); err != nil {
		return err
	}
	return s.recordTransition(ctx, tx, payment, order, from, nil, false)
}

// RearmPayment moves a failed payment back to pending for the given attempt.
// It reports true when the payment is armed for attempt, including when an
// earlier run already armed it.
func (s *Service) RearmPayment(ctx context.Context, paymentID snowflake.ID, attempt int) (*orderdomain.Payment, bool, error) {
	var (
		payment *orderdomain.Payment
		armed   bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = s.repo.FindPaymentByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return orderdomain.ErrPaymentNotFound
		}
		if payment.Status == orderdomain.PaymentStatusPending && payment.AttemptCount == attempt {
			armed = true
			return nil
		}
		if payment.Status != orderdomain.PaymentStatusFailed || payment.AttemptCount+1 != attempt {
			return nil
		}
		order, err := s.LockOrder(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		if order.Status != orderdomain.OrderStatusPending {
			return nil
		}

		from := payment.Status
		payment.Status = orderdomain.PaymentStatusPending
		payment.AttemptCount = attempt
		payment.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.UpdatePaymentState(ctx, tx, payment); err != nil {
			return err
		}
		armed = true
		return s.recordTransition(ctx, tx, payment, order, from, nil, false)
	})
	if err != nil {
		return nil, false, err
	}
	return payment, armed, nil
}

// LockPaymentByIntent locks the payment for intentID and then its order.
func (s *Service) LockPaymentByIntent(ctx context.Context, tx *gorm.DB, intentID string) (*orderdomain.Payment, *orderdomain.Order, error) {
	return s.lockByIntent(ctx, tx, intentID)
}

func (s *Service) lockByIntent(ctx context.Context, tx *gorm.DB, intentID string) (*orderdomain.Payment, *orderdomain.Order, error) {
	payment, err := s.repo.FindPaymentByIntentForUpdate(ctx, tx, intentID)
	if err != nil {
		return nil, nil, err
	}
	if payment == nil {
		return nil, nil, orderdomain.ErrPaymentNotFound
	}
	order, err := s.LockOrder(ctx, tx, payment.OrderID)
	if err != nil {
		return nil, nil, err
	}
	return payment, order, nil
}

func (s *Service) recordTransition(
	ctx context.Context,
	tx *gorm.DB,
	payment *orderdomain.Payment,
	order *orderdomain.Order,
	from orderdomain.PaymentStatus,
	failure *paymenterror.PaymentError,
	retryScheduled bool,
) error {
	event := auditdomain.PaymentStateChangedV1{
		PaymentID:       payment.ID.String(),
		OrderID:         order.ID.String(),
		PaymentIntentID: payment.GatewayPaymentIntentID,
		From:            string(from),
		To:              string(payment.Status),
		OrderStatus:     string(order.Status),
		RetryScheduled:  retryScheduled,
	}
	if failure != nil {
		event.FailureKind = string(failure.Kind)
		event.FailureCode = failure.Code
	}
	return s.audit.Record(ctx, tx, event)
}
