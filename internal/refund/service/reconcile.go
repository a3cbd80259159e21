package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/paycore/internal/order/domain"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	refunddomain "github.com/smallbiznis/paycore/internal/refund/domain"
	subscriptiondomain "github.com/smallbiznis/paycore/internal/subscription/domain"
	"github.com/smallbiznis/paycore/pkg/log/ctxlogger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconcileChargeRefunded brings local refunds in line with a charge.refunded
// event. Refunds we issued are settled by their tagged id; refunds made
// outside paycore are recorded as succeeded under the same balance cap.
func (s *Service) ReconcileChargeRefunded(ctx context.Context, tx *gorm.DB, ev paymentdomain.ChargeRefunded) error {
	log := ctxlogger.WithContext(ctx, s.log).With(
		zap.String("charge_id", ev.ChargeID),
		zap.String("payment_intent_id", ev.PaymentIntentID),
	)

	payment, order, subscription, err := s.lockRefundTarget(ctx, tx, ev.PaymentIntentID)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	for _, gr := range ev.Refunds {
		if isFailedGatewayRefund(gr.Status) {
			continue
		}
		existing, err := s.repo.FindByGatewayRefundID(ctx, tx, gr.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		if local, err := s.taggedRefund(ctx, tx, gr.LocalRefundID); err != nil {
			return err
		} else if local != nil {
			if local.Status != refunddomain.RefundStatusPending {
				log.Warn("gateway refund for a settled local refund",
					zap.String("refund_id", local.ID.String()),
					zap.String("status", string(local.Status)),
					zap.String("gateway_refund_id", gr.ID),
				)
				continue
			}
			ok, err := s.repo.MarkSucceeded(ctx, tx, local.ID, gr.ID, now)
			if err != nil {
				return err
			}
			if ok {
				if local.RevokeAccess && local.OrderID != nil {
					if _, err := s.orders.RevokeDownloadAccess(ctx, tx, *local.OrderID); err != nil {
						return err
					}
				}
				if err := s.audit.Record(ctx, tx, createdEvent(local, gr.ID, "gateway")); err != nil {
					return err
				}
				s.metrics.RecordRefund(ctx, string(local.Reason), outcomeSucceeded)
			}
			continue
		}

		refund := s.newRefund(gr.Amount, ev.Currency, refunddomain.ReasonOther)
		refund.Status = refunddomain.RefundStatusSucceeded
		gatewayRefundID := gr.ID
		refund.GatewayRefundID = &gatewayRefundID
		refund.ProcessedAt = &now

		if order != nil {
			if _, err := s.orders.ApplyRefund(ctx, tx, order.ID, gr.Amount); err != nil {
				return capError(err)
			}
			refund.OrderID = &order.ID
			refund.PaymentID = &payment.ID
			refund.Currency = order.Currency
		} else {
			if _, err := s.subscriptions.ApplyRefund(ctx, tx, subscription.ID, gr.Amount); err != nil {
				return capError(err)
			}
			refund.SubscriptionID = &subscription.ID
			refund.Currency = subscription.Currency
		}
		if err := s.repo.Insert(ctx, tx, refund); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, createdEvent(refund, gr.ID, "gateway")); err != nil {
			return err
		}
		s.metrics.RecordRefund(ctx, string(refund.Reason), outcomeSucceeded)
		log.Info("external refund reconciled",
			zap.String("refund_id", refund.ID.String()),
			zap.String("gateway_refund_id", gr.ID),
			zap.Int64("amount", gr.Amount),
		)
	}
	return nil
}

// lockRefundTarget resolves the intent to an order payment or, failing that,
// to the subscription whose last cycle it paid.
func (s *Service) lockRefundTarget(ctx context.Context, tx *gorm.DB, intentID string) (*orderdomain.Payment, *orderdomain.Order, *subscriptiondomain.Subscription, error) {
	payment, order, err := s.orders.LockPaymentByIntent(ctx, tx, intentID)
	if err == nil {
		return payment, order, nil, nil
	}
	if !errors.Is(err, orderdomain.ErrPaymentNotFound) {
		return nil, nil, nil, err
	}
	subscription, err := s.subscriptions.LockByPaymentIntent(ctx, tx, intentID)
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		return nil, nil, nil, refunddomain.ErrUnknownPaymentIntent
	}
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, nil, subscription, nil
}

func (s *Service) taggedRefund(ctx context.Context, tx *gorm.DB, raw string) (*refunddomain.Refund, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return nil, nil
	}
	return s.repo.FindByIDForUpdate(ctx, tx, id)
}

func isFailedGatewayRefund(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "failed", "canceled", "cancelled":
		return true
	default:
		return false
	}
}

func capError(err error) error {
	if errors.Is(err, orderdomain.ErrRefundExceedsBalance) ||
		errors.Is(err, orderdomain.ErrInvalidTransition) ||
		errors.Is(err, subscriptiondomain.ErrRefundExceedsPeriod) {
		return errors.Join(refunddomain.ErrReconcileExceedsCap, err)
	}
	return err
}
