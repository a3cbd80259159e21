package service

import (
	"context"
	"errors"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/paycore/internal/audit/domain"
	"github.com/smallbiznis/paycore/internal/events"
	subscriptiondomain "github.com/smallbiznis/paycore/internal/subscription/domain"
	"github.com/smallbiznis/paycore/pkg/log/ctxlogger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SyncFromGateway applies customer.subscription.updated. Updates for a
// subscription that already ended are stale and ignored. A new period resets
// the per-period refund counter.
func (s *Service) SyncFromGateway(ctx context.Context, tx *gorm.DB, sync subscriptiondomain.GatewaySync) error {
	if !sync.Status.Valid() {
		return subscriptiondomain.ErrInvalidTransition
	}
	subscription, err := s.lockByGatewayID(ctx, tx, sync.GatewaySubscriptionID)
	if err != nil {
		return err
	}
	log := ctxlogger.WithContext(ctx, s.log).With(zap.String("subscription_id", subscription.ID.String()))
	if subscription.Ended() {
		log.Info("stale subscription update ignored", zap.String("status", string(sync.Status)))
		return nil
	}

	now := s.clock.Now().UTC()
	previous := subscription.Status
	if sync.Status != subscription.Status {
		if !subscription.Status.CanTransitionTo(sync.Status) {
			return subscriptiondomain.ErrInvalidTransition
		}
		subscription.Status = sync.Status
	}
	if !sync.CurrentPeriodStart.IsZero() && !sync.CurrentPeriodEnd.IsZero() {
		start, end := sync.CurrentPeriodStart.UTC(), sync.CurrentPeriodEnd.UTC()
		if !start.Equal(subscription.CurrentPeriodStart) {
			subscription.PeriodRefundedAmount = 0
		}
		subscription.CurrentPeriodStart = start
		subscription.CurrentPeriodEnd = end
	}
	subscription.CancelAtPeriodEnd = sync.CancelAtPeriodEnd
	if subscription.Status == subscriptiondomain.SubscriptionStatusCancelled {
		subscription.CancelAtPeriodEnd = false
		subscription.CancelledAt = timePtr(now)
		subscription.EndedAt = timePtr(now)
	}
	subscription.UpdatedAt = now

	if err := s.repo.Update(ctx, tx, subscription); err != nil {
		return err
	}
	log.Info("subscription synced from gateway",
		zap.String("from", string(previous)),
		zap.String("to", string(subscription.Status)),
	)
	if subscription.Status == subscriptiondomain.SubscriptionStatusCancelled && previous != subscription.Status {
		return s.recordEnded(ctx, tx, subscription, previous, "gateway")
	}
	return nil
}

// EndFromGateway applies customer.subscription.deleted. It is a no-op for a
// subscription that already ended.
func (s *Service) EndFromGateway(ctx context.Context, tx *gorm.DB, gatewaySubscriptionID string, endedAt time.Time) error {
	subscription, err := s.lockByGatewayID(ctx, tx, gatewaySubscriptionID)
	if err != nil {
		return err
	}
	if subscription.Ended() {
		return nil
	}
	now := s.clock.Now().UTC()
	if endedAt.IsZero() {
		endedAt = now
	}

	previous := subscription.Status
	subscription.Status = subscriptiondomain.SubscriptionStatusCancelled
	subscription.CancelAtPeriodEnd = false
	subscription.CancelledAt = timePtr(now)
	subscription.EndedAt = timePtr(endedAt.UTC())
	subscription.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, subscription); err != nil {
		return err
	}
	return s.recordEnded(ctx, tx, subscription, previous, "gateway")
}

// SweepPeriodEnd cancels subscriptions flagged cancel_at_period_end whose
// period is over. Notifications go out after the batch commits.
func (s *Service) SweepPeriodEnd(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.clock.Now().UTC()

	var ended []subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		due, err := s.repo.ListDuePeriodEnd(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		for i := range due {
			subscription := &due[i]
			endedAt := subscription.CurrentPeriodEnd
			subscription.Status = subscriptiondomain.SubscriptionStatusCancelled
			subscription.CancelAtPeriodEnd = false
			subscription.CancelledAt = timePtr(now)
			subscription.EndedAt = &endedAt
			subscription.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, subscription); err != nil {
				return err
			}
			if err := s.recordEnded(ctx, tx, subscription, subscriptiondomain.SubscriptionStatusActive, "scheduler"); err != nil {
				return err
			}
		}
		ended = due
		return nil
	})
	if err != nil {
		return 0, err
	}

	var errs error
	for _, subscription := range ended {
		errs = errors.Join(errs, s.publisher.Notify(ctx, events.Event{
			Type: events.TypeSubscriptionCancelled,
			Key:  subscription.ID.String(),
			Data: events.SubscriptionCancelled{
				SubscriptionID: subscription.ID.String(),
				CustomerEmail:  subscription.CustomerEmail,
				Mode:           string(subscriptiondomain.CancelModeAtPeriodEnd),
				EndedAt:        subscription.EndedAt,
			},
		}))
	}
	if errs != nil {
		s.log.Warn("period-end notifications failed", zap.Error(errs))
	}
	return len(ended), nil
}

func (s *Service) lockByGatewayID(ctx context.Context, tx *gorm.DB, gatewayID string) (*subscriptiondomain.Subscription, error) {
	gatewayID = strings.TrimSpace(gatewayID)
	if gatewayID == "" {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	subscription, err := s.repo.FindByGatewayIDForUpdate(ctx, tx, gatewayID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (s *Service) recordEnded(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, previous subscriptiondomain.SubscriptionStatus, source string) error {
	mode := subscriptiondomain.CancelModeImmediate
	if source == "scheduler" {
		mode = subscriptiondomain.CancelModeAtPeriodEnd
	}
	return s.audit.Record(ctx, tx, auditdomain.SubscriptionCancelledV1{
		SubscriptionID: subscription.ID.String(),
		Mode:           string(mode),
		PreviousStatus: string(previous),
		Status:         string(subscription.Status),
		EndedAt:        subscription.EndedAt,
		Source:         source,
	})
}
