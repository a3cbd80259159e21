package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paycore/internal/audit/domain"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/events"
	subscriptiondomain "github.com/smallbiznis/paycore/internal/subscription/domain"
	pkgdb "github.com/smallbiznis/paycore/pkg/db"
	"github.com/smallbiznis/paycore/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      subscriptiondomain.Repository
	Audit     auditdomain.Service
	Publisher events.Publisher
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      subscriptiondomain.Repository
	audit     auditdomain.Service
	publisher events.Publisher
	validate  *validation.Validator
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("subscription.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		audit:     p.Audit,
		publisher: p.Publisher,
		validate:  validation.New(),
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	subscription := subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		PlanID:             strings.TrimSpace(req.PlanID),
		CustomerEmail:      strings.TrimSpace(req.CustomerEmail),
		Price:              req.Price,
		Currency:           req.Currency,
		Status:             subscriptiondomain.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 0, req.BillingCycleDays),
		BillingCycleDays:   req.BillingCycleDays,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	subscription.GatewaySubscriptionID = optional(req.GatewaySubscriptionID)
	subscription.GatewayPaymentIntentID = optional(req.GatewayPaymentIntentID)

	if err := s.repo.Insert(ctx, s.db, &subscription); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, subscriptiondomain.ErrDuplicateGatewayID
		}
		return nil, err
	}
	return &subscription, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (s *Service) Lock(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (s *Service) LockByPaymentIntent(ctx context.Context, tx *gorm.DB, intentID string) (*subscriptiondomain.Subscription, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	subscription, err := s.repo.FindByPaymentIntentForUpdate(ctx, tx, intentID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (s *Service) Cancel(ctx context.Context, tx *gorm.DB, id snowflake.ID, mode subscriptiondomain.CancelMode) (*subscriptiondomain.CancelResult, error) {
	if !mode.Valid() {
		return nil, subscriptiondomain.ErrInvalidCancelMode
	}
	subscription, err := s.Lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if subscription.Ended() {
		return nil, subscriptiondomain.ErrSubscriptionAlreadyCancelled
	}

	previous := subscription.Status
	now := s.clock.Now().UTC()
	switch mode {
	case subscriptiondomain.CancelModeAtPeriodEnd:
		if subscription.Status != subscriptiondomain.SubscriptionStatusActive {
			return nil, subscriptiondomain.ErrSubscriptionNotActive
		}
		subscription.CancelAtPeriodEnd = true
	case subscriptiondomain.CancelModeImmediate:
		if !subscription.Status.CanTransitionTo(subscriptiondomain.SubscriptionStatusCancelled) {
			return nil, subscriptiondomain.ErrInvalidTransition
		}
		subscription.Status = subscriptiondomain.SubscriptionStatusCancelled
		subscription.CancelledAt = &now
		subscription.EndedAt = &now
	}
	subscription.UpdatedAt = now

	if err := s.repo.Update(ctx, tx, subscription); err != nil {
		return nil, err
	}
	return &subscriptiondomain.CancelResult{Subscription: *subscription, PreviousStatus: previous}, nil
}

// ApplyRefund reserves amount against the current period's price.
func (s *Service) ApplyRefund(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount int64) (*subscriptiondomain.Subscription, error) {
	if amount <= 0 {
		return nil, subscriptiondomain.ErrInvalidRefundAmount
	}
	subscription, err := s.Lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if amount > subscription.PeriodRemaining() {
		return nil, subscriptiondomain.ErrRefundExceedsPeriod
	}
	subscription.PeriodRefundedAmount += amount
	subscription.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.Update(ctx, tx, subscription); err != nil {
		return nil, err
	}
	return subscription, nil
}

func (s *Service) ReleaseRefund(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount int64) (*subscriptiondomain.Subscription, error) {
	if amount <= 0 {
		return nil, subscriptiondomain.ErrInvalidRefundAmount
	}
	subscription, err := s.Lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if amount > subscription.PeriodRefundedAmount {
		return nil, subscriptiondomain.ErrInvalidRefundAmount
	}
	subscription.PeriodRefundedAmount -= amount
	subscription.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.Update(ctx, tx, subscription); err != nil {
		return nil, err
	}
	return subscription, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func timePtr(t time.Time) *time.Time {
	return &t
}
