package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paycore/internal/audit/domain"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/events"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/paycore/internal/order/domain"
	"github.com/smallbiznis/paycore/internal/payment/gateway"
	refunddomain "github.com/smallbiznis/paycore/internal/refund/domain"
	"github.com/smallbiznis/paycore/internal/retry"
	subscriptiondomain "github.com/smallbiznis/paycore/internal/subscription/domain"
	"github.com/smallbiznis/paycore/pkg/log/ctxlogger"
	"github.com/smallbiznis/paycore/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          refunddomain.Repository
	Orders        orderdomain.Service
	Subscriptions subscriptiondomain.Service
	Gateway       gateway.Gateway
	Queue         *retry.Queue
	Scheduler     *retry.Scheduler
	Audit         auditdomain.Service
	Publisher     events.Publisher
	Policy        *config.PolicyConfigHolder `optional:"true"`
	Metrics       *obsmetrics.Metrics        `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          refunddomain.Repository
	orders        orderdomain.Service
	subscriptions subscriptiondomain.Service
	gateway       gateway.Gateway
	queue         *retry.Queue
	scheduler     *retry.Scheduler
	audit         auditdomain.Service
	publisher     events.Publisher
	policy        *config.PolicyConfigHolder
	metrics       *obsmetrics.Metrics
	validate      *validation.Validator
}

func NewService(p Params) refunddomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("refund.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		orders:        p.Orders,
		subscriptions: p.Subscriptions,
		gateway:       p.Gateway,
		queue:         p.Queue,
		scheduler:     p.Scheduler,
		audit:         p.Audit,
		publisher:     p.Publisher,
		policy:        p.Policy,
		metrics:       p.Metrics,
		validate:      validation.New(),
	}
}

// orderTarget is an order refund resolved before the reservation opens.
type orderTarget struct {
	orderID snowflake.ID
	payment *orderdomain.Payment
}

func (s *Service) Refund(ctx context.Context, req refunddomain.RefundRequest) (*refunddomain.RefundResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if countTargets(req) != 1 {
		return nil, refunddomain.ErrInvalidTarget
	}

	var target *orderTarget
	if req.SubscriptionID == 0 {
		resolved, err := s.resolveOrderTarget(ctx, req)
		if err != nil {
			return nil, err
		}
		target = resolved
	}

	var refund *refunddomain.Refund
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if target != nil {
			refund, err = s.reserveOrder(ctx, tx, target, req)
		} else {
			refund, err = s.reserveSubscription(ctx, tx, req.SubscriptionID, req.Amount, req.Reason, req.NotifyCustomer)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	settled, err := s.settle(ctx, refund, "api")
	if err != nil {
		return nil, err
	}
	return s.response(ctx, settled)
}

func countTargets(req refunddomain.RefundRequest) int {
	n := 0
	for _, id := range []snowflake.ID{req.OrderID, req.PaymentID, req.SubscriptionID} {
		if id != 0 {
			n++
		}
	}
	return n
}

// resolveOrderTarget finds the succeeded payment a refund goes against.
func (s *Service) resolveOrderTarget(ctx context.Context, req refunddomain.RefundRequest) (*orderTarget, error) {
	if req.PaymentID != 0 {
		payment, err := s.orders.GetPayment(ctx, req.PaymentID)
		if err != nil {
			return nil, err
		}
		if payment.Status != orderdomain.PaymentStatusSucceeded {
			return nil, orderdomain.ErrNoSucceededPayment
		}
		return &orderTarget{orderID: payment.OrderID, payment: payment}, nil
	}

	if _, err := s.orders.GetOrder(ctx, req.OrderID); err != nil {
		return nil, err
	}
	payment, err := s.orders.SucceededPayment(ctx, nil, req.OrderID)
	if err != nil {
		return nil, err
	}
	return &orderTarget{orderID: req.OrderID, payment: payment}, nil
}

// reserveOrder takes the refund amount out of the order's balance and inserts
// the pending refund. The order row lock serialises concurrent refunds.
func (s *Service) reserveOrder(ctx context.Context, tx *gorm.DB, target *orderTarget, req refunddomain.RefundRequest) (*refunddomain.Refund, error) {
	order, err := s.orders.LockOrder(ctx, tx, target.orderID)
	if err != nil {
		return nil, err
	}
	amount := order.Remaining()
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 {
		return nil, refunddomain.ErrNothingToRefund
	}
	if _, err := s.orders.ApplyRefund(ctx, tx, order.ID, amount); err != nil {
		return nil, err
	}

	refund := s.newRefund(amount, order.Currency, req.Reason)
	refund.OrderID = &order.ID
	refund.PaymentID = &target.payment.ID
	refund.RevokeAccess = req.RevokeAccess
	refund.NotifyCustomer = req.NotifyCustomer
	if err := s.repo.Insert(ctx, tx, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// reserveSubscription caps the refund at what is left of the current period's
// price. A nil amount refunds the prorated remainder of the period.
func (s *Service) reserveSubscription(ctx context.Context, tx *gorm.DB, id snowflake.ID, requested *int64, reason refunddomain.Reason, notify bool) (*refunddomain.Refund, error) {
	subscription, err := s.subscriptions.Lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if subscription.GatewayPaymentIntentID == nil {
		return nil, refunddomain.ErrNoPaymentIntent
	}

	var amount int64
	if requested != nil {
		amount = *requested
	} else {
		amount = s.prorated(subscription)
	}
	if amount <= 0 {
		return nil, refunddomain.ErrNothingToRefund
	}
	if _, err := s.subscriptions.ApplyRefund(ctx, tx, subscription.ID, amount); err != nil {
		return nil, err
	}

	refund := s.newRefund(amount, subscription.Currency, reason)
	refund.SubscriptionID = &subscription.ID
	refund.NotifyCustomer = notify
	if err := s.repo.Insert(ctx, tx, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

func (s *Service) prorated(subscription *subscriptiondomain.Subscription) int64 {
	amount := Prorate(
		subscription.Price,
		s.clock.Now(),
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.BillingCycleDays,
	)
	if remaining := subscription.PeriodRemaining(); amount > remaining {
		amount = remaining
	}
	return amount
}

func (s *Service) newRefund(amount int64, currency string, reason refunddomain.Reason) *refunddomain.Refund {
	now := s.clock.Now().UTC()
	return &refunddomain.Refund{
		ID:        s.genID.Generate(),
		Amount:    amount,
		Currency:  currency,
		Status:    refunddomain.RefundStatusPending,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Service) CancelSubscription(ctx context.Context, req refunddomain.CancelRequest) (*refunddomain.CancelResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if req.SubscriptionID == 0 {
		return nil, refunddomain.ErrInvalidTarget
	}

	var (
		result *subscriptiondomain.CancelResult
		refund *refunddomain.Refund
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.subscriptions.Lock(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		var amount int64
		if req.Mode == subscriptiondomain.CancelModeImmediate && req.Prorate && !subscription.Ended() {
			amount = s.prorated(subscription)
		}

		result, err = s.subscriptions.Cancel(ctx, tx, subscription.ID, req.Mode)
		if err != nil {
			return err
		}

		if amount > 0 {
			if subscription.GatewayPaymentIntentID == nil {
				s.log.Warn("prorated refund skipped, no paid cycle",
					zap.String("subscription_id", subscription.ID.String()),
				)
			} else {
				refund, err = s.reserveSubscription(ctx, tx, subscription.ID, &amount, refunddomain.ReasonSubscriptionCancellation, false)
				if err != nil {
					return err
				}
			}
		}

		event := auditdomain.SubscriptionCancelledV1{
			SubscriptionID: subscription.ID.String(),
			Mode:           string(req.Mode),
			Reason:         req.Reason,
			PreviousStatus: string(result.PreviousStatus),
			Status:         string(result.Subscription.Status),
			EndedAt:        result.Subscription.EndedAt,
			Source:         "api",
		}
		if refund != nil {
			event.RefundID = refund.ID.String()
			event.RefundAmount = refund.Amount
		}
		return s.audit.Record(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	resp := &refunddomain.CancelResponse{
		Subscription: refunddomain.SubscriptionSummary{
			Status:  string(result.Subscription.Status),
			EndedAt: result.Subscription.EndedAt,
		},
	}
	if refund != nil {
		settled, err := s.settle(ctx, refund, "api")
		if err != nil {
			return nil, err
		}
		resp.Refund = summary(settled)
	}

	if req.Mode == subscriptiondomain.CancelModeImmediate {
		data := events.SubscriptionCancelled{
			SubscriptionID: result.Subscription.ID.String(),
			CustomerEmail:  result.Subscription.CustomerEmail,
			Mode:           string(req.Mode),
			EndedAt:        result.Subscription.EndedAt,
		}
		if resp.Refund != nil && resp.Refund.Status == refunddomain.RefundStatusSucceeded {
			data.RefundAmount = resp.Refund.Amount
		}
		s.notify(ctx, events.Event{
			Type: events.TypeSubscriptionCancelled,
			Key:  data.SubscriptionID,
			Data: data,
		})
	}
	return resp, nil
}

// CheckRefundEligibility reports every rule an order currently fails.
func (s *Service) CheckRefundEligibility(ctx context.Context, orderID snowflake.ID) (*refunddomain.Eligibility, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	reasons := []string{}
	window := s.policy.Get().RefundWindowDays
	if window > 0 && s.clock.Now().Sub(order.CreatedAt) > time.Duration(window)*day {
		reasons = append(reasons, refunddomain.ReasonRefundWindowExpired)
	}
	if !order.Status.Refundable() {
		reasons = append(reasons, refunddomain.ReasonOrderNotRefundable)
	}
	if _, err := s.orders.SucceededPayment(ctx, nil, orderID); err != nil {
		if !errors.Is(err, orderdomain.ErrNoSucceededPayment) {
			return nil, err
		}
		reasons = append(reasons, refunddomain.ReasonNoSucceededPayment)
	}
	if order.Remaining() <= 0 {
		reasons = append(reasons, refunddomain.ReasonNothingToRefund)
	}

	eligibility := &refunddomain.Eligibility{
		Eligible: len(reasons) == 0,
		Reasons:  reasons,
	}
	if eligibility.Eligible {
		eligibility.RefundableAmount = order.Remaining()
	}
	return eligibility, nil
}

func (s *Service) GetRefund(ctx context.Context, id snowflake.ID) (*refunddomain.Refund, error) {
	refund, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if refund == nil {
		return nil, refunddomain.ErrRefundNotFound
	}
	return refund, nil
}

func (s *Service) response(ctx context.Context, refund *refunddomain.Refund) (*refunddomain.RefundResponse, error) {
	resp := &refunddomain.RefundResponse{Refund: *summary(refund)}
	if refund.OrderID != nil {
		order, err := s.orders.GetOrder(ctx, *refund.OrderID)
		if err != nil {
			return nil, err
		}
		resp.Order = &refunddomain.OrderSummary{
			Status:        string(order.Status),
			TotalRefunded: order.RefundedAmount,
		}
	}
	if refund.SubscriptionID != nil {
		subscription, err := s.subscriptions.GetByID(ctx, *refund.SubscriptionID)
		if err != nil {
			return nil, err
		}
		resp.Subscription = &refunddomain.SubscriptionSummary{
			Status:  string(subscription.Status),
			EndedAt: subscription.EndedAt,
		}
	}
	return resp, nil
}

func summary(refund *refunddomain.Refund) *refunddomain.RefundSummary {
	return &refunddomain.RefundSummary{
		ID:     refund.ID.String(),
		Amount: refund.Amount,
		Status: refund.Status,
	}
}

// notify publishes a customer notification. Failures are logged; the
// operation that triggered it has already committed.
func (s *Service) notify(ctx context.Context, ev events.Event) {
	if err := s.publisher.Notify(ctx, ev); err != nil {
		ctxlogger.WithContext(ctx, s.log).Warn("customer notification failed",
			zap.String("type", ev.Type),
			zap.String("key", ev.Key),
			zap.Error(err),
		)
	}
}
