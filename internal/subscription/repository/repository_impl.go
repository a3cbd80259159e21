package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/paycore/internal/subscription/domain"
	pkgdb "github.com/smallbiznis/paycore/pkg/db"
	"gorm.io/gorm"
)

const columns = `id, plan_id, customer_email, price, currency, gateway_subscription_id,
	 gateway_payment_intent_id, status, current_period_start, current_period_end,
	 billing_cycle_days, period_refunded_amount, cancel_at_period_end, cancelled_at,
	 ended_at, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.PlanID,
		subscription.CustomerEmail,
		subscription.Price,
		subscription.Currency,
		subscription.GatewaySubscriptionID,
		subscription.GatewayPaymentIntentID,
		subscription.Status,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.BillingCycleDays,
		subscription.PeriodRefundedAmount,
		subscription.CancelAtPeriodEnd,
		subscription.CancelledAt,
		subscription.EndedAt,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `id = ?`, "", id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `id = ?`, pkgdb.ForUpdate(db), id)
}

func (r *repo) FindByGatewayIDForUpdate(ctx context.Context, db *gorm.DB, gatewayID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `gateway_subscription_id = ?`, pkgdb.ForUpdate(db), gatewayID)
}

func (r *repo) FindByPaymentIntentForUpdate(ctx context.Context, db *gorm.DB, intentID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `gateway_payment_intent_id = ?`, pkgdb.ForUpdate(db), intentID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where, lock string, arg any) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM subscriptions WHERE `+where+lock,
		arg,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

// ListDuePeriodEnd returns active subscriptions flagged to cancel whose period
// has ended. Rows are locked for the sweep.
func (r *repo) ListDuePeriodEnd(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM subscriptions
		 WHERE status = ? AND cancel_at_period_end = ? AND current_period_end <= ?
		 ORDER BY current_period_end ASC, id ASC
		 LIMIT ?`+pkgdb.ForUpdateSkipLocked(db),
		subscriptiondomain.SubscriptionStatusActive,
		true,
		now,
		limit,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, gateway_payment_intent_id = ?, current_period_start = ?, current_period_end = ?,
		 period_refunded_amount = ?, cancel_at_period_end = ?, cancelled_at = ?, ended_at = ?, updated_at = ?
		 WHERE id = ?`,
		subscription.Status,
		subscription.GatewayPaymentIntentID,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.PeriodRefundedAmount,
		subscription.CancelAtPeriodEnd,
		subscription.CancelledAt,
		subscription.EndedAt,
		subscription.UpdatedAt,
		subscription.ID,
	).Error
}
