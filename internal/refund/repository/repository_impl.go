package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	refunddomain "github.com/smallbiznis/paycore/internal/refund/domain"
	pkgdb "github.com/smallbiznis/paycore/pkg/db"
	"gorm.io/gorm"
)

const columns = `id, order_id, payment_id, subscription_id, gateway_refund_id, amount, currency,
	status, reason, revoke_access, notify_customer, failure_kind, failure_message,
	processed_at, created_at, updated_at`

type repo struct{}

func Provide() refunddomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, refund *refunddomain.Refund) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO refunds (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		refund.ID,
		refund.OrderID,
		refund.PaymentID,
		refund.SubscriptionID,
		refund.GatewayRefundID,
		refund.Amount,
		refund.Currency,
		refund.Status,
		refund.Reason,
		refund.RevokeAccess,
		refund.NotifyCustomer,
		refund.FailureKind,
		refund.FailureMessage,
		refund.ProcessedAt,
		refund.CreatedAt,
		refund.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*refunddomain.Refund, error) {
	return r.findOne(ctx, db, `id = ?`, "", id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*refunddomain.Refund, error) {
	return r.findOne(ctx, db, `id = ?`, pkgdb.ForUpdate(db), id)
}

func (r *repo) FindByGatewayRefundID(ctx context.Context, db *gorm.DB, gatewayRefundID string) (*refunddomain.Refund, error) {
	return r.findOne(ctx, db, `gateway_refund_id = ?`, "", gatewayRefundID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where, lock string, arg any) (*refunddomain.Refund, error) {
	var refund refunddomain.Refund
	err := db.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM refunds WHERE `+where+lock,
		arg,
	).Scan(&refund).Error
	if err != nil {
		return nil, err
	}
	if refund.ID == 0 {
		return nil, nil
	}
	return &refund, nil
}

// MarkSucceeded settles a pending refund. It reports false when the refund
// was no longer pending.
func (r *repo) MarkSucceeded(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayRefundID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE refunds
		SET status = ?, gateway_refund_id = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		refunddomain.RefundStatusSucceeded,
		gatewayRefundID,
		at,
		at,
		id,
		refunddomain.RefundStatusPending,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, kind, message string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE refunds
		SET status = ?, failure_kind = ?, failure_message = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		refunddomain.RefundStatusFailed,
		kind,
		message,
		at,
		at,
		id,
		refunddomain.RefundStatusPending,
	)
	return res.RowsAffected > 0, res.Error
}
