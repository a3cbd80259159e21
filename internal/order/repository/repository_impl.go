package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/paycore/internal/order/domain"
	pkgdb "github.com/smallbiznis/paycore/pkg/db"
	"gorm.io/gorm"
)

const orderColumns = `id, customer_email, currency, jurisdiction, promo_code, subtotal, discount_amount,
	 tax_amount, total_amount, refunded_amount, tax_breakdown, status, created_at, updated_at`

const paymentColumns = `id, order_id, gateway_payment_intent_id, amount, currency, status,
	 failure_kind, failure_code, attempt_count, created_at, updated_at`

type repo struct{}

func Provide() orderdomain.Repository {
	return &repo{}
}

func (r *repo) InsertOrder(ctx context.Context, db *gorm.DB, order *orderdomain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.CustomerEmail,
		order.Currency,
		order.Jurisdiction,
		order.PromoCode,
		order.Subtotal,
		order.DiscountAmount,
		order.TaxAmount,
		order.TotalAmount,
		order.RefundedAmount,
		order.TaxBreakdown,
		order.Status,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *orderdomain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.OrderID,
		payment.GatewayPaymentIntentID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.FailureKind,
		payment.FailureCode,
		payment.AttemptCount,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) InsertDownloadAccess(ctx context.Context, db *gorm.DB, access *orderdomain.DownloadAccess) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO download_access (id, order_id, asset_id, customer_email, revoked_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		access.ID,
		access.OrderID,
		access.AssetID,
		access.CustomerEmail,
		access.RevokedAt,
		access.CreatedAt,
	).Error
}

func (r *repo) FindOrderByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	return r.findOrder(ctx, db, id, "")
}

func (r *repo) FindOrderByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	return r.findOrder(ctx, db, id, pkgdb.ForUpdate(db))
}

func (r *repo) findOrder(ctx context.Context, db *gorm.DB, id snowflake.ID, lock string) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`+lock,
		id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) FindPaymentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Payment, error) {
	return r.findPayment(ctx, db, `id = ?`, "", id)
}

func (r *repo) FindPaymentByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Payment, error) {
	return r.findPayment(ctx, db, `id = ?`, pkgdb.ForUpdate(db), id)
}

func (r *repo) FindPaymentByIntentForUpdate(ctx context.Context, db *gorm.DB, intentID string) (*orderdomain.Payment, error) {
	return r.findPayment(ctx, db, `gateway_payment_intent_id = ?`, pkgdb.ForUpdate(db), intentID)
}

func (r *repo) FindSucceededPayment(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*orderdomain.Payment, error) {
	return r.findPayment(ctx, db, `order_id = ? AND status = 'succeeded'`, "", orderID)
}

func (r *repo) findPayment(ctx context.Context, db *gorm.DB, where, lock string, arg any) (*orderdomain.Payment, error) {
	var payment orderdomain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE `+where+` LIMIT 1`+lock,
		arg,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) UpdateOrderState(ctx context.Context, db *gorm.DB, order *orderdomain.Order) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, refunded_amount = ?, updated_at = ? WHERE id = ?`,
		order.Status,
		order.RefundedAmount,
		order.UpdatedAt,
		order.ID,
	).Error
}

func (r *repo) UpdatePaymentState(ctx context.Context, db *gorm.DB, payment *orderdomain.Payment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, failure_kind = ?, failure_code = ?, attempt_count = ?, updated_at = ?
		 WHERE id = ?`,
		payment.Status,
		payment.FailureKind,
		payment.FailureCode,
		payment.AttemptCount,
		payment.UpdatedAt,
		payment.ID,
	).Error
}

func (r *repo) RevokeDownloadAccess(ctx context.Context, db *gorm.DB, orderID snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE download_access SET revoked_at = ? WHERE order_id = ? AND revoked_at IS NULL`,
		at,
		orderID,
	)
	return result.RowsAffected, result.Error
}
