package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	"gorm.io/gorm"
)

// Service drives the order and payment state machines. Methods that take a
// tx run inside the caller's transaction and never open their own.
type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error)
	GetOrder(ctx context.Context, id snowflake.ID) (*Order, error)
	GetPayment(ctx context.Context, id snowflake.ID) (*Payment, error)
	SucceededPayment(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (*Payment, error)
	LockOrder(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (*Order, error)
	LockPaymentByIntent(ctx context.Context, tx *gorm.DB, intentID string) (*Payment, *Order, error)

	ApplyPaymentSucceeded(ctx context.Context, tx *gorm.DB, intentID string, amount int64) error
	ApplyPaymentFailed(ctx context.Context, tx *gorm.DB, intentID string, failure *paymenterror.PaymentError) error
	ApplyRequiresAction(ctx context.Context, tx *gorm.DB, intentID string) error
	RearmPayment(ctx context.Context, paymentID snowflake.ID, attempt int) (*Payment, bool, error)

	ApplyRefund(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, amount int64) (*Order, error)
	ReleaseRefund(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, amount int64) (*Order, error)
	RevokeDownloadAccess(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (int64, error)
}

type Repository interface {
	InsertOrder(ctx context.Context, db *gorm.DB, order *Order) error
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	InsertDownloadAccess(ctx context.Context, db *gorm.DB, access *DownloadAccess) error
	FindOrderByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindOrderByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindPaymentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindPaymentByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindPaymentByIntentForUpdate(ctx context.Context, db *gorm.DB, intentID string) (*Payment, error)
	FindSucceededPayment(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Payment, error)
	UpdateOrderState(ctx context.Context, db *gorm.DB, order *Order) error
	UpdatePaymentState(ctx context.Context, db *gorm.DB, payment *Payment) error
	RevokeDownloadAccess(ctx context.Context, db *gorm.DB, orderID snowflake.ID, at time.Time) (int64, error)
}
