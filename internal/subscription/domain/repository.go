package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByGatewayIDForUpdate(ctx context.Context, db *gorm.DB, gatewayID string) (*Subscription, error)
	FindByPaymentIntentForUpdate(ctx context.Context, db *gorm.DB, intentID string) (*Subscription, error)
	ListDuePeriodEnd(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
}
