// Package domain holds the order and payment models and their state machines.
package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	taxdomain "github.com/smallbiznis/paycore/internal/tax/domain"
	"gorm.io/datatypes"
)

type Order struct {
	ID             snowflake.ID   `json:"id" gorm:"column:id;primaryKey"`
	CustomerEmail  string         `json:"customer_email" gorm:"column:customer_email"`
	Currency       string         `json:"currency" gorm:"column:currency"`
	Jurisdiction   string         `json:"jurisdiction" gorm:"column:jurisdiction"`
	PromoCode      *string        `json:"promo_code,omitempty" gorm:"column:promo_code"`
	Subtotal       int64          `json:"subtotal" gorm:"column:subtotal"`
	DiscountAmount int64          `json:"discount_amount" gorm:"column:discount_amount"`
	TaxAmount      int64          `json:"tax_amount" gorm:"column:tax_amount"`
	TotalAmount    int64          `json:"total_amount" gorm:"column:total_amount"`
	RefundedAmount int64          `json:"refunded_amount" gorm:"column:refunded_amount"`
	TaxBreakdown   datatypes.JSON `json:"tax_breakdown" gorm:"column:tax_breakdown"`
	Status         OrderStatus    `json:"status" gorm:"column:status"`
	CreatedAt      time.Time      `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"column:updated_at"`
}

func (Order) TableName() string { return "orders" }

// Remaining is the amount that can still be refunded.
func (o Order) Remaining() int64 {
	return o.TotalAmount - o.RefundedAmount
}

// Lines decodes the stored breakdown.
func (o Order) Lines() ([]taxdomain.TaxLine, error) {
	var lines []taxdomain.TaxLine
	if len(o.TaxBreakdown) == 0 {
		return lines, nil
	}
	if err := json.Unmarshal(o.TaxBreakdown, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

type Payment struct {
	ID                     snowflake.ID  `json:"id" gorm:"column:id;primaryKey"`
	OrderID                snowflake.ID  `json:"order_id" gorm:"column:order_id"`
	GatewayPaymentIntentID string        `json:"gateway_payment_intent_id" gorm:"column:gateway_payment_intent_id"`
	Amount                 int64         `json:"amount" gorm:"column:amount"`
	Currency               string        `json:"currency" gorm:"column:currency"`
	Status                 PaymentStatus `json:"status" gorm:"column:status"`
	FailureKind            *string       `json:"failure_kind,omitempty" gorm:"column:failure_kind"`
	FailureCode            *string       `json:"failure_code,omitempty" gorm:"column:failure_code"`
	AttemptCount           int           `json:"attempt_count" gorm:"column:attempt_count"`
	CreatedAt              time.Time     `json:"created_at" gorm:"column:created_at"`
	UpdatedAt              time.Time     `json:"updated_at" gorm:"column:updated_at"`
}

func (Payment) TableName() string { return "payments" }

type DownloadAccess struct {
	ID            snowflake.ID `gorm:"column:id;primaryKey"`
	OrderID       snowflake.ID `gorm:"column:order_id"`
	AssetID       string       `gorm:"column:asset_id"`
	CustomerEmail string       `gorm:"column:customer_email"`
	RevokedAt     *time.Time   `gorm:"column:revoked_at"`
	CreatedAt     time.Time    `gorm:"column:created_at"`
}

func (DownloadAccess) TableName() string { return "download_access" }

type CreateOrderRequest struct {
	Items           []taxdomain.QuoteItem  `json:"items" validate:"required,min=1,dive"`
	Jurisdiction    taxdomain.Jurisdiction `json:"jurisdiction" validate:"required"`
	PromoCode       string                 `json:"promoCode,omitempty"`
	Currency        string                 `json:"currency" validate:"required,len=3,alpha"`
	CustomerEmail   string                 `json:"customerEmail" validate:"omitempty,email"`
	PaymentIntentID string                 `json:"paymentIntentId" validate:"required"`
	AssetIDs        []string               `json:"assetIds,omitempty" validate:"dive,required"`
}

type CreateOrderResponse struct {
	Order   Order   `json:"order"`
	Payment Payment `json:"payment"`
}

// RetryPayload is the payload of a payment.retry job. Attempt is the payment
// attempt the retry arms.
type RetryPayload struct {
	PaymentID string `json:"payment_id"`
	Attempt   int    `json:"attempt"`
}
