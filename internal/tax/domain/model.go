package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Jurisdiction is a tax region code such as CA-QC.
type Jurisdiction string

func (j Jurisdiction) Normalize() Jurisdiction {
	return Jurisdiction(strings.ToUpper(strings.TrimSpace(string(j))))
}

// TaxLine is one component of a breakdown. Amount is in minor units.
type TaxLine struct {
	Name     string          `json:"name"`
	Rate     decimal.Decimal `json:"rate"`
	Amount   int64           `json:"amount"`
	Compound bool            `json:"compound"`
}

// TaxBreakdown is the ordered list of tax lines for one calculation. It is
// never mutated after CalculateTax returns it.
type TaxBreakdown struct {
	Jurisdiction Jurisdiction `json:"jurisdiction"`
	Lines        []TaxLine    `json:"lines"`
}

func (b TaxBreakdown) Total() int64 {
	var total int64
	for _, line := range b.Lines {
		total += line.Amount
	}
	return total
}

type QuoteItem struct {
	UnitPrice int64 `json:"unitPrice" validate:"gte=0"`
	Quantity  int64 `json:"quantity" validate:"gt=0"`
}

type QuoteRequest struct {
	Items        []QuoteItem  `json:"items" validate:"required,min=1,dive"`
	Jurisdiction Jurisdiction `json:"jurisdiction" validate:"required"`
	PromoCode    string       `json:"promoCode,omitempty"`
	Currency     string       `json:"currency,omitempty"`
}

type Quote struct {
	Subtotal       int64        `json:"subtotal"`
	DiscountAmount int64        `json:"discountAmount"`
	TaxAmount      int64        `json:"taxAmount"`
	Total          int64        `json:"total"`
	Breakdown      TaxBreakdown `json:"breakdown"`
	PromoCode      string       `json:"promoCode,omitempty"`
}

// PromoCode grants either a percent-off (basis points) or a fixed amount off.
type PromoCode struct {
	Code          string     `gorm:"column:code;primaryKey"`
	PercentOffBps *int64     `gorm:"column:percent_off_bps"`
	AmountOff     *int64     `gorm:"column:amount_off"`
	Currency      *string    `gorm:"column:currency"`
	Active        bool       `gorm:"column:active"`
	StartsAt      *time.Time `gorm:"column:starts_at"`
	ExpiresAt     *time.Time `gorm:"column:expires_at"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
}

func (PromoCode) TableName() string { return "promo_codes" }

// Redeemable reports whether the code can be applied at now in currency.
func (p PromoCode) Redeemable(now time.Time, currency string) bool {
	if !p.Active {
		return false
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return false
	}
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return false
	}
	if p.AmountOff != nil && p.Currency != nil && currency != "" && !strings.EqualFold(*p.Currency, currency) {
		return false
	}
	return (p.PercentOffBps != nil) != (p.AmountOff != nil)
}

// Discount returns the discount on subtotal, capped at subtotal.
func (p PromoCode) Discount(subtotal int64) int64 {
	var discount int64
	switch {
	case p.PercentOffBps != nil:
		discount = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(*p.PercentOffBps)).
			Div(decimal.NewFromInt(10000)).
			Round(0).
			IntPart()
	case p.AmountOff != nil:
		discount = *p.AmountOff
	}
	if discount > subtotal {
		return subtotal
	}
	if discount < 0 {
		return 0
	}
	return discount
}
