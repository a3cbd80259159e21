package domain

import (
	"context"
	"time"
)

type Service interface {
	CalculateTax(subtotal int64, jurisdiction Jurisdiction) (TaxBreakdown, error)
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
}

type PromoRepository interface {
	FindByCode(ctx context.Context, code string) (*PromoCode, error)
}

// PromoResolver looks promo codes up, usually through a cache.
type PromoResolver interface {
	Resolve(ctx context.Context, code string, now time.Time) (*PromoCode, error)
}
