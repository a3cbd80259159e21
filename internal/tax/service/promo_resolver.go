package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/paycore/internal/cache"
	taxdomain "github.com/smallbiznis/paycore/internal/tax/domain"
	"go.uber.org/fx"
)

const promoCacheTTL = 5 * time.Minute

type PromoResolverParams struct {
	fx.In

	Repo taxdomain.PromoRepository
}

type promoResolver struct {
	repo  taxdomain.PromoRepository
	cache cache.Cache[string, taxdomain.PromoCode]
}

func NewPromoResolver(p PromoResolverParams) taxdomain.PromoResolver {
	return &promoResolver{
		repo:  p.Repo,
		cache: cache.NewTTLCache[string, taxdomain.PromoCode](cache.WithMaxSize(2048)),
	}
}

// Resolve returns the promo for code. Redeemability is checked by the caller
// against now so that cached entries still honor expiry.
func (r *promoResolver) Resolve(ctx context.Context, code string, now time.Time) (*taxdomain.PromoCode, error) {
	key := strings.ToUpper(strings.TrimSpace(code))
	if key == "" {
		return nil, taxdomain.ErrInvalidPromoCode
	}
	if promo, ok := r.cache.Get(key); ok {
		return &promo, nil
	}

	promo, err := r.repo.FindByCode(ctx, key)
	if err != nil {
		if errors.Is(err, taxdomain.ErrPromoNotFound) {
			return nil, taxdomain.ErrInvalidPromoCode
		}
		return nil, err
	}
	r.cache.Set(key, *promo, promoCacheTTL)
	return promo, nil
}
