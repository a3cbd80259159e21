package repository

import (
	"context"
	"strings"

	taxdomain "github.com/smallbiznis/paycore/internal/tax/domain"
	"gorm.io/gorm"
)

type promoRepository struct {
	db *gorm.DB
}

func NewPromoRepository(db *gorm.DB) taxdomain.PromoRepository {
	return &promoRepository{db: db}
}

func (r *promoRepository) FindByCode(ctx context.Context, code string) (*taxdomain.PromoCode, error) {
	var promo taxdomain.PromoCode
	err := r.db.WithContext(ctx).Raw(
		`SELECT code, percent_off_bps, amount_off, currency, active, starts_at, expires_at, created_at
		 FROM promo_codes
		 WHERE code = ?
		 LIMIT 1`,
		strings.ToUpper(strings.TrimSpace(code)),
	).Scan(&promo).Error
	if err != nil {
		return nil, err
	}
	if promo.Code == "" {
		return nil, taxdomain.ErrPromoNotFound
	}
	return &promo, nil
}
