package service

import (
	"context"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paycore/internal/clock"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	taxdomain "github.com/smallbiznis/paycore/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Promos  taxdomain.PromoResolver `optional:"true"`
	Metrics *obsmetrics.Metrics     `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	promos  taxdomain.PromoResolver
	metrics *obsmetrics.Metrics
}

func NewService(p Params) taxdomain.Service {
	return &Service{
		log:     p.Log.Named("tax.service"),
		clock:   p.Clock,
		promos:  p.Promos,
		metrics: p.Metrics,
	}
}

// CalculateTax applies the jurisdiction's components in order. Compound
// components are levied on the subtotal plus every earlier line.
func (s *Service) CalculateTax(subtotal int64, jurisdiction taxdomain.Jurisdiction) (taxdomain.TaxBreakdown, error) {
	return Calculate(subtotal, jurisdiction)
}

// Calculate is CalculateTax without a receiver, for callers that only need the table.
func Calculate(subtotal int64, jurisdiction taxdomain.Jurisdiction) (taxdomain.TaxBreakdown, error) {
	j := jurisdiction.Normalize()
	components, ok := taxdomain.Rates(j)
	if !ok {
		return taxdomain.TaxBreakdown{}, taxdomain.ErrUnknownJurisdiction
	}
	if subtotal < 0 {
		return taxdomain.TaxBreakdown{}, taxdomain.ErrInvalidSubtotal
	}

	breakdown := taxdomain.TaxBreakdown{Jurisdiction: j, Lines: []taxdomain.TaxLine{}}
	if subtotal == 0 {
		return breakdown, nil
	}

	base := decimal.NewFromInt(subtotal)
	var levied int64
	for _, c := range components {
		lineBase := base
		if c.Compound {
			lineBase = base.Add(decimal.NewFromInt(levied))
		}
		amount := lineBase.Mul(c.Rate).Round(0).IntPart()
		breakdown.Lines = append(breakdown.Lines, taxdomain.TaxLine{
			Name:     c.Name,
			Rate:     c.Rate,
			Amount:   amount,
			Compound: c.Compound,
		})
		levied += amount
	}
	return breakdown, nil
}

func (s *Service) Quote(ctx context.Context, req taxdomain.QuoteRequest) (*taxdomain.Quote, error) {
	subtotal, err := subtotalOf(req.Items)
	if err != nil {
		return nil, err
	}

	var discount int64
	promoCode := strings.ToUpper(strings.TrimSpace(req.PromoCode))
	if promoCode != "" {
		if s.promos == nil {
			return nil, taxdomain.ErrInvalidPromoCode
		}
		now := s.clock.Now()
		promo, err := s.promos.Resolve(ctx, promoCode, now)
		if err != nil {
			return nil, err
		}
		if !promo.Redeemable(now, req.Currency) {
			return nil, taxdomain.ErrInvalidPromoCode
		}
		discount = promo.Discount(subtotal)
	}

	taxable := subtotal - discount
	breakdown, err := s.CalculateTax(taxable, req.Jurisdiction)
	if err != nil {
		return nil, err
	}
	tax := breakdown.Total()

	s.metrics.RecordTaxQuote(ctx, string(breakdown.Jurisdiction))
	s.log.Debug("tax quoted",
		zap.String("jurisdiction", string(breakdown.Jurisdiction)),
		zap.Int64("subtotal", subtotal),
		zap.Int64("discount", discount),
		zap.Int64("tax", tax),
	)

	return &taxdomain.Quote{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		Total:          taxable + tax,
		Breakdown:      breakdown,
		PromoCode:      promoCode,
	}, nil
}

func subtotalOf(items []taxdomain.QuoteItem) (int64, error) {
	if len(items) == 0 {
		return 0, taxdomain.ErrEmptyCart
	}
	var subtotal int64
	for _, item := range items {
		if item.Quantity <= 0 {
			return 0, taxdomain.ErrInvalidQuantity
		}
		if item.UnitPrice < 0 {
			return 0, taxdomain.ErrInvalidSubtotal
		}
		if item.UnitPrice != 0 && item.Quantity > math.MaxInt64/item.UnitPrice {
			return 0, taxdomain.ErrAmountOverflow
		}
		line := item.UnitPrice * item.Quantity
		if subtotal > math.MaxInt64-line {
			return 0, taxdomain.ErrAmountOverflow
		}
		subtotal += line
	}
	return subtotal, nil
}
