package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	taxdomain "github.com/smallbiznis/paycore/internal/tax/domain"
	"github.com/smallbiznis/paycore/internal/tax/repository"
	"github.com/smallbiznis/paycore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	promos := NewPromoResolver(PromoResolverParams{Repo: repository.NewPromoRepository(db)})
	svc := NewService(Params{
		Log:    zap.NewNop(),
		Clock:  clock.NewFakeClock(testNow),
		Promos: promos,
	}).(*Service)
	return svc, db
}

func TestCalculateTaxTable(t *testing.T) {
	cases := []struct {
		jurisdiction taxdomain.Jurisdiction
		subtotal     int64
		wantLines    []int64
		wantTotal    int64
	}{
		{"CA-AB", 10000, []int64{500}, 500},
		{"ca-yt", 10000, []int64{500}, 500},
		{"CA-ON", 2999, []int64{390}, 390},
		{"CA-NS", 10000, []int64{1500}, 1500},
		{"CA-BC", 10000, []int64{500, 700}, 1200},
		{"CA-MB", 10000, []int64{500, 700}, 1200},
		{"CA-SK", 10000, []int64{500, 600}, 1100},
		{"CA-QC", 10000, []int64{500, 1047}, 1547},
		{"US-NONE", 10000, nil, 0},
		{"INTL", 10000, nil, 0},
	}

	for _, tc := range cases {
		t.Run(string(tc.jurisdiction), func(t *testing.T) {
			breakdown, err := Calculate(tc.subtotal, tc.jurisdiction)
			require.NoError(t, err)
			require.Len(t, breakdown.Lines, len(tc.wantLines))
			for i, want := range tc.wantLines {
				assert.Equal(t, want, breakdown.Lines[i].Amount, "line %d", i)
			}
			assert.Equal(t, tc.wantTotal, breakdown.Total())
		})
	}
}

func TestCalculateTaxQuebecCompounds(t *testing.T) {
	breakdown, err := Calculate(10000, "CA-QC")
	require.NoError(t, err)

	require.Len(t, breakdown.Lines, 2)
	assert.Equal(t, "GST", breakdown.Lines[0].Name)
	assert.False(t, breakdown.Lines[0].Compound)
	assert.Equal(t, "QST", breakdown.Lines[1].Name)
	assert.True(t, breakdown.Lines[1].Compound)
	assert.True(t, decimal.RequireFromString("0.09975").Equal(breakdown.Lines[1].Rate))
	// 10500 * 0.09975 = 1047.375
	assert.Equal(t, int64(1047), breakdown.Lines[1].Amount)
	assert.Equal(t, int64(11547), 10000+breakdown.Total())
}

func TestCalculateTaxRoundsHalfAwayFromZero(t *testing.T) {
	// 10 * 0.05 = 0.5 -> 1
	breakdown, err := Calculate(10, "CA-AB")
	require.NoError(t, err)
	assert.Equal(t, int64(1), breakdown.Total())

	// 30 * 0.05 = 1.5 -> 2
	breakdown, err = Calculate(30, "CA-AB")
	require.NoError(t, err)
	assert.Equal(t, int64(2), breakdown.Total())
}

func TestCalculateTaxEdgeCases(t *testing.T) {
	breakdown, err := Calculate(0, "CA-QC")
	require.NoError(t, err)
	assert.Empty(t, breakdown.Lines)

	_, err = Calculate(-1, "CA-ON")
	assert.ErrorIs(t, err, taxdomain.ErrInvalidSubtotal)

	_, err = Calculate(100, "XX-ZZ")
	assert.ErrorIs(t, err, taxdomain.ErrUnknownJurisdiction)
	assert.Equal(t, paymenterror.KindTaxCalculationFailed, paymenterror.KindOf(err))
}

func TestQuoteWithoutPromo(t *testing.T) {
	svc, _ := newTestService(t)

	quote, err := svc.Quote(context.Background(), taxdomain.QuoteRequest{
		Items:        []taxdomain.QuoteItem{{UnitPrice: 2500, Quantity: 2}, {UnitPrice: 5000, Quantity: 1}},
		Jurisdiction: "CA-QC",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), quote.Subtotal)
	assert.Equal(t, int64(0), quote.DiscountAmount)
	assert.Equal(t, int64(1547), quote.TaxAmount)
	assert.Equal(t, int64(11547), quote.Total)
	assert.Equal(t, quote.Subtotal-quote.DiscountAmount+quote.TaxAmount, quote.Total)
}

func TestQuoteWithPercentPromo(t *testing.T) {
	svc, db := newTestService(t)
	require.NoError(t, db.Exec(
		`INSERT INTO promo_codes (code, percent_off_bps, active, created_at) VALUES (?, ?, ?, ?)`,
		"SPRING10", 1000, true, testNow,
	).Error)

	quote, err := svc.Quote(context.Background(), taxdomain.QuoteRequest{
		Items:        []taxdomain.QuoteItem{{UnitPrice: 10000, Quantity: 1}},
		Jurisdiction: "CA-ON",
		PromoCode:    "spring10",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), quote.Subtotal)
	assert.Equal(t, int64(1000), quote.DiscountAmount)
	assert.Equal(t, int64(1170), quote.TaxAmount)
	assert.Equal(t, int64(10170), quote.Total)
	assert.Equal(t, "SPRING10", quote.PromoCode)
}

func TestQuoteAmountPromoCappedAtSubtotal(t *testing.T) {
	svc, db := newTestService(t)
	require.NoError(t, db.Exec(
		`INSERT INTO promo_codes (code, amount_off, currency, active, created_at) VALUES (?, ?, ?, ?, ?)`,
		"BIGOFF", 50000, "CAD", true, testNow,
	).Error)

	quote, err := svc.Quote(context.Background(), taxdomain.QuoteRequest{
		Items:        []taxdomain.QuoteItem{{UnitPrice: 1200, Quantity: 1}},
		Jurisdiction: "CA-ON",
		PromoCode:    "BIGOFF",
		Currency:     "cad",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1200), quote.DiscountAmount)
	assert.Equal(t, int64(0), quote.TaxAmount)
	assert.Equal(t, int64(0), quote.Total)
}

func TestQuoteRejectsInvalidPromo(t *testing.T) {
	svc, db := newTestService(t)
	expired := testNow.Add(-time.Hour)
	require.NoError(t, db.Exec(
		`INSERT INTO promo_codes (code, percent_off_bps, active, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		"OLD", 500, true, expired, testNow.Add(-48*time.Hour),
	).Error)

	req := taxdomain.QuoteRequest{
		Items:        []taxdomain.QuoteItem{{UnitPrice: 1000, Quantity: 1}},
		Jurisdiction: "CA-ON",
	}

	for _, code := range []string{"OLD", "MISSING"} {
		req.PromoCode = code
		_, err := svc.Quote(context.Background(), req)
		require.ErrorIs(t, err, taxdomain.ErrInvalidPromoCode, code)
		pe := paymenterror.Classify(err)
		assert.Equal(t, paymenterror.KindPromoCodeInvalid, pe.Kind)
		assert.Equal(t, paymenterror.ActionRemovePromoCode, pe.Action)
	}
}

func TestQuoteValidatesItems(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Quote(ctx, taxdomain.QuoteRequest{Jurisdiction: "CA-ON"})
	assert.ErrorIs(t, err, taxdomain.ErrEmptyCart)

	_, err = svc.Quote(ctx, taxdomain.QuoteRequest{
		Items:        []taxdomain.QuoteItem{{UnitPrice: 100, Quantity: 0}},
		Jurisdiction: "CA-ON",
	})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidQuantity)

	_, err = svc.Quote(ctx, taxdomain.QuoteRequest{
		Items:        []taxdomain.QuoteItem{{UnitPrice: 1 << 62, Quantity: 4}},
		Jurisdiction: "CA-ON",
	})
	assert.ErrorIs(t, err, taxdomain.ErrAmountOverflow)

	_, err = svc.Quote(ctx, taxdomain.QuoteRequest{
		Items:        []taxdomain.QuoteItem{{UnitPrice: 100, Quantity: 1}},
		Jurisdiction: "MARS",
	})
	assert.True(t, errors.Is(err, taxdomain.ErrUnknownJurisdiction))
}
