package service

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// Prorate returns the part of price covering the days left in the period.
// Remaining time is rounded up to whole UTC days and clamped to the cycle,
// and the amount rounds half away from zero.
func Prorate(price int64, now, periodStart, periodEnd time.Time, cycleDays int) int64 {
	if price <= 0 || cycleDays <= 0 {
		return 0
	}
	now, periodStart, periodEnd = now.UTC(), periodStart.UTC(), periodEnd.UTC()
	if now.Before(periodStart) {
		now = periodStart
	}
	if !now.Before(periodEnd) {
		return 0
	}

	remaining := periodEnd.Sub(now)
	days := int64(remaining / day)
	if remaining%day != 0 {
		days++
	}
	if days > int64(cycleDays) {
		days = int64(cycleDays)
	}

	return decimal.NewFromInt(price).
		Mul(decimal.NewFromInt(days)).
		DivRound(decimal.NewFromInt(int64(cycleDays)), 0).
		IntPart()
}
