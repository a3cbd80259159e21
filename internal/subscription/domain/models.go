// Package domain contains the subscription model and its lifecycle rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusUnpaid    SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusCancelled,
		SubscriptionStatusUnpaid,
		SubscriptionStatusPaused:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether s → target is allowed. cancelled is terminal.
func (s SubscriptionStatus) CanTransitionTo(target SubscriptionStatus) bool {
	switch s {
	case SubscriptionStatusActive:
		return target == SubscriptionStatusPastDue || target == SubscriptionStatusUnpaid ||
			target == SubscriptionStatusPaused || target == SubscriptionStatusCancelled
	case SubscriptionStatusPastDue:
		return target == SubscriptionStatusActive || target == SubscriptionStatusUnpaid ||
			target == SubscriptionStatusCancelled
	case SubscriptionStatusUnpaid, SubscriptionStatusPaused:
		return target == SubscriptionStatusActive || target == SubscriptionStatusCancelled
	default:
		return false
	}
}

type CancelMode string

const (
	CancelModeAtPeriodEnd CancelMode = "at_period_end"
	CancelModeImmediate   CancelMode = "immediate"
)

func (m CancelMode) Valid() bool {
	return m == CancelModeAtPeriodEnd || m == CancelModeImmediate
}

// Subscription captures a customer's recurring plan. Price is per cycle in
// minor units.
type Subscription struct {
	ID                     snowflake.ID       `json:"id" gorm:"column:id;primaryKey"`
	PlanID                 string             `json:"plan_id" gorm:"column:plan_id"`
	CustomerEmail          string             `json:"customer_email" gorm:"column:customer_email"`
	Price                  int64              `json:"price" gorm:"column:price"`
	Currency               string             `json:"currency" gorm:"column:currency"`
	GatewaySubscriptionID  *string            `json:"gateway_subscription_id,omitempty" gorm:"column:gateway_subscription_id"`
	GatewayPaymentIntentID *string            `json:"gateway_payment_intent_id,omitempty" gorm:"column:gateway_payment_intent_id"`
	Status                 SubscriptionStatus `json:"status" gorm:"column:status"`
	CurrentPeriodStart     time.Time          `json:"current_period_start" gorm:"column:current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end" gorm:"column:current_period_end"`
	BillingCycleDays       int                `json:"billing_cycle_days" gorm:"column:billing_cycle_days"`
	PeriodRefundedAmount   int64              `json:"period_refunded_amount" gorm:"column:period_refunded_amount"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end" gorm:"column:cancel_at_period_end"`
	CancelledAt            *time.Time         `json:"cancelled_at,omitempty" gorm:"column:cancelled_at"`
	EndedAt                *time.Time         `json:"ended_at,omitempty" gorm:"column:ended_at"`
	CreatedAt              time.Time          `json:"created_at" gorm:"column:created_at"`
	UpdatedAt              time.Time          `json:"updated_at" gorm:"column:updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Ended reports whether the subscription can no longer be cancelled.
func (s Subscription) Ended() bool {
	return s.Status == SubscriptionStatusCancelled || s.EndedAt != nil
}

// PeriodRemaining is the part of this period's price not yet refunded.
func (s Subscription) PeriodRemaining() int64 {
	return s.Price - s.PeriodRefundedAmount
}
