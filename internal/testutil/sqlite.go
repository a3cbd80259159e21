// Package testutil opens throwaway in-memory databases carrying the service schema.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// schema mirrors migrations/0001_init.up.sql in the sqlite dialect.
var schema = []string{
	`CREATE TABLE orders (
		id INTEGER PRIMARY KEY,
		customer_email TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL,
		jurisdiction TEXT NOT NULL,
		promo_code TEXT,
		subtotal INTEGER NOT NULL CHECK (subtotal >= 0),
		discount_amount INTEGER NOT NULL DEFAULT 0,
		tax_amount INTEGER NOT NULL DEFAULT 0,
		total_amount INTEGER NOT NULL,
		refunded_amount INTEGER NOT NULL DEFAULT 0,
		tax_breakdown TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'partially_refunded', 'refunded', 'cancelled', 'failed')),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK (total_amount = subtotal - discount_amount + tax_amount),
		CHECK (refunded_amount <= total_amount)
	)`,
	`CREATE TABLE payments (
		id INTEGER PRIMARY KEY,
		order_id INTEGER NOT NULL,
		gateway_payment_intent_id TEXT NOT NULL UNIQUE,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'succeeded', 'failed', 'requires_action')),
		failure_kind TEXT,
		failure_code TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX uq_payments_one_succeeded_per_order ON payments (order_id) WHERE status = 'succeeded'`,
	`CREATE TABLE subscriptions (
		id INTEGER PRIMARY KEY,
		plan_id TEXT NOT NULL,
		customer_email TEXT NOT NULL DEFAULT '',
		price INTEGER NOT NULL,
		currency TEXT NOT NULL,
		gateway_subscription_id TEXT,
		gateway_payment_intent_id TEXT,
		status TEXT NOT NULL CHECK (status IN ('active', 'past_due', 'cancelled', 'unpaid', 'paused')),
		current_period_start DATETIME NOT NULL,
		current_period_end DATETIME NOT NULL,
		billing_cycle_days INTEGER NOT NULL CHECK (billing_cycle_days > 0),
		period_refunded_amount INTEGER NOT NULL DEFAULT 0,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
		cancelled_at DATETIME,
		ended_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK (period_refunded_amount <= price)
	)`,
	`CREATE UNIQUE INDEX uq_subscriptions_gateway_id ON subscriptions (gateway_subscription_id) WHERE gateway_subscription_id IS NOT NULL`,
	`CREATE TABLE refunds (
		id INTEGER PRIMARY KEY,
		order_id INTEGER,
		payment_id INTEGER,
		subscription_id INTEGER,
		gateway_refund_id TEXT,
		amount INTEGER NOT NULL CHECK (amount > 0),
		currency TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'succeeded', 'failed')),
		reason TEXT NOT NULL CHECK (reason IN ('duplicate', 'fraudulent', 'requested_by_customer', 'subscription_cancellation', 'product_unavailable', 'other')),
		revoke_access BOOLEAN NOT NULL DEFAULT FALSE,
		notify_customer BOOLEAN NOT NULL DEFAULT FALSE,
		failure_kind TEXT,
		failure_message TEXT,
		processed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK (order_id IS NOT NULL OR payment_id IS NOT NULL OR subscription_id IS NOT NULL)
	)`,
	`CREATE UNIQUE INDEX uq_refunds_gateway_id ON refunds (gateway_refund_id) WHERE gateway_refund_id IS NOT NULL`,
	`CREATE TABLE download_access (
		id INTEGER PRIMARY KEY,
		order_id INTEGER NOT NULL,
		asset_id TEXT NOT NULL,
		customer_email TEXT NOT NULL DEFAULT '',
		revoked_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE promo_codes (
		code TEXT PRIMARY KEY,
		percent_off_bps INTEGER,
		amount_off INTEGER,
		currency TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		starts_at DATETIME,
		expires_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE webhook_events (
		event_id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		claimed_until DATETIME,
		processed_at DATETIME,
		received_at DATETIME NOT NULL
	)`,
	`CREATE TABLE retry_jobs (
		id INTEGER PRIMARY KEY,
		job_type TEXT NOT NULL,
		error_kind TEXT NOT NULL,
		dedupe_key TEXT NOT NULL UNIQUE,
		payload TEXT NOT NULL DEFAULT '{}',
		attempt INTEGER NOT NULL CHECK (attempt >= 1),
		status TEXT NOT NULL CHECK (status IN ('pending', 'running', 'succeeded', 'failed')),
		run_at DATETIME NOT NULL,
		locked_until DATETIME,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE audit_events (
		id INTEGER PRIMARY KEY,
		action TEXT NOT NULL,
		version INTEGER NOT NULL,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		request_id TEXT,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
}

// OpenDB returns an isolated in-memory database with the full schema.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := Open()
	if err != nil {
		t.Fatalf("%v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// Open is OpenDB for callers without a testing.TB, such as TestMain. The
// caller closes the connection.
func Open() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return db, nil
}
