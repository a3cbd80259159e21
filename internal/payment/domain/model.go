package domain

import (
	"context"
	"net/http"
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent is the ledger row for one gateway event id.
type WebhookEvent struct {
	EventID      string         `json:"event_id" gorm:"column:event_id;primaryKey"`
	Provider     string         `json:"provider" gorm:"column:provider"`
	EventType    string         `json:"event_type" gorm:"column:event_type"`
	Payload      datatypes.JSON `json:"payload" gorm:"column:payload"`
	AttemptCount int            `json:"attempt_count" gorm:"column:attempt_count"`
	LastError    *string        `json:"last_error,omitempty" gorm:"column:last_error"`
	ClaimedUntil *time.Time     `json:"claimed_until,omitempty" gorm:"column:claimed_until"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty" gorm:"column:processed_at"`
	ReceivedAt   time.Time      `json:"received_at" gorm:"column:received_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

func (e WebhookEvent) Processed() bool { return e.ProcessedAt != nil }

// Adapter verifies and parses deliveries from one gateway.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (Envelope, Event, error)
}

// WebhookService is the entry point for inbound gateway deliveries.
type WebhookService interface {
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (IngestResult, error)
}

type IngestResult struct {
	EventID   string
	EventType string
	Duplicate bool
}
