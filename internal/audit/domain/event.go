package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeSystem    ActorType = "system"
	ActorTypeGateway   ActorType = "gateway"
	ActorTypeAPI       ActorType = "api"
	ActorTypeScheduler ActorType = "scheduler"
)

const (
	TargetOrder        = "order"
	TargetPayment      = "payment"
	TargetRefund       = "refund"
	TargetSubscription = "subscription"
	TargetWebhookEvent = "webhook_event"
)

// Payload is a versioned, typed audit record. Each action has its own
// struct; adding a field means adding a new version.
type Payload interface {
	AuditAction() string
	AuditVersion() int
	AuditTarget() (targetType string, targetID string)
}

// AuditEvent is a stored row of audit_events.
type AuditEvent struct {
	ID         snowflake.ID   `json:"id" gorm:"column:id;primaryKey"`
	Action     string         `json:"action" gorm:"column:action"`
	Version    int            `json:"version" gorm:"column:version"`
	ActorType  string         `json:"actor_type" gorm:"column:actor_type"`
	ActorID    *string        `json:"actor_id,omitempty" gorm:"column:actor_id"`
	TargetType string         `json:"target_type" gorm:"column:target_type"`
	TargetID   string         `json:"target_id" gorm:"column:target_id"`
	RequestID  *string        `json:"request_id,omitempty" gorm:"column:request_id"`
	Payload    datatypes.JSON `json:"payload" gorm:"column:payload"`
	CreatedAt  time.Time      `json:"created_at" gorm:"column:created_at"`
}

func (AuditEvent) TableName() string { return "audit_events" }

type ListRequest struct {
	TargetType string
	TargetID   string
	Action     string
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditEvent) error
	List(ctx context.Context, db *gorm.DB, req ListRequest) ([]AuditEvent, error)
}

type Service interface {
	// Record writes payload through tx when set so the audit row commits
	// with the state change it describes.
	Record(ctx context.Context, tx *gorm.DB, payload Payload) error
	List(ctx context.Context, req ListRequest) ([]AuditEvent, error)
}

var (
	ErrInvalidPayload = errors.New("invalid_audit_payload")
	ErrInvalidTarget  = errors.New("invalid_audit_target")
)
