package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paycore/internal/audit/domain"
	"github.com/smallbiznis/paycore/internal/audit/masking"
	"github.com/smallbiznis/paycore/internal/clock"
	obscontext "github.com/smallbiznis/paycore/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, payload auditdomain.Payload) error {
	if payload == nil {
		return auditdomain.ErrInvalidPayload
	}
	action := strings.TrimSpace(payload.AuditAction())
	if action == "" || payload.AuditVersion() < 1 {
		return auditdomain.ErrInvalidPayload
	}
	targetType, targetID := payload.AuditTarget()
	targetType = strings.TrimSpace(targetType)
	targetID = strings.TrimSpace(targetID)
	if targetType == "" || targetID == "" {
		return auditdomain.ErrInvalidTarget
	}

	body, err := encodePayload(payload)
	if err != nil {
		return err
	}

	actorType, actorID := resolveActor(ctx)
	entry := auditdomain.AuditEvent{
		ID:         s.genID.Generate(),
		Action:     action,
		Version:    payload.AuditVersion(),
		ActorType:  actorType,
		ActorID:    actorID,
		TargetType: targetType,
		TargetID:   targetID,
		Payload:    body,
		CreatedAt:  s.clock.Now().UTC(),
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		entry.RequestID = &requestID
	}

	db := tx
	if db == nil {
		db = s.db
	}
	if err := s.repo.Insert(ctx, db, &entry); err != nil {
		s.log.Warn("failed to write audit event",
			zap.String("action", action),
			zap.String("target_type", targetType),
			zap.String("target_id", targetID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) ([]auditdomain.AuditEvent, error) {
	if req.Limit <= 0 {
		req.Limit = defaultListLimit
	}
	if req.Limit > maxListLimit {
		req.Limit = maxListLimit
	}
	return s.repo.List(ctx, s.db, req)
}

// encodePayload serializes the typed payload and masks fields that may carry
// gateway secrets or customer contact data.
func encodePayload(payload auditdomain.Payload) (datatypes.JSON, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode audit payload: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode audit payload: %w", err)
	}
	masked, err := json.Marshal(masking.MaskFields(fields, masking.SensitiveKeys...))
	if err != nil {
		return nil, fmt.Errorf("encode audit payload: %w", err)
	}
	return datatypes.JSON(masked), nil
}

func resolveActor(ctx context.Context) (string, *string) {
	actorType, actorID := obscontext.ActorFromContext(ctx)
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}
	if actorID == "" {
		return actorType, nil
	}
	return actorType, &actorID
}
