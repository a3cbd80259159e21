package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paycore/internal/audit/domain"
	"github.com/smallbiznis/paycore/internal/audit/repository"
	"github.com/smallbiznis/paycore/internal/clock"
	obscontext "github.com/smallbiznis/paycore/internal/observability/context"
	"github.com/smallbiznis/paycore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, db
}

func TestRecordStoresVersionedEvent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeAPI), "10.0.0.1")

	err := svc.Record(ctx, nil, auditdomain.RefundCreatedV1{
		RefundID: "42",
		OrderID:  "7",
		Amount:   1500,
		Currency: "CAD",
		Reason:   "requested_by_customer",
		Status:   "succeeded",
		Source:   "api",
	})
	require.NoError(t, err)

	events, err := svc.List(context.Background(), auditdomain.ListRequest{TargetType: auditdomain.TargetRefund, TargetID: "42"})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, auditdomain.ActionRefundCreated, ev.Action)
	assert.Equal(t, 1, ev.Version)
	assert.Equal(t, "api", ev.ActorType)
	require.NotNil(t, ev.ActorID)
	assert.Equal(t, "10.0.0.1", *ev.ActorID)
	require.NotNil(t, ev.RequestID)
	assert.Equal(t, "req-1", *ev.RequestID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(ev.Payload, &body))
	assert.Equal(t, float64(1500), body["amount"])
	assert.Equal(t, "7", body["order_id"])
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(t, svc.Record(context.Background(), nil, auditdomain.SubscriptionCancelledV1{
		SubscriptionID: "9",
		Mode:           "immediate",
		PreviousStatus: "active",
		Status:         "cancelled",
		Source:         "scheduler",
	}))

	events, err := svc.List(context.Background(), auditdomain.ListRequest{Action: auditdomain.ActionSubscriptionCancelled})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "system", events[0].ActorType)
	assert.Nil(t, events[0].ActorID)
	assert.Nil(t, events[0].RequestID)
}

func TestRecordMasksReference(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(t, svc.Record(context.Background(), nil, auditdomain.WebhookAppliedV1{
		EventID:   "evt_1",
		Provider:  "stripe",
		EventType: "payment_intent.succeeded",
		Reference: "pi_3NabcdefWXYZ",
	}))

	events, err := svc.List(context.Background(), auditdomain.ListRequest{TargetID: "evt_1"})
	require.NoError(t, err)
	require.Len(t, events, 1)

	var body map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &body))
	assert.Equal(t, "pi_****WXYZ", body["reference"])
	assert.Equal(t, "payment_intent.succeeded", body["event_type"])
}

func TestRecordRollsBackWithCallerTransaction(t *testing.T) {
	svc, db := newTestService(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Record(context.Background(), tx, auditdomain.PaymentStateChangedV1{
			PaymentID: "1",
			OrderID:   "2",
			From:      "pending",
			To:        "succeeded",
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	events, err := svc.List(context.Background(), auditdomain.ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecordRejectsMissingTarget(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Record(context.Background(), nil, auditdomain.RefundFailedV1{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTarget)

	err = svc.Record(context.Background(), nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPayload)
}
