package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paycore/internal/audit/domain"
	auditrepository "github.com/smallbiznis/paycore/internal/audit/repository"
	auditservice "github.com/smallbiznis/paycore/internal/audit/service"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/events"
	orderdomain "github.com/smallbiznis/paycore/internal/order/domain"
	"github.com/smallbiznis/paycore/internal/order/repository"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	"github.com/smallbiznis/paycore/internal/retry"
	taxdomain "github.com/smallbiznis/paycore/internal/tax/domain"
	taxservice "github.com/smallbiznis/paycore/internal/tax/service"
	"github.com/smallbiznis/paycore/internal/testutil"
	"github.com/smallbiznis/paycore/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   orderdomain.Service
	audit auditdomain.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := testutil.OpenDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{
		DB: conn, Log: log, GenID: node, Clock: clk, Repo: auditrepository.Provide(),
	})
	svc := NewService(Params{
		DB:        conn,
		Log:       log,
		GenID:     node,
		Clock:     clk,
		Repo:      repository.Provide(),
		Tax:       taxservice.NewService(taxservice.Params{Log: log, Clock: clk}),
		Audit:     audit,
		Queue:     retry.NewQueue(retry.QueueParams{DB: conn, Log: log, GenID: node, Clock: clk}),
		Scheduler: retry.New(nil),
	})
	return &harness{db: conn, clock: clk, svc: svc, audit: audit}
}

func (h *harness) createOrder(t *testing.T, intentID string, assets ...string) *orderdomain.CreateOrderResponse {
	t.Helper()
	resp, err := h.svc.CreateOrder(context.Background(), orderdomain.CreateOrderRequest{
		Items:           []taxdomain.QuoteItem{{UnitPrice: 10000, Quantity: 1}},
		Jurisdiction:    "CA-QC",
		Currency:        "cad",
		CustomerEmail:   "jane@example.com",
		PaymentIntentID: intentID,
		AssetIDs:        assets,
	})
	require.NoError(t, err)
	return resp
}

func (h *harness) inTx(t *testing.T, fn func(tx *gorm.DB) error) error {
	t.Helper()
	return h.db.Transaction(fn)
}

func (h *harness) jobs(t *testing.T) []retry.Job {
	t.Helper()
	var jobs []retry.Job
	require.NoError(t, h.db.Raw(`SELECT * FROM retry_jobs ORDER BY id`).Scan(&jobs).Error)
	return jobs
}

func TestCreateOrderStoresQuoteAndPendingPayment(t *testing.T) {
	h := newHarness(t)
	resp := h.createOrder(t, "pi_1")

	assert.Equal(t, int64(10000), resp.Order.Subtotal)
	assert.Equal(t, int64(1547), resp.Order.TaxAmount)
	assert.Equal(t, int64(11547), resp.Order.TotalAmount)
	assert.Equal(t, "CAD", resp.Order.Currency)
	assert.Equal(t, orderdomain.OrderStatusPending, resp.Order.Status)
	assert.Equal(t, orderdomain.PaymentStatusPending, resp.Payment.Status)
	assert.Equal(t, int64(11547), resp.Payment.Amount)
	assert.Equal(t, 1, resp.Payment.AttemptCount)

	stored, err := h.svc.GetOrder(context.Background(), resp.Order.ID)
	require.NoError(t, err)
	lines, err := stored.Lines()
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "GST", lines[0].Name)
	assert.Equal(t, int64(500), lines[0].Amount)
	assert.Equal(t, "QST", lines[1].Name)
	assert.Equal(t, int64(1047), lines[1].Amount)
	assert.True(t, lines[1].Compound)
}

func TestCreateOrderValidatesRequest(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateOrder(context.Background(), orderdomain.CreateOrderRequest{
		Items:        []taxdomain.QuoteItem{{UnitPrice: 100, Quantity: 1}},
		Jurisdiction: "CA-ON",
		Currency:     "CA",
	})
	require.Error(t, err)
	assert.ElementsMatch(t, []validation.FieldError{
		{Field: "currency", Rule: "len"},
		{Field: "paymentIntentId", Rule: "required"},
	}, validation.Fields(err))
	assert.Equal(t, paymenterror.KindValidationError, paymenterror.KindOf(err))
}

func TestCreateOrderRejectsDuplicateIntent(t *testing.T) {
	h := newHarness(t)
	h.createOrder(t, "pi_dup")

	_, err := h.svc.CreateOrder(context.Background(), orderdomain.CreateOrderRequest{
		Items:           []taxdomain.QuoteItem{{UnitPrice: 100, Quantity: 1}},
		Jurisdiction:    "CA-ON",
		Currency:        "CAD",
		PaymentIntentID: "pi_dup",
	})
	assert.ErrorIs(t, err, orderdomain.ErrDuplicatePayment)
}

func TestCreateOrderUnknownJurisdiction(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateOrder(context.Background(), orderdomain.CreateOrderRequest{
		Items:           []taxdomain.QuoteItem{{UnitPrice: 100, Quantity: 1}},
		Jurisdiction:    "XX-YY",
		Currency:        "CAD",
		PaymentIntentID: "pi_x",
	})
	assert.ErrorIs(t, err, taxdomain.ErrUnknownJurisdiction)
}

func TestApplyPaymentSucceededCompletesOrderOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.createOrder(t, "pi_ok")

	for i := 0; i < 2; i++ {
		require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
			return h.svc.ApplyPaymentSucceeded(ctx, tx, "pi_ok", 11547)
		}))
	}

	order, err := h.svc.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusCompleted, order.Status)

	payment, err := h.svc.SucceededPayment(ctx, nil, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.Payment.ID, payment.ID)

	audits, err := h.audit.List(ctx, auditdomain.ListRequest{TargetType: auditdomain.TargetPayment})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, auditdomain.ActionPaymentStateChanged, audits[0].Action)
}

func TestApplyPaymentSucceededRejectsAmountMismatch(t *testing.T) {
	h := newHarness(t)
	h.createOrder(t, "pi_mismatch")

	err := h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyPaymentSucceeded(context.Background(), tx, "pi_mismatch", 100)
	})
	assert.ErrorIs(t, err, orderdomain.ErrAmountMismatch)
	assert.Equal(t, paymenterror.KindWebhookError, paymenterror.KindOf(err))
}

func TestApplyPaymentSucceededUnknownIntent(t *testing.T) {
	h := newHarness(t)

	err := h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyPaymentSucceeded(context.Background(), tx, "pi_missing", 100)
	})
	assert.ErrorIs(t, err, orderdomain.ErrPaymentNotFound)
}

func TestApplyPaymentFailedTerminalFailsOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.createOrder(t, "pi_declined")

	failure := paymenterror.New(paymenterror.KindCardDeclined, "")
	failure.Code = "card_declined"
	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyPaymentFailed(ctx, tx, "pi_declined", failure)
	}))

	order, err := h.svc.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusFailed, order.Status)

	payment, err := h.svc.GetPayment(ctx, resp.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.PaymentStatusFailed, payment.Status)
	require.NotNil(t, payment.FailureKind)
	assert.Equal(t, "card_declined", *payment.FailureKind)
	require.NotNil(t, payment.FailureCode)
	assert.Equal(t, "card_declined", *payment.FailureCode)
	assert.Empty(t, h.jobs(t))

}

func TestApplyPaymentSucceededAfterTerminalDeclineCompletesOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.createOrder(t, "pi_paid_later")

	failure := paymenterror.New(paymenterror.KindCardDeclined, "")
	failure.Code = "card_declined"
	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyPaymentFailed(ctx, tx, "pi_paid_later", failure)
	}))

	// The customer updated the card and paid on the same intent.
	for i := 0; i < 2; i++ {
		require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
			return h.svc.ApplyPaymentSucceeded(ctx, tx, "pi_paid_later", resp.Order.TotalAmount)
		}))
	}

	order, err := h.svc.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusCompleted, order.Status)

	payment, err := h.svc.GetPayment(ctx, resp.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.PaymentStatusSucceeded, payment.Status)
	assert.Nil(t, payment.FailureKind)
	assert.Nil(t, payment.FailureCode)
	assert.Equal(t, 2, payment.AttemptCount)
}

func TestOrderTransitionsAllowLateCaptureOnlyFromFailed(t *testing.T) {
	assert.False(t, orderdomain.OrderStatusCancelled.CanTransitionTo(orderdomain.OrderStatusCompleted))
	assert.False(t, orderdomain.OrderStatusRefunded.CanTransitionTo(orderdomain.OrderStatusCompleted))
	assert.True(t, orderdomain.OrderStatusFailed.CanTransitionTo(orderdomain.OrderStatusCompleted))
	assert.False(t, orderdomain.OrderStatusFailed.CanTransitionTo(orderdomain.OrderStatusPending))
}

func TestApplyPaymentFailedRetryableSchedulesRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.createOrder(t, "pi_nsf")

	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyPaymentFailed(ctx, tx, "pi_nsf", paymenterror.New(paymenterror.KindInsufficientFunds, ""))
	}))

	order, err := h.svc.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusPending, order.Status)

	jobs := h.jobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, retry.JobTypePaymentRetry, jobs[0].JobType)
	assert.Equal(t, paymenterror.KindInsufficientFunds, jobs[0].ErrorKind)
	assert.True(t, jobs[0].RunAt.Equal(testNow.Add(24*time.Hour)))

	var payload orderdomain.RetryPayload
	require.NoError(t, jobs[0].Decode(&payload))
	assert.Equal(t, resp.Payment.ID.String(), payload.PaymentID)
	assert.Equal(t, 2, payload.Attempt)

	// Replayed failure is idempotent.
	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyPaymentFailed(ctx, tx, "pi_nsf", paymenterror.New(paymenterror.KindInsufficientFunds, ""))
	}))
	assert.Len(t, h.jobs(t), 1)
}

func TestApplyPaymentFailedExhaustedFailsOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.createOrder(t, "pi_exhaust")

	require.NoError(t, h.db.Exec(`UPDATE payments SET attempt_count = 4 WHERE id = ?`, resp.Payment.ID).Error)
	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyPaymentFailed(ctx, tx, "pi_exhaust", paymenterror.New(paymenterror.KindInsufficientFunds, ""))
	}))

	order, err := h.svc.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusFailed, order.Status)
	assert.Empty(t, h.jobs(t))
}

func TestRearmPaymentIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.createOrder(t, "pi_rearm")

	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyPaymentFailed(ctx, tx, "pi_rearm", paymenterror.New(paymenterror.KindNetworkError, ""))
	}))

	payment, armed, err := h.svc.RearmPayment(ctx, resp.Payment.ID, 2)
	require.NoError(t, err)
	assert.True(t, armed)
	assert.Equal(t, orderdomain.PaymentStatusPending, payment.Status)
	assert.Equal(t, 2, payment.AttemptCount)

	payment, armed, err = h.svc.RearmPayment(ctx, resp.Payment.ID, 2)
	require.NoError(t, err)
	assert.True(t, armed)
	assert.Equal(t, 2, payment.AttemptCount)

	_, armed, err = h.svc.RearmPayment(ctx, resp.Payment.ID, 5)
	require.NoError(t, err)
	assert.False(t, armed)
}

func TestSuccessAfterRetryableFailureRearmsPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.createOrder(t, "pi_late")

	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyPaymentFailed(ctx, tx, "pi_late", paymenterror.New(paymenterror.KindProcessingError, ""))
	}))
	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyPaymentSucceeded(ctx, tx, "pi_late", 11547)
	}))

	payment, err := h.svc.GetPayment(ctx, resp.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.PaymentStatusSucceeded, payment.Status)
	assert.Equal(t, 2, payment.AttemptCount)
	assert.Nil(t, payment.FailureKind)

	// The queued retry no longer applies.
	_, armed, err := h.svc.RearmPayment(ctx, resp.Payment.ID, 2)
	require.NoError(t, err)
	assert.False(t, armed)
}

func TestApplyRequiresAction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.createOrder(t, "pi_3ds")

	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyRequiresAction(ctx, tx, "pi_3ds")
	}))
	payment, err := h.svc.GetPayment(ctx, resp.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.PaymentStatusRequiresAction, payment.Status)

	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyPaymentSucceeded(ctx, tx, "pi_3ds", 11547)
	}))
	payment, err = h.svc.GetPayment(ctx, resp.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.PaymentStatusSucceeded, payment.Status)
}

func completedOrder(t *testing.T, h *harness, intentID string) *orderdomain.CreateOrderResponse {
	t.Helper()
	resp := h.createOrder(t, intentID, "asset-1", "asset-2")
	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyPaymentSucceeded(context.Background(), tx, intentID, resp.Payment.Amount)
	}))
	return resp
}

func TestApplyRefundTransitionsAndCaps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := completedOrder(t, h, "pi_refund")
	id := resp.Order.ID

	var order *orderdomain.Order
	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		var err error
		order, err = h.svc.ApplyRefund(ctx, tx, id, 1547)
		return err
	}))
	assert.Equal(t, orderdomain.OrderStatusPartiallyRefunded, order.Status)
	assert.Equal(t, int64(1547), order.RefundedAmount)

	err := h.inTx(t, func(tx *gorm.DB) error {
		_, err := h.svc.ApplyRefund(ctx, tx, id, 10001)
		return err
	})
	assert.ErrorIs(t, err, orderdomain.ErrRefundExceedsBalance)

	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		var err error
		order, err = h.svc.ApplyRefund(ctx, tx, id, 10000)
		return err
	}))
	assert.Equal(t, orderdomain.OrderStatusRefunded, order.Status)
	assert.Equal(t, order.TotalAmount, order.RefundedAmount)

	err = h.inTx(t, func(tx *gorm.DB) error {
		_, err := h.svc.ApplyRefund(ctx, tx, id, 1)
		return err
	})
	assert.ErrorIs(t, err, orderdomain.ErrRefundExceedsBalance)
}

func TestApplyRefundRejectsPendingOrder(t *testing.T) {
	h := newHarness(t)
	resp := h.createOrder(t, "pi_pending")

	err := h.inTx(t, func(tx *gorm.DB) error {
		_, err := h.svc.ApplyRefund(context.Background(), tx, resp.Order.ID, 100)
		return err
	})
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)
}

func TestReleaseRefundRestoresStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := completedOrder(t, h, "pi_release")
	id := resp.Order.ID

	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		if _, err := h.svc.ApplyRefund(ctx, tx, id, 1000); err != nil {
			return err
		}
		_, err := h.svc.ApplyRefund(ctx, tx, id, 10547)
		return err
	}))

	var order *orderdomain.Order
	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		var err error
		order, err = h.svc.ReleaseRefund(ctx, tx, id, 10547)
		return err
	}))
	assert.Equal(t, orderdomain.OrderStatusPartiallyRefunded, order.Status)
	assert.Equal(t, int64(1000), order.RefundedAmount)

	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		var err error
		order, err = h.svc.ReleaseRefund(ctx, tx, id, 1000)
		return err
	}))
	assert.Equal(t, orderdomain.OrderStatusCompleted, order.Status)
	assert.Zero(t, order.RefundedAmount)
}

func TestRevokeDownloadAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := completedOrder(t, h, "pi_assets")

	revoked, err := h.svc.RevokeDownloadAccess(ctx, nil, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), revoked)

	revoked, err = h.svc.RevokeDownloadAccess(ctx, nil, resp.Order.ID)
	require.NoError(t, err)
	assert.Zero(t, revoked)
}

type recordingPublisher struct {
	emitted []events.Event
}

func (p *recordingPublisher) Notify(ctx context.Context, ev events.Event) error { return nil }
func (p *recordingPublisher) Emit(ctx context.Context, ev events.Event) error {
	p.emitted = append(p.emitted, ev)
	return nil
}

func TestRetryHandlerRearmsAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.createOrder(t, "pi_handler")

	require.NoError(t, h.inTx(t, func(tx *gorm.DB) error {
		return h.svc.ApplyPaymentFailed(ctx, tx, "pi_handler", paymenterror.New(paymenterror.KindGatewayUnavailable, ""))
	}))
	jobs := h.jobs(t)
	require.Len(t, jobs, 1)

	pub := &recordingPublisher{}
	handler := NewRetryHandler(h.svc, pub, zap.NewNop())
	require.NoError(t, handler(ctx, jobs[0]))

	require.Len(t, pub.emitted, 1)
	assert.Equal(t, events.TypePaymentRetryRequested, pub.emitted[0].Type)
	data := pub.emitted[0].Data.(events.PaymentRetryRequested)
	assert.Equal(t, "pi_handler", data.PaymentIntentID)
	assert.Equal(t, 2, data.Attempt)
	assert.Equal(t, "gateway_unavailable", data.FailureKind)

	payment, err := h.svc.GetPayment(ctx, resp.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.PaymentStatusPending, payment.Status)
}

func TestRetryHandlerRejectsBadPayload(t *testing.T) {
	h := newHarness(t)
	handler := NewRetryHandler(h.svc, &recordingPublisher{}, zap.NewNop())

	err := handler(context.Background(), retry.Job{Payload: []byte(`{"payment_id":"x","attempt":2}`)})
	assert.ErrorIs(t, err, retry.ErrInvalidPayload)
}
