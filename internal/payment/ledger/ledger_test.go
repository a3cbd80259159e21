package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/config"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	"github.com/smallbiznis/paycore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestLedger(t *testing.T) (*Ledger, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	conn := testutil.OpenDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC))
	l := New(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Clock:  clk,
		Policy: config.NewStaticPolicyConfigHolder(config.DefaultPolicyConfig()),
	})
	return l, conn, clk
}

func envelope(id string) paymentdomain.Envelope {
	return paymentdomain.Envelope{
		EventID:   id,
		Provider:  paymentdomain.ProviderStripe,
		EventType: paymentdomain.EventTypePaymentSucceeded,
		Payload:   []byte(`{"id":"` + id + `"}`),
	}
}

func TestApplyOnceRunsHandlerExactlyOnce(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	calls := 0
	handler := func(context.Context, *gorm.DB) error {
		calls++
		return nil
	}

	first, err := l.ApplyOnce(ctx, envelope("evt_1"), handler)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := l.ApplyOnce(ctx, envelope("evt_1"), handler)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, second.Attempt)
	assert.Equal(t, 1, calls)

	row, err := l.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, row.Processed())
	assert.Nil(t, row.ClaimedUntil)
	assert.Nil(t, row.LastError)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(row.Payload))
}

func TestApplyOnceFailureLeavesRowForRedelivery(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyOnce(ctx, envelope("evt_fail"), func(context.Context, *gorm.DB) error {
		return errors.New("order lookup exploded")
	})
	require.Error(t, err)
	pe, ok := paymenterror.As(err)
	require.True(t, ok)
	assert.Equal(t, paymenterror.KindWebhookError, pe.Kind)

	row, err := l.Get(ctx, "evt_fail")
	require.NoError(t, err)
	assert.False(t, row.Processed())
	assert.Equal(t, 1, row.AttemptCount)
	assert.Nil(t, row.ClaimedUntil, "failure releases the claim")
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "order lookup exploded")

	calls := 0
	_, err = l.ApplyOnce(ctx, envelope("evt_fail"), func(context.Context, *gorm.DB) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	row, err = l.Get(ctx, "evt_fail")
	require.NoError(t, err)
	assert.True(t, row.Processed())
	assert.Equal(t, 2, row.AttemptCount)
	assert.Nil(t, row.LastError)
}

func TestApplyOnceRollsBackHandlerWrites(t *testing.T) {
	l, conn, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyOnce(ctx, envelope("evt_rollback"), func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Exec(
			`INSERT INTO download_access (id, order_id, asset_id, created_at) VALUES (1, 1, 'asset', ?)`,
			time.Now().UTC(),
		).Error; err != nil {
			return err
		}
		return errors.New("late failure")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, conn.Raw(`SELECT COUNT(1) FROM download_access`).Scan(&count).Error)
	assert.Zero(t, count)
}

func TestApplyOnceKeepsExplicitClassification(t *testing.T) {
	l, _, _ := newTestLedger(t)

	_, err := l.ApplyOnce(context.Background(), envelope("evt_kind"), func(context.Context, *gorm.DB) error {
		return paymenterror.New(paymenterror.KindSubscriptionError, "subscription missing")
	})
	pe, ok := paymenterror.As(err)
	require.True(t, ok)
	assert.Equal(t, paymenterror.KindSubscriptionError, pe.Kind)
}

func TestApplyOnceInFlightClaim(t *testing.T) {
	l, conn, clk := newTestLedger(t)
	ctx := context.Background()

	// a delivery on another instance holds the claim
	require.NoError(t, conn.Exec(
		`INSERT INTO webhook_events (event_id, provider, event_type, payload, attempt_count, claimed_until, received_at)
		 VALUES ('evt_busy', 'stripe', 'payment_intent.succeeded', '{}', 1, ?, ?)`,
		clk.Now().Add(time.Minute), clk.Now(),
	).Error)

	calls := 0
	handler := func(context.Context, *gorm.DB) error {
		calls++
		return nil
	}
	_, err := l.ApplyOnce(ctx, envelope("evt_busy"), handler)
	assert.ErrorIs(t, err, paymentdomain.ErrEventInFlight)
	assert.Equal(t, paymenterror.KindWebhookError, paymenterror.KindOf(err))
	assert.Zero(t, calls)

	clk.Advance(2 * time.Minute)
	_, err = l.ApplyOnce(ctx, envelope("evt_busy"), handler)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestApplyOnceWithoutHandlerMarksProcessed(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	env := envelope("evt_unhandled")
	env.EventType = "invoice.created"
	_, err := l.ApplyOnce(ctx, env, nil)
	require.NoError(t, err)

	row, err := l.Get(ctx, "evt_unhandled")
	require.NoError(t, err)
	assert.True(t, row.Processed())
}

func TestApplyOnceValidatesEnvelope(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyOnce(ctx, paymentdomain.Envelope{Provider: "stripe", EventType: "x", Payload: []byte(`{}`)}, nil)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	env := envelope("evt_bad")
	env.Payload = []byte(`{`)
	_, err = l.ApplyOnce(ctx, env, nil)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	env = envelope("evt_noprov")
	env.Provider = ""
	_, err = l.ApplyOnce(ctx, env, nil)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidProvider)
}

func TestRecordFailureTruncatesError(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ApplyOnce(ctx, envelope("evt_long"), func(context.Context, *gorm.DB) error {
		return errors.New(strings.Repeat("e", 5000))
	})
	require.Error(t, err)

	row, err := l.Get(ctx, "evt_long")
	require.NoError(t, err)
	require.NotNil(t, row.LastError)
	assert.Len(t, *row.LastError, maxLastErrorLen)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	msg := strings.Repeat("a", maxLastErrorLen-1) + "é" + strings.Repeat("b", 10)
	got := truncate(msg)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, maxLastErrorLen-1)

	l, _, _ := newTestLedger(t)
	_, err := l.ApplyOnce(context.Background(), envelope("evt_rune"), func(context.Context, *gorm.DB) error {
		return errors.New(msg)
	})
	require.Error(t, err)
	row, err := l.Get(context.Background(), "evt_rune")
	require.NoError(t, err)
	require.NotNil(t, row.LastError)
	assert.True(t, utf8.ValidString(*row.LastError))
}

func TestReleaseStaleClaims(t *testing.T) {
	l, conn, clk := newTestLedger(t)
	ctx := context.Background()

	for id, until := range map[string]time.Time{
		"evt_stale": clk.Now().Add(-time.Minute),
		"evt_live":  clk.Now().Add(time.Minute),
	} {
		require.NoError(t, conn.Exec(
			`INSERT INTO webhook_events (event_id, provider, event_type, payload, attempt_count, claimed_until, received_at)
			 VALUES (?, 'stripe', 'charge.refunded', '{}', 1, ?, ?)`,
			id, until, clk.Now(),
		).Error)
	}

	released, err := l.ReleaseStaleClaims(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	stale, err := l.Get(ctx, "evt_stale")
	require.NoError(t, err)
	assert.Nil(t, stale.ClaimedUntil)
	live, err := l.Get(ctx, "evt_live")
	require.NoError(t, err)
	assert.NotNil(t, live.ClaimedUntil)

	_, err = l.Get(ctx, "evt_missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestApplyOnceConcurrentDeliveriesRunHandlerOnce(t *testing.T) {
	l, conn, _ := newTestLedger(t)
	ctx := context.Background()

	const deliveries = 8
	var (
		runs      atomic.Int32
		applied   atomic.Int32
		duplicate atomic.Int32
		inFlight  atomic.Int32
		wg        sync.WaitGroup
		start     = make(chan struct{})
		errs      = make(chan error, deliveries)
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := l.ApplyOnce(ctx, envelope("evt_race"), func(context.Context, *gorm.DB) error {
				runs.Add(1)
				return nil
			})
			switch {
			case errors.Is(err, paymentdomain.ErrEventInFlight):
				inFlight.Add(1)
			case err != nil:
				errs <- err
			case res.Duplicate:
				duplicate.Add(1)
			default:
				applied.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected delivery error: %v", err)
	}

	assert.EqualValues(t, 1, runs.Load())
	assert.EqualValues(t, 1, applied.Load())
	assert.EqualValues(t, deliveries-1, duplicate.Load()+inFlight.Load())

	var rows int64
	require.NoError(t, conn.Raw(`SELECT COUNT(*) FROM webhook_events WHERE event_id = ?`, "evt_race").Scan(&rows).Error)
	assert.EqualValues(t, 1, rows)

	row, err := l.Get(ctx, "evt_race")
	require.NoError(t, err)
	assert.True(t, row.Processed())
}
