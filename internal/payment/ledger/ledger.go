package ledger

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/config"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	"github.com/smallbiznis/paycore/pkg/db"
	"github.com/smallbiznis/paycore/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxLastErrorLen = 1024

const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeInFlight  = "in_flight"
	OutcomeFailed    = "failed"
)

// Handler applies an event's side effects inside the ledger transaction.
type Handler func(ctx context.Context, tx *gorm.DB) error

type Result struct {
	EventID   string
	Duplicate bool
	Attempt   int
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Policy  *config.PolicyConfigHolder `optional:"true"`
	Metrics *obsmetrics.Metrics        `optional:"true"`
}

// Ledger applies each gateway event at most once. The primary key on
// webhook_events.event_id is the only concurrency control, so it holds
// across instances.
type Ledger struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	policy  *config.PolicyConfigHolder
	metrics *obsmetrics.Metrics
}

func New(p Params) *Ledger {
	return &Ledger{
		db:      p.DB,
		log:     p.Log.Named("payment.ledger"),
		clock:   p.Clock,
		policy:  p.Policy,
		metrics: p.Metrics,
	}
}

// ApplyOnce records env and runs handler unless the event was already
// processed. A nil handler only marks the event processed.
func (l *Ledger) ApplyOnce(ctx context.Context, env paymentdomain.Envelope, handler Handler) (Result, error) {
	if err := validateEnvelope(env); err != nil {
		return Result{}, err
	}
	ctx = ctxlogger.ContextWithEventSubject(ctx, env.EventType)
	log := ctxlogger.WithContext(ctx, l.log).With(
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("provider", env.Provider),
	)
	result := Result{EventID: env.EventID}

	if _, err := l.insert(ctx, env); err != nil {
		return result, paymenterror.Wrap(paymenterror.KindStorageError, err)
	}

	claimed, err := l.claim(ctx, env.EventID)
	if err != nil {
		return result, paymenterror.Wrap(paymenterror.KindStorageError, err)
	}
	if !claimed {
		stored, err := l.Get(ctx, env.EventID)
		if err != nil {
			return result, paymenterror.Wrap(paymenterror.KindStorageError, err)
		}
		result.Attempt = stored.AttemptCount
		if stored.Processed() {
			result.Duplicate = true
			l.record(ctx, env, OutcomeDuplicate)
			log.Info("webhook event already processed")
			return result, nil
		}
		l.record(ctx, env, OutcomeInFlight)
		log.Warn("webhook event claimed by another delivery")
		return result, paymentdomain.ErrEventInFlight
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if handler != nil {
			if err := handler(ctx, tx); err != nil {
				return err
			}
		}
		return l.markProcessed(ctx, tx, env.EventID)
	})
	if err != nil {
		if recordErr := l.recordFailure(ctx, env.EventID, err); recordErr != nil {
			log.Error("failed to record webhook failure", zap.Error(recordErr))
		}
		l.record(ctx, env, OutcomeFailed)
		failure := handlerFailure(err)
		log.Warn("webhook event failed",
			zap.String("error_kind", string(failure.Kind)),
			zap.Error(err),
		)
		return result, failure
	}

	l.record(ctx, env, OutcomeApplied)
	log.Info("webhook event applied")
	return result, nil
}

// Get loads the ledger row for eventID.
func (l *Ledger) Get(ctx context.Context, eventID string) (*paymentdomain.WebhookEvent, error) {
	var row paymentdomain.WebhookEvent
	err := l.db.WithContext(ctx).Raw(
		`SELECT event_id, provider, event_type, payload, attempt_count, last_error,
		        claimed_until, processed_at, received_at
		 FROM webhook_events
		 WHERE event_id = ?`,
		eventID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.EventID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	return &row, nil
}

// ReleaseStaleClaims clears claims whose TTL passed without the row being
// processed, so the next redelivery can claim them.
func (l *Ledger) ReleaseStaleClaims(ctx context.Context) (int64, error) {
	now := l.clock.Now().UTC()
	res := l.db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET claimed_until = NULL
		 WHERE processed_at IS NULL
		   AND claimed_until IS NOT NULL
		   AND claimed_until < ?`,
		now,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (l *Ledger) insert(ctx context.Context, env paymentdomain.Envelope) (bool, error) {
	row := paymentdomain.WebhookEvent{
		EventID:    env.EventID,
		Provider:   env.Provider,
		EventType:  env.EventType,
		Payload:    datatypes.JSON(env.Payload),
		ReceivedAt: l.clock.Now().UTC(),
	}
	res := l.db.WithContext(ctx).
		Clauses(db.IgnoreDuplicate("event_id")).
		Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (l *Ledger) claim(ctx context.Context, eventID string) (bool, error) {
	now := l.clock.Now().UTC()
	res := l.db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET claimed_until = ?, attempt_count = attempt_count + 1
		 WHERE event_id = ?
		   AND processed_at IS NULL
		   AND (claimed_until IS NULL OR claimed_until < ?)`,
		now.Add(l.claimTTL()),
		eventID,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (l *Ledger) markProcessed(ctx context.Context, tx *gorm.DB, eventID string) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed_at = ?, claimed_until = NULL, last_error = NULL
		 WHERE event_id = ?`,
		l.clock.Now().UTC(),
		eventID,
	).Error
}

func (l *Ledger) recordFailure(ctx context.Context, eventID string, cause error) error {
	return l.db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET last_error = ?, claimed_until = NULL
		 WHERE event_id = ?`,
		truncate(cause.Error()),
		eventID,
	).Error
}

func (l *Ledger) claimTTL() time.Duration {
	return l.policy.Get().Webhook.ClaimTTL
}

func (l *Ledger) record(ctx context.Context, env paymentdomain.Envelope, outcome string) {
	l.metrics.RecordWebhookEvent(ctx, env.Provider, env.EventType, outcome)
}

// handlerFailure keeps an explicit classification and otherwise reports the
// failure as a webhook error.
func handlerFailure(err error) *paymenterror.PaymentError {
	if pe, ok := paymenterror.As(err); ok {
		return pe
	}
	classified := paymenterror.Classify(err)
	if classified.Kind == paymenterror.KindProcessingError {
		return paymenterror.Wrap(paymenterror.KindWebhookError, err)
	}
	return classified
}

func validateEnvelope(env paymentdomain.Envelope) error {
	if strings.TrimSpace(env.EventID) == "" || strings.TrimSpace(env.EventType) == "" {
		return paymentdomain.ErrInvalidEvent
	}
	if strings.TrimSpace(env.Provider) == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !json.Valid(env.Payload) {
		return paymentdomain.ErrInvalidPayload
	}
	return nil
}

// truncate caps msg at maxLastErrorLen bytes without splitting a rune.
func truncate(msg string) string {
	if len(msg) <= maxLastErrorLen {
		return msg
	}
	cut := maxLastErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
