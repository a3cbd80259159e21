package webhook

import (
	"context"
	"net/http"
	"strings"

	auditdomain "github.com/smallbiznis/paycore/internal/audit/domain"
	"github.com/smallbiznis/paycore/internal/audit/masking"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/paycore/internal/order/domain"
	"github.com/smallbiznis/paycore/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/payment/ledger"
	refunddomain "github.com/smallbiznis/paycore/internal/refund/domain"
	subscriptiondomain "github.com/smallbiznis/paycore/internal/subscription/domain"
	"github.com/smallbiznis/paycore/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const outcomeRejected = "rejected"

type Params struct {
	fx.In

	Log           *zap.Logger
	Adapters      *adapters.Registry
	Ledger        *ledger.Ledger
	Orders        orderdomain.Service
	Subscriptions subscriptiondomain.Service
	Refunds       refunddomain.Service
	Audit         auditdomain.Service
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log           *zap.Logger
	adapters      *adapters.Registry
	ledger        *ledger.Ledger
	orders        orderdomain.Service
	subscriptions subscriptiondomain.Service
	refunds       refunddomain.Service
	audit         auditdomain.Service
	metrics       *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		log:           p.Log.Named("payment.webhook"),
		adapters:      p.Adapters,
		ledger:        p.Ledger,
		orders:        p.Orders,
		subscriptions: p.Subscriptions,
		refunds:       p.Refunds,
		audit:         p.Audit,
		metrics:       p.Metrics,
	}
}

// Ingest verifies a delivery over the raw body, parses it once and applies
// it through the event ledger. Nothing is written before the signature
// checks out.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.IngestResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.IngestResult{}, paymentdomain.ErrInvalidProvider
	}
	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return paymentdomain.IngestResult{}, err
	}
	log := ctxlogger.WithContext(ctx, s.log).With(zap.String("provider", provider))

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "unknown", outcomeRejected)
		log.Warn("webhook signature rejected", zap.Error(err))
		return paymentdomain.IngestResult{}, err
	}

	env, event, err := adapter.Parse(ctx, payload)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "unknown", outcomeRejected)
		log.Warn("webhook payload rejected", zap.Error(err))
		return paymentdomain.IngestResult{}, err
	}

	res, err := s.ledger.ApplyOnce(ctx, env, s.handlerFor(env, event))
	out := paymentdomain.IngestResult{
		EventID:   env.EventID,
		EventType: env.EventType,
		Duplicate: res.Duplicate,
	}
	return out, err
}

// handlerFor maps a parsed event onto the domain call that applies it. The
// returned handler runs inside the ledger transaction; unhandled event types
// get a nil handler and are only marked processed.
func (s *Service) handlerFor(env paymentdomain.Envelope, event paymentdomain.Event) ledger.Handler {
	switch ev := event.(type) {
	case paymentdomain.PaymentSucceeded:
		return s.audited(env, ev.PaymentIntentID, func(ctx context.Context, tx *gorm.DB) error {
			return s.orders.ApplyPaymentSucceeded(ctx, tx, ev.PaymentIntentID, ev.Amount)
		})
	case paymentdomain.PaymentFailed:
		return s.audited(env, ev.PaymentIntentID, func(ctx context.Context, tx *gorm.DB) error {
			return s.orders.ApplyPaymentFailed(ctx, tx, ev.PaymentIntentID, ev.Failure)
		})
	case paymentdomain.PaymentRequiresAction:
		return s.audited(env, ev.PaymentIntentID, func(ctx context.Context, tx *gorm.DB) error {
			return s.orders.ApplyRequiresAction(ctx, tx, ev.PaymentIntentID)
		})
	case paymentdomain.ChargeRefunded:
		return s.audited(env, ev.ChargeID, func(ctx context.Context, tx *gorm.DB) error {
			return s.refunds.ReconcileChargeRefunded(ctx, tx, ev)
		})
	case paymentdomain.SubscriptionUpdated:
		return s.audited(env, ev.GatewaySubscriptionID, func(ctx context.Context, tx *gorm.DB) error {
			return s.subscriptions.SyncFromGateway(ctx, tx, subscriptiondomain.GatewaySync{
				GatewaySubscriptionID: ev.GatewaySubscriptionID,
				Status:                subscriptiondomain.SubscriptionStatus(ev.Status),
				CurrentPeriodStart:    ev.CurrentPeriodStart,
				CurrentPeriodEnd:      ev.CurrentPeriodEnd,
				CancelAtPeriodEnd:     ev.CancelAtPeriodEnd,
			})
		})
	case paymentdomain.SubscriptionDeleted:
		return s.audited(env, ev.GatewaySubscriptionID, func(ctx context.Context, tx *gorm.DB) error {
			return s.subscriptions.EndFromGateway(ctx, tx, ev.GatewaySubscriptionID, ev.EndedAt)
		})
	default:
		return nil
	}
}

func (s *Service) audited(env paymentdomain.Envelope, reference string, apply ledger.Handler) ledger.Handler {
	return func(ctx context.Context, tx *gorm.DB) error {
		if err := apply(ctx, tx); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.WebhookAppliedV1{
			EventID:   env.EventID,
			Provider:  env.Provider,
			EventType: env.EventType,
			Reference: masking.MaskSecret(reference),
		})
	}
}
