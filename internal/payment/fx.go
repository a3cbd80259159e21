package payment

import (
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/payment/adapters"
	"github.com/smallbiznis/paycore/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/payment/gateway"
	"github.com/smallbiznis/paycore/internal/payment/ledger"
	"github.com/smallbiznis/paycore/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(NewRegistry),
	fx.Provide(NewGateway),
	fx.Provide(ledger.New),
	fx.Provide(webhook.NewService),
)

// NewRegistry registers the Stripe adapter when a webhook secret is set.
// Without one every delivery is answered with provider_not_found.
func NewRegistry(cfg config.Config, clk clock.Clock, log *zap.Logger) (*adapters.Registry, error) {
	if cfg.StripeWebhookSecret == "" {
		log.Warn("stripe webhook secret not set, webhook ingestion disabled")
		return adapters.NewRegistry(), nil
	}
	adapter, err := stripe.NewAdapter(stripe.Config{
		WebhookSecret: cfg.StripeWebhookSecret,
		Tolerance:     cfg.WebhookTolerance,
		Clock:         clk,
	})
	if err != nil {
		return nil, err
	}
	return adapters.NewRegistry(adapter), nil
}

// NewGateway returns the Stripe gateway. Production refuses to start without
// a secret key.
func NewGateway(cfg config.Config, log *zap.Logger) (gateway.Gateway, error) {
	if cfg.StripeSecretKey == "" {
		if cfg.IsProduction() {
			return nil, paymentdomain.ErrGatewayNotConfigured
		}
		log.Warn("stripe secret key not set, refunds will fail as gateway_unavailable")
		return gateway.Unconfigured{}, nil
	}
	gw, err := gateway.NewStripeGateway(cfg.StripeSecretKey, log)
	if err != nil {
		return nil, err
	}
	return gw, nil
}
