package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PolicyConfig carries the business policy knobs that operators tune without a deploy.
type PolicyConfig struct {
	RefundWindowDays int                          `mapstructure:"refundWindowDays"`
	Retry            map[string]RetryPolicyConfig `mapstructure:"retry"`
	Webhook          WebhookPolicyConfig          `mapstructure:"webhook"`
}

// RetryPolicyConfig overrides the built-in retry policy for a single error kind.
type RetryPolicyConfig struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	BaseDelay   time.Duration `mapstructure:"baseDelay"`
	MaxDelay    time.Duration `mapstructure:"maxDelay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      *bool         `mapstructure:"jitter"`
}

type WebhookPolicyConfig struct {
	ClaimTTL time.Duration `mapstructure:"claimTTL"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		RefundWindowDays: 30,
		Retry:            map[string]RetryPolicyConfig{},
		Webhook: WebhookPolicyConfig{
			ClaimTTL: 2 * time.Minute,
		},
	}
}

type PolicyConfigHolder struct {
	current atomic.Value // holds PolicyConfig
}

// NewStaticPolicyConfigHolder wraps a fixed policy; used by tests and tooling.
func NewStaticPolicyConfigHolder(cfg PolicyConfig) *PolicyConfigHolder {
	holder := &PolicyConfigHolder{}
	holder.current.Store(withPolicyDefaults(cfg))
	return holder
}

func NewPolicyConfigHolder(log *zap.Logger) (*PolicyConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/paycore/config")
	v.AddConfigPath("/etc/paycore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicyConfig()
	v.SetDefault("policy.refundWindowDays", defaults.RefundWindowDays)
	v.SetDefault("policy.webhook.claimTTL", defaults.Webhook.ClaimTTL)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
	}

	var cfg PolicyConfig
	if err := v.UnmarshalKey("policy", &cfg); err != nil {
		return nil, err
	}
	cfg = withPolicyDefaults(cfg)
	if err := validatePolicyConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PolicyConfigHolder{}
	holder.current.Store(cfg)

	if watch {
		log = log.Named("config.policy")
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated PolicyConfig
			if err := v.UnmarshalKey("policy", &updated); err != nil {
				log.Warn("policy reload failed", zap.Error(err))
				return
			}
			updated = withPolicyDefaults(updated)
			if err := validatePolicyConfig(updated); err != nil {
				log.Warn("invalid policy ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("policy reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *PolicyConfigHolder) Get() PolicyConfig {
	if h == nil {
		return DefaultPolicyConfig()
	}
	cfg, ok := h.current.Load().(PolicyConfig)
	if !ok {
		return DefaultPolicyConfig()
	}
	return cfg
}

func withPolicyDefaults(cfg PolicyConfig) PolicyConfig {
	defaults := DefaultPolicyConfig()
	if cfg.RefundWindowDays == 0 {
		cfg.RefundWindowDays = defaults.RefundWindowDays
	}
	if cfg.Webhook.ClaimTTL <= 0 {
		cfg.Webhook.ClaimTTL = defaults.Webhook.ClaimTTL
	}
	if cfg.Retry == nil {
		cfg.Retry = map[string]RetryPolicyConfig{}
	}
	return cfg
}

func validatePolicyConfig(cfg PolicyConfig) error {
	if cfg.RefundWindowDays < 0 {
		return errors.New("policy.refundWindowDays cannot be negative")
	}
	for kind, rp := range cfg.Retry {
		if rp.MaxAttempts < 0 {
			return fmt.Errorf("policy.retry.%s.maxAttempts cannot be negative", kind)
		}
		if rp.BaseDelay < 0 || rp.MaxDelay < 0 {
			return fmt.Errorf("policy.retry.%s delays cannot be negative", kind)
		}
		if rp.MaxDelay > 0 && rp.BaseDelay > rp.MaxDelay {
			return fmt.Errorf("policy.retry.%s.baseDelay exceeds maxDelay", kind)
		}
		if rp.Multiplier != 0 && rp.Multiplier < 1 {
			return fmt.Errorf("policy.retry.%s.multiplier must be >= 1", kind)
		}
	}
	return nil
}
