package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	"go.uber.org/fx"
)

// Policy bounds the retries for one error kind.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultPolicies returns the built-in table. Kinds missing here never retry.
func DefaultPolicies() map[paymenterror.Kind]Policy {
	return map[paymenterror.Kind]Policy{
		paymenterror.KindNetworkError:       {MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, Jitter: true},
		paymenterror.KindGatewayUnavailable: {MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: time.Minute, Multiplier: 2, Jitter: true},
		paymenterror.KindProcessingError:    {MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, Jitter: true},
		paymenterror.KindStorageError:       {MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 15 * time.Second, Multiplier: 2, Jitter: true},
		paymenterror.KindWebhookError:       {MaxAttempts: 5, BaseDelay: 5 * time.Second, MaxDelay: 5 * time.Minute, Multiplier: 2, Jitter: true},
		paymenterror.KindInsufficientFunds:  {MaxAttempts: 4, BaseDelay: 24 * time.Hour, MaxDelay: 7 * 24 * time.Hour, Multiplier: 2, Jitter: false},
	}
}

// Decision is the outcome of NextDelay. When Retry is false the caller stops.
type Decision struct {
	Retry   bool
	Delay   time.Duration
	Attempt int
}

func stop(attempt int) Decision { return Decision{Attempt: attempt} }

type SchedulerParams struct {
	fx.In

	Policy *config.PolicyConfigHolder `optional:"true"`
}

// Scheduler computes retry delays. Policy overrides are read on every call so
// a reloaded policy.yml applies to the next decision.
type Scheduler struct {
	defaults map[paymenterror.Kind]Policy
	holder   *config.PolicyConfigHolder

	mu  sync.Mutex
	rnd *rand.Rand
}

type Option func(*Scheduler)

// WithRand injects the jitter source.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.rnd = r
		}
	}
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return New(p.Policy)
}

func New(holder *config.PolicyConfigHolder, opts ...Option) *Scheduler {
	s := &Scheduler{
		defaults: DefaultPolicies(),
		holder:   holder,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PolicyFor returns the effective policy and whether kind retries at all.
func (s *Scheduler) PolicyFor(kind paymenterror.Kind) (Policy, bool) {
	if !kind.Retryable() {
		return Policy{}, false
	}
	p, ok := s.defaults[kind]
	if !ok {
		return Policy{}, false
	}
	if s.holder != nil {
		if override, found := s.holder.Get().Retry[string(kind)]; found {
			p = applyOverride(p, override)
		}
	}
	return p, p.MaxAttempts > 0
}

// NextDelay decides whether attempt n (1-based) may run and how long to wait
// before it. Attempt 1 never waits.
func (s *Scheduler) NextDelay(kind paymenterror.Kind, attempt int) Decision {
	if attempt < 1 {
		return stop(attempt)
	}
	p, ok := s.PolicyFor(kind)
	if !ok || attempt > p.MaxAttempts {
		return stop(attempt)
	}
	if attempt == 1 {
		return Decision{Retry: true, Attempt: 1}
	}

	delay := backoff(p, attempt)
	if p.Jitter {
		delay = time.Duration(float64(delay) * s.jitterFactor())
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	if delay < 0 {
		delay = 0
	}
	return Decision{Retry: true, Delay: delay, Attempt: attempt}
}

// Decide is NextDelay for a classified failure. A failure flagged as not
// retryable stops even when its kind has a retry policy.
func (s *Scheduler) Decide(failure *paymenterror.PaymentError, attempt int) Decision {
	if failure == nil || !failure.Retryable {
		return stop(attempt)
	}
	return s.NextDelay(failure.Kind, attempt)
}

func backoff(p Policy, attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	raw := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-2))
	if math.IsInf(raw, 0) || raw >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(raw)
}

// jitterFactor is uniform in [0.75, 1.25).
func (s *Scheduler) jitterFactor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return 0.75 + s.rnd.Float64()*0.5
}

func applyOverride(p Policy, o config.RetryPolicyConfig) Policy {
	if o.MaxAttempts > 0 {
		p.MaxAttempts = o.MaxAttempts
	}
	if o.BaseDelay > 0 {
		p.BaseDelay = o.BaseDelay
	}
	if o.MaxDelay > 0 {
		p.MaxDelay = o.MaxDelay
	}
	if o.Multiplier >= 1 {
		p.Multiplier = o.Multiplier
	}
	if o.Jitter != nil {
		p.Jitter = *o.Jitter
	}
	if p.BaseDelay > p.MaxDelay {
		p.BaseDelay = p.MaxDelay
	}
	return p
}
