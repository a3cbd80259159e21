package retry

import (
	"math/rand"
	"testing"
	"time"

	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/paymenterror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noJitter() *config.PolicyConfigHolder {
	off := false
	cfg := config.DefaultPolicyConfig()
	for _, kind := range []paymenterror.Kind{
		paymenterror.KindNetworkError,
		paymenterror.KindGatewayUnavailable,
		paymenterror.KindProcessingError,
		paymenterror.KindStorageError,
		paymenterror.KindWebhookError,
	} {
		cfg.Retry[string(kind)] = config.RetryPolicyConfig{Jitter: &off}
	}
	return config.NewStaticPolicyConfigHolder(cfg)
}

func TestNextDelayExponentialWithoutJitter(t *testing.T) {
	s := New(noJitter())

	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, expected := range want {
		d := s.NextDelay(paymenterror.KindNetworkError, i+1)
		require.True(t, d.Retry, "attempt %d", i+1)
		assert.Equal(t, expected, d.Delay, "attempt %d", i+1)
	}
	assert.False(t, s.NextDelay(paymenterror.KindNetworkError, 6).Retry)
}

func TestNextDelayCapsAtMaxDelay(t *testing.T) {
	s := New(noJitter())

	// processing_error: 1s base, 10s cap, 3 attempts
	assert.Equal(t, 2*time.Second, s.NextDelay(paymenterror.KindProcessingError, 3).Delay)

	// webhook_error: 5s * 2^3 = 40s; attempt 5 -> 40s still under 5m
	assert.Equal(t, 40*time.Second, s.NextDelay(paymenterror.KindWebhookError, 5).Delay)

	// insufficient_funds: 24h, 48h, 96h capped at 7d never exceeded
	d := s.NextDelay(paymenterror.KindInsufficientFunds, 4)
	assert.True(t, d.Retry)
	assert.Equal(t, 96*time.Hour, d.Delay)
}

func TestNextDelayStopsForNonRetryableKinds(t *testing.T) {
	s := New(nil)
	for _, kind := range []paymenterror.Kind{
		paymenterror.KindCardDeclined,
		paymenterror.KindExpiredCard,
		paymenterror.KindValidationError,
		paymenterror.KindSubscriptionError,
		paymenterror.Kind("unknown"),
	} {
		assert.False(t, s.NextDelay(kind, 1).Retry, kind)
		assert.False(t, s.NextDelay(kind, 2).Retry, kind)
	}
	assert.False(t, s.NextDelay(paymenterror.KindNetworkError, 0).Retry)
	assert.False(t, s.NextDelay(paymenterror.KindNetworkError, -3).Retry)
}

func TestNextDelayJitterStaysInBand(t *testing.T) {
	s := New(nil, WithRand(rand.New(rand.NewSource(42))))

	for i := 0; i < 200; i++ {
		d := s.NextDelay(paymenterror.KindGatewayUnavailable, 3)
		require.True(t, d.Retry)
		// base 2s * 2 = 4s, jitter in [3s, 5s)
		assert.GreaterOrEqual(t, d.Delay, 3*time.Second)
		assert.Less(t, d.Delay, 5*time.Second)
	}

	for i := 0; i < 200; i++ {
		d := s.NextDelay(paymenterror.KindGatewayUnavailable, 5)
		// 2s * 8 = 16s, jitter never crosses the 60s cap
		assert.LessOrEqual(t, d.Delay, time.Minute)
	}
}

func TestNextDelayIsDeterministicWithSeededRand(t *testing.T) {
	a := New(nil, WithRand(rand.New(rand.NewSource(7))))
	b := New(nil, WithRand(rand.New(rand.NewSource(7))))
	for attempt := 2; attempt <= 5; attempt++ {
		assert.Equal(t,
			a.NextDelay(paymenterror.KindNetworkError, attempt).Delay,
			b.NextDelay(paymenterror.KindNetworkError, attempt).Delay,
		)
	}
}

func TestNextDelayHonorsPolicyOverrides(t *testing.T) {
	off := false
	cfg := config.DefaultPolicyConfig()
	cfg.Retry["network_error"] = config.RetryPolicyConfig{
		MaxAttempts: 2,
		BaseDelay:   10 * time.Second,
		Jitter:      &off,
	}
	// overrides cannot make a terminal kind retryable
	cfg.Retry["card_declined"] = config.RetryPolicyConfig{MaxAttempts: 9}
	s := New(config.NewStaticPolicyConfigHolder(cfg))

	d := s.NextDelay(paymenterror.KindNetworkError, 2)
	assert.True(t, d.Retry)
	assert.Equal(t, 10*time.Second, d.Delay)
	assert.False(t, s.NextDelay(paymenterror.KindNetworkError, 3).Retry)
	assert.False(t, s.NextDelay(paymenterror.KindCardDeclined, 2).Retry)
}

func TestDecideHonorsNonRetryableFailures(t *testing.T) {
	s := New(noJitter())

	transient := paymenterror.New(paymenterror.KindProcessingError, "")
	d := s.Decide(transient, 2)
	assert.True(t, d.Retry)
	assert.Equal(t, time.Second, d.Delay)

	final := paymenterror.New(paymenterror.KindProcessingError, "")
	final.Retryable = false
	assert.False(t, s.Decide(final, 2).Retry)
	assert.False(t, s.Decide(nil, 2).Retry)
}
