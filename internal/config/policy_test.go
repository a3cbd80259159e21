package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticPolicyHolderAppliesDefaults(t *testing.T) {
	holder := NewStaticPolicyConfigHolder(PolicyConfig{})

	cfg := holder.Get()
	assert.Equal(t, 30, cfg.RefundWindowDays)
	assert.Equal(t, 2*time.Minute, cfg.Webhook.ClaimTTL)
	assert.NotNil(t, cfg.Retry)
}

func TestNilPolicyHolderReturnsDefaults(t *testing.T) {
	var holder *PolicyConfigHolder
	assert.Equal(t, DefaultPolicyConfig().RefundWindowDays, holder.Get().RefundWindowDays)
}

func TestValidatePolicyConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     PolicyConfig
		wantErr bool
	}{
		{name: "defaults", cfg: DefaultPolicyConfig()},
		{name: "negative window", cfg: PolicyConfig{RefundWindowDays: -1}, wantErr: true},
		{
			name: "base above max",
			cfg: PolicyConfig{Retry: map[string]RetryPolicyConfig{
				"network_error": {MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Second},
			}},
			wantErr: true,
		},
		{
			name: "shrinking multiplier",
			cfg: PolicyConfig{Retry: map[string]RetryPolicyConfig{
				"network_error": {MaxAttempts: 3, Multiplier: 0.5},
			}},
			wantErr: true,
		},
		{
			name: "valid override",
			cfg: PolicyConfig{Retry: map[string]RetryPolicyConfig{
				"insufficient_funds": {MaxAttempts: 2, BaseDelay: time.Hour, MaxDelay: 48 * time.Hour, Multiplier: 2},
			}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validatePolicyConfig(tc.cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitList(" a:9092, ,b:9092 "))
	assert.Empty(t, splitList(""))
}
