package config

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultCreditConfigIsValid(t *testing.T) {
	cfg := DefaultCreditConfig()
	assert.NoError(t, validateCreditConfig(cfg))
	assert.Equal(t, int64(1000), cfg.TrialGrant)
}

func TestValidateCreditConfigRejectsBadCosts(t *testing.T) {
	cases := map[string]CreditConfig{
		"zero cost": func() CreditConfig {
			cfg := DefaultCreditConfig()
			cfg.Costs = []ActionCost{{ActionType: "google_search", Credits: 0}}
			return cfg
		}(),
		"duplicate": func() CreditConfig {
			cfg := DefaultCreditConfig()
			cfg.Costs = []ActionCost{
				{ActionType: "ai_email", Credits: 20},
				{ActionType: "ai_email", Credits: 25},
			}
			return cfg
		}(),
		"negative trial": func() CreditConfig {
			cfg := DefaultCreditConfig()
			cfg.TrialGrant = -1
			return cfg
		}(),
		"maximum below minimum": func() CreditConfig {
			cfg := DefaultCreditConfig()
			cfg.Purchase.MaxCredits = cfg.Purchase.MinCredits - 1
			return cfg
		}(),
		"maximum overflows price": func() CreditConfig {
			cfg := DefaultCreditConfig()
			cfg.Purchase.MaxCredits = math.MaxInt64 / 50
			return cfg
		}(),
		"no purchase minimum": func() CreditConfig {
			cfg := DefaultCreditConfig()
			cfg.Purchase.MinCredits = 0
			return cfg
		}(),
	}

	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, validateCreditConfig(cfg))
		})
	}
}

func TestStaticHolderReturnsStoredConfig(t *testing.T) {
	cfg := DefaultCreditConfig()
	cfg.TrialGrant = 250
	holder := NewStaticCreditConfigHolder(cfg)
	assert.Equal(t, int64(250), holder.Get().TrialGrant)
}
