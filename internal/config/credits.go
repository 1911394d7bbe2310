package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CreditConfig is the operator-tunable part of credit metering.
type CreditConfig struct {
	TrialGrant int64          `mapstructure:"trialGrant"`
	Purchase   PurchasePolicy `mapstructure:"purchase"`
	Costs      []ActionCost   `mapstructure:"costs"`
}

type PurchasePolicy struct {
	MinCredits        int64  `mapstructure:"minCredits"`
	MaxCredits        int64  `mapstructure:"maxCredits"`
	CentsPer100Credit int64  `mapstructure:"centsPer100Credits"`
	Currency          string `mapstructure:"currency"`
}

// ActionCost seeds credit_costs rows that do not exist yet.
type ActionCost struct {
	ActionType  string `mapstructure:"actionType"`
	Credits     int64  `mapstructure:"credits"`
	Description string `mapstructure:"description"`
}

func DefaultCreditConfig() CreditConfig {
	return CreditConfig{
		TrialGrant: 1000,
		Purchase: PurchasePolicy{
			MinCredits:        100,
			MaxCredits:        1_000_000,
			CentsPer100Credit: 100,
			Currency:          "USD",
		},
		Costs: []ActionCost{
			{ActionType: "google_search", Credits: 10, Description: "Google Places search"},
			{ActionType: "seo_analysis", Credits: 20, Description: "SEO analysis of a website"},
			{ActionType: "ai_proposal", Credits: 50, Description: "AI generated proposal"},
			{ActionType: "ai_email", Credits: 20, Description: "AI generated email"},
			{ActionType: "ai_follow_up", Credits: 15, Description: "AI generated follow-up email"},
			{ActionType: "ai_custom", Credits: 30, Description: "AI custom prompt"},
		},
	}
}

type CreditConfigHolder struct {
	current atomic.Value // holds CreditConfig
}

// NewStaticCreditConfigHolder wraps a fixed config, mostly for tests.
func NewStaticCreditConfigHolder(cfg CreditConfig) *CreditConfigHolder {
	holder := &CreditConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewCreditConfigHolder(log *zap.Logger) (*CreditConfigHolder, error) {
	log = log.Named("credit-config")
	v := viper.New()

	v.SetConfigName("credits")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/leadforge/config")
	v.AddConfigPath("/etc/leadforge")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEADFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCreditConfig()
	v.SetDefault("credits.trialGrant", defaults.TrialGrant)
	v.SetDefault("credits.purchase.minCredits", defaults.Purchase.MinCredits)
	v.SetDefault("credits.purchase.maxCredits", defaults.Purchase.MaxCredits)
	v.SetDefault("credits.purchase.centsPer100Credits", defaults.Purchase.CentsPer100Credit)
	v.SetDefault("credits.purchase.currency", defaults.Purchase.Currency)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodeCreditConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticCreditConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeCreditConfig(v)
		if err != nil {
			log.Warn("invalid credit config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("credit config reloaded",
			zap.String("file", e.Name),
			zap.Int64("trial_grant", updated.TrialGrant),
			zap.Int("costs", len(updated.Costs)),
		)
	})

	return holder, nil
}

func (h *CreditConfigHolder) Get() CreditConfig {
	return h.current.Load().(CreditConfig)
}

func decodeCreditConfig(v *viper.Viper) (CreditConfig, error) {
	var cfg CreditConfig
	if err := v.UnmarshalKey("credits", &cfg); err != nil {
		return CreditConfig{}, err
	}
	if len(cfg.Costs) == 0 {
		cfg.Costs = DefaultCreditConfig().Costs
	}
	if err := validateCreditConfig(cfg); err != nil {
		return CreditConfig{}, err
	}
	return cfg, nil
}

func validateCreditConfig(cfg CreditConfig) error {
	if cfg.TrialGrant < 0 {
		return errors.New("credits.trialGrant cannot be negative")
	}
	if cfg.Purchase.MinCredits <= 0 {
		return errors.New("credits.purchase.minCredits must be positive")
	}
	if cfg.Purchase.CentsPer100Credit <= 0 {
		return errors.New("credits.purchase.centsPer100Credits must be positive")
	}
	if cfg.Purchase.MaxCredits < cfg.Purchase.MinCredits {
		return errors.New("credits.purchase.maxCredits must not be below minCredits")
	}
	// the largest purchase must still price without int64 overflow
	if cfg.Purchase.MaxCredits > (math.MaxInt64-99)/cfg.Purchase.CentsPer100Credit {
		return errors.New("credits.purchase.maxCredits is too large for the unit price")
	}
	if strings.TrimSpace(cfg.Purchase.Currency) == "" {
		return errors.New("credits.purchase.currency cannot be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Costs))
	for _, cost := range cfg.Costs {
		actionType := strings.TrimSpace(cost.ActionType)
		if actionType == "" {
			return errors.New("credits.costs actionType cannot be empty")
		}
		if cost.Credits <= 0 {
			return fmt.Errorf("credits.costs %s must cost at least one credit", actionType)
		}
		if _, ok := seen[actionType]; ok {
			return fmt.Errorf("credits.costs %s is declared twice", actionType)
		}
		seen[actionType] = struct{}{}
	}
	return nil
}
