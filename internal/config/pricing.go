package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TierRates defines how much usage one credit buys on a plan tier.
type TierRates struct {
	SecondsPerCredit    int64 `mapstructure:"secondsPerCredit"`
	CharactersPerCredit int64 `mapstructure:"charactersPerCredit"`
}

// PlanGrant maps a provider plan id to a tier and its periodic credit grant.
type PlanGrant struct {
	Tier            string `mapstructure:"tier"`
	GrantCents      int64  `mapstructure:"grantCents"`
	RenewGrantCents int64  `mapstructure:"renewGrantCents"`
}

// PricingConfig is the rate card for cost calculation and payment effects.
type PricingConfig struct {
	Tiers  map[string]TierRates `mapstructure:"tiers"`
	AddOns map[string]int64     `mapstructure:"addOns"`
	Plans  map[string]PlanGrant `mapstructure:"plans"`
	Packs  map[string]int64     `mapstructure:"packs"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Tiers: map[string]TierRates{
			"free":    {SecondsPerCredit: 3600, CharactersPerCredit: 15000},
			"starter": {SecondsPerCredit: 5400, CharactersPerCredit: 25000},
			"pro":     {SecondsPerCredit: 7200, CharactersPerCredit: 40000},
			"scale":   {SecondsPerCredit: 10800, CharactersPerCredit: 60000},
		},
		AddOns: map[string]int64{
			"speaker_labels": 25,
			"summary":        50,
			"translation":    100,
		},
		Plans: map[string]PlanGrant{
			"plan_starter": {Tier: "starter", GrantCents: 2000, RenewGrantCents: 2000},
			"plan_pro":     {Tier: "pro", GrantCents: 6000, RenewGrantCents: 6000},
			"plan_scale":   {Tier: "scale", GrantCents: 20000, RenewGrantCents: 20000},
		},
		Packs: map[string]int64{
			"pack_small":  1000,
			"pack_medium": 3000,
			"pack_large":  10000,
		},
	}
}

// PricingHolder serves the current rate card and hot-reloads it from disk.
type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingHolder(log *zap.Logger) (*PricingHolder, error) {
	log = log.Named("config.pricing")

	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/creditcore/config")
	v.AddConfigPath("/etc/creditcore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDITCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &PricingHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultPricingConfig())
		return holder, nil
	}

	cfg, err := unmarshalPricing(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.OnConfigChange(func(fsnotify.Event) {
		holder.reload(v, log)
	})
	v.WatchConfig()

	return holder, nil
}

// reload swaps in the updated rate card; a card that fails to decode leaves
// the current one in place.
func (h *PricingHolder) reload(v *viper.Viper, log *zap.Logger) {
	updated, err := unmarshalPricing(v)
	if err != nil {
		log.Warn("pricing config reload failed", zap.Error(err))
		return
	}
	h.current.Store(updated)
}

// NewStaticPricingHolder returns a holder pinned to the given rate card.
func NewStaticPricingHolder(cfg PricingConfig) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(normalizePricing(cfg))
	return holder
}

func (h *PricingHolder) Current() PricingConfig {
	cfg, _ := h.current.Load().(PricingConfig)
	return cfg
}

func unmarshalPricing(v *viper.Viper) (PricingConfig, error) {
	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return PricingConfig{}, err
	}
	return normalizePricing(cfg), nil
}

func normalizePricing(cfg PricingConfig) PricingConfig {
	defaults := DefaultPricingConfig()
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = defaults.Tiers
	}
	if len(cfg.AddOns) == 0 {
		cfg.AddOns = defaults.AddOns
	}
	if len(cfg.Plans) == 0 {
		cfg.Plans = defaults.Plans
	}
	if len(cfg.Packs) == 0 {
		cfg.Packs = defaults.Packs
	}
	return cfg
}
