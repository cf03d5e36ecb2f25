package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PolicyConfig carries the operator-tunable credit policy: rolling-window spend
// caps per consumption category and the low-credit warning threshold. A cap of
// zero disables the window for that category.
type PolicyConfig struct {
	LimitWindowHours   int                 `mapstructure:"limitWindowHours"`
	LimitCaps          map[string]int64    `mapstructure:"limitCaps"`
	LowCreditThreshold int64               `mapstructure:"lowCreditThreshold"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		LimitWindowHours: 24,
		LimitCaps: map[string]int64{
			"purchase": 500,
			"usage":    1_000,
			"run":      1_000,
		},
		LowCreditThreshold: 100,
	}
}

// CapFor returns the rolling-window cap configured for a category, 0 if uncapped.
func (c PolicyConfig) CapFor(category string) int64 {
	return c.LimitCaps[strings.ToLower(strings.TrimSpace(category))]
}

// PolicyHolder exposes the current policy and hot-reloads it on file change.
type PolicyHolder struct {
	current atomic.Value // holds PolicyConfig
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("creditflow")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/creditflow/config")
	v.AddConfigPath("/etc/creditflow")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDITFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicyConfig()
	v.SetDefault("policy.limitWindowHours", defaults.LimitWindowHours)
	v.SetDefault("policy.limitCaps", defaults.LimitCaps)
	v.SetDefault("policy.lowCreditThreshold", defaults.LowCreditThreshold)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg PolicyConfig
	if err := v.UnmarshalKey("policy", &cfg); err != nil {
		return nil, err
	}
	if err := validatePolicyConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PolicyConfig
		if err := v.UnmarshalKey("policy", &updated); err != nil {
			log.Printf("[policy-config] reload failed: %v", err)
			return
		}
		if err := validatePolicyConfig(updated); err != nil {
			log.Printf("[policy-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[policy-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPolicyHolder returns a holder pinned to cfg, for tests.
func NewStaticPolicyHolder(cfg PolicyConfig) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PolicyHolder) Get() PolicyConfig {
	return h.current.Load().(PolicyConfig)
}

func validatePolicyConfig(cfg PolicyConfig) error {
	if cfg.LimitWindowHours <= 0 {
		return errors.New("policy.limitWindowHours must be positive")
	}
	if cfg.LowCreditThreshold < 0 {
		return errors.New("policy.lowCreditThreshold cannot be negative")
	}
	for category, cap := range cfg.LimitCaps {
		if cap < 0 {
			return errors.New("policy.limitCaps." + category + " cannot be negative")
		}
	}
	return nil
}
