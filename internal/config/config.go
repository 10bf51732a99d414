// Package config loads the decision engine's configuration from a YAML file
// with ATLAS_*-prefixed environment variable overrides, grounded on
// other_examples' polymarket-mm internal/config/config.go Load/Validate
// shape (translated from its POLY_* market-maker fields to this engine's
// instrument/llm/scheduler/risk sections).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

// Load reads configuration from path (YAML), applying ATLAS_ environment
// overrides on top (e.g. ATLAS_LLM_MAX_CONCURRENCY, ATLAS_INSTRUMENT_SYMBOL).
func Load(path string) (*types.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("llm.selection_strategy", "random")
	v.SetDefault("llm.max_concurrency", 3)
	v.SetDefault("llm.soft_throttle_factor", 0.8)
	v.SetDefault("llm.health_check_interval", 60*time.Second)
	v.SetDefault("scheduler.strategic_interval", 15*time.Minute)
	v.SetDefault("scheduler.tactical_interval", 3*time.Minute)
	v.SetDefault("scheduler.execution_interval", 100*time.Millisecond)
	v.SetDefault("scheduler.strategic_deadline", 5*time.Minute)
	v.SetDefault("risk.aggressive_risk_pct", 2.0)
	v.SetDefault("risk.conservative_risk_pct", 0.5)
	v.SetDefault("risk.neutral_risk_pct", 1.0)
	v.SetDefault("features.json_validation_retry", true)
	v.SetDefault("features.circuit_breaker", true)
	v.SetDefault("features.health_monitoring", true)
	v.SetDefault("features.token_quota_enforcement", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.enable_metrics", true)
}

// Validate checks required fields and value ranges (spec §6).
func Validate(cfg *types.Config) error {
	if cfg.Instrument.Symbol == "" {
		return fmt.Errorf("instrument.symbol is required")
	}
	if cfg.Instrument.Venue == "" {
		return fmt.Errorf("instrument.venue is required")
	}
	if cfg.Instrument.DataSource == "" {
		return fmt.Errorf("instrument.data_source is required")
	}
	if len(cfg.LLM.Providers) == 0 {
		return fmt.Errorf("llm.providers must configure at least one provider")
	}
	for _, p := range cfg.LLM.Providers {
		if p.Name == "" {
			return fmt.Errorf("llm.providers: every provider requires a name")
		}
		if len(p.APIKeys) == 0 {
			return fmt.Errorf("llm.providers.%s: at least one api key is required", p.Name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("llm.providers.%s: at least one model is required", p.Name)
		}
	}
	switch cfg.LLM.SelectionStrategy {
	case "random", "round_robin", "weighted", "hash", "single":
	default:
		return fmt.Errorf("llm.selection_strategy must be one of random|round_robin|weighted|hash|single, got %q", cfg.LLM.SelectionStrategy)
	}
	if cfg.LLM.SelectionStrategy == "single" && cfg.LLM.SingleProviderName == "" {
		return fmt.Errorf("llm.single_provider_name is required when selection_strategy is single")
	}
	if cfg.Scheduler.StrategicDeadline > cfg.Scheduler.StrategicInterval {
		return fmt.Errorf("scheduler.strategic_deadline must not exceed scheduler.strategic_interval")
	}
	return nil
}
