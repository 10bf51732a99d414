package types

import "time"

// Config is the single configuration record read once at startup (spec §6,
// Configuration). Loaded by internal/config via viper.
type Config struct {
	Environment string `mapstructure:"environment"` // "development" or "production"; governs zap encoding

	Instrument InstrumentConfig `mapstructure:"instrument"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Features   FeatureFlags     `mapstructure:"features"`
	Server     ServerConfig     `mapstructure:"server"`
}

// InstrumentConfig names the symbol/venue/data-source this run trades.
type InstrumentConfig struct {
	Symbol       string `mapstructure:"symbol"`
	Venue        string `mapstructure:"venue"`
	Exchange     string `mapstructure:"exchange"`
	DataSource   string `mapstructure:"data_source"`
	ExplicitToken string `mapstructure:"explicit_token,omitempty"`
}

// ProviderKeyConfig configures one LLM provider endpoint.
type ProviderKeyConfig struct {
	Name            string   `mapstructure:"name"`
	APIKeys         []string `mapstructure:"api_keys"`
	Models          []string `mapstructure:"models"`
	Priority        int      `mapstructure:"priority"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
	RateLimitPerDay int      `mapstructure:"rate_limit_per_day"`
	BaseURL         string   `mapstructure:"base_url"`
}

// LLMConfig is the LLM section of the configuration record (spec §6).
type LLMConfig struct {
	Providers          []ProviderKeyConfig `mapstructure:"providers"`
	SelectionStrategy  string              `mapstructure:"selection_strategy"` // random|round_robin|weighted|hash|single
	SingleProviderName string              `mapstructure:"single_provider_name,omitempty"`
	MaxConcurrency     int                 `mapstructure:"max_concurrency"`
	SoftThrottleFactor float64             `mapstructure:"soft_throttle_factor"`
	HealthCheckInterval time.Duration      `mapstructure:"health_check_interval"`
}

// SchedulerConfig is the Scheduler section (spec §4.7/§6); zero values are
// overridden by the instrument profile's optimal cadence when unset.
type SchedulerConfig struct {
	StrategicInterval time.Duration `mapstructure:"strategic_interval"`
	TacticalInterval  time.Duration `mapstructure:"tactical_interval"`
	ExecutionInterval time.Duration `mapstructure:"execution_interval"`
	StrategicDeadline time.Duration `mapstructure:"strategic_deadline"`

	// ReviewEnabled turns on the post-hoc Review Agent critique after each
	// Strategic cycle persists its decision record. Off by default.
	ReviewEnabled bool `mapstructure:"review_enabled"`
}

// RiskConfig holds default risk parameters per risk-profile tag.
type RiskConfig struct {
	AggressiveRiskPct   float64 `mapstructure:"aggressive_risk_pct"`
	ConservativeRiskPct float64 `mapstructure:"conservative_risk_pct"`
	NeutralRiskPct      float64 `mapstructure:"neutral_risk_pct"`
}

// FeatureFlags are the Configuration record's feature flags (spec §6).
type FeatureFlags struct {
	JSONValidationRetry   bool `mapstructure:"json_validation_retry"`
	CircuitBreaker        bool `mapstructure:"circuit_breaker"`
	HealthMonitoring      bool `mapstructure:"health_monitoring"`
	TokenQuotaEnforcement bool `mapstructure:"token_quota_enforcement"`
}

// ServerConfig configures the minimal operational HTTP surface (§2.1 of
// SPEC_FULL.md) — health/metrics/recent-decisions, not a dashboard.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	EnableMetrics  bool          `mapstructure:"enable_metrics"`
}
