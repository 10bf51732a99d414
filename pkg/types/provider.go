package types

import "time"

// ProviderStatus is the LLM Provider Manager's health state for one provider
// (spec §3).
type ProviderStatus string

const (
	ProviderAvailable   ProviderStatus = "AVAILABLE"
	ProviderRateLimited ProviderStatus = "RATE_LIMITED"
	ProviderError       ProviderStatus = "ERROR"
	ProviderUnavailable ProviderStatus = "UNAVAILABLE"
)

// ProviderConfig is one configured LLM endpoint, mutated by the Provider
// Manager under its lock (spec §3). The static parts (name, keys, models,
// priority, budgets) come from types.ProviderKeyConfig at startup; the
// mutable counters live here because they change on every call.
type ProviderConfig struct {
	Name     string
	APIKeys  []string
	Models   []string
	Priority int

	RateLimitPerMinute int
	RateLimitPerDay    int
	BaseURL            string

	Status         ProviderStatus
	LastError      string
	CooldownUntil  time.Time

	MinuteWindowStart time.Time
	MinuteCount       int
	DayCount          int
	TokensUsed        int64

	KeyCursor   int // round-robin cursor over APIKeys
	ModelCursor int // round-robin cursor over Models

	RecentUsage []time.Time // rolling recent-call timestamps, for diagnostics
}
