package llm

import (
	"strings"
	"time"
)

// FailureKind classifies a provider call failure so the manager can decide
// cooldown/recovery policy without re-parsing error text at every call site
// (spec §4.1 Failure handling). Chosen in place of the source's
// exception-driven control flow (spec §9 design note): the manager loop
// switches on this tag instead of catching typed exceptions.
type FailureKind int

const (
	FailureRateLimit FailureKind = iota
	FailureModelError
	FailureOther
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimit:
		return "rate_limit"
	case FailureModelError:
		return "model_error"
	default:
		return "other"
	}
}

// providerFailure carries the classification and computed cooldown for a
// single failed attempt.
type providerFailure struct {
	Kind          FailureKind
	CooldownUntil time.Time
	Message       string
}

func (f *providerFailure) Error() string { return f.Message }

// OutcomeStatus tags the three-way result of one provider call attempt
// (spec §9: Outcome = Success | RetryableFailure | FatalFailure).
type OutcomeStatus int

const (
	OutcomeSuccess OutcomeStatus = iota
	OutcomeRetryableFailure
	OutcomeFatalFailure
)

// Outcome describes the result of one provider attempt (spec §4.1):
// RetryableFailure means another provider could still succeed; FatalFailure
// means no further attempt can help (all providers exhausted, or the
// caller's request itself is invalid). Manager.Call does not produce
// Outcome values; its attempts return (string, error).
type Outcome struct {
	Status     OutcomeStatus
	Text       string
	TokensUsed int
	Reason     string
}

// IsRateLimitError reports whether err's text mentions a rate limit anywhere
// (for a joined error: whether at least one attempt was rejected as a rate
// limit), so callers (the agents in internal/agents) can
// tell that class of total failure apart from a hard model/other error per
// spec §4.2's agent-contract rule. Call returns a composite, already-joined
// error by the time it reaches a caller, so this is a text match over the
// same vocabulary classifyFailure uses rather than a type assertion.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "rate limit")
}
