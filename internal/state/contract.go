// Package state defines the shared DecisionState contract that every
// analysis/debate/risk/execution agent reads from and writes back into, and
// the reducer that applies each agent's partial update under
// single-writer-per-field discipline (spec §3/§4.2/§9).
package state

import (
	"context"
	"time"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

// PartialUpdate is what an Agent hands back to the graph after processing:
// the fields it is allowed to own, plus an optional human-readable
// explanation that the reducer appends to DecisionState's commutative
// explanation list (spec §9: single-writer-per-field + append-only log).
type PartialUpdate struct {
	AgentName   string
	Output      types.AgentOutput // nil for agents that don't write a named output slot (e.g. portfolio_manager)
	Explanation string
	Incomplete  bool // set when the structured JSON failed the completeness gate (spec §4.2)

	// BullThesis/BearThesis/... are set only by the bull/bear debate agents;
	// left zero-valued by every other agent.
	BullThesis     *string
	BullConfidence *float64
	BearThesis     *string
	BearConfidence *float64

	// FinalDecision is set only by the Portfolio Manager: it owns
	// DecisionState's scalar decision fields directly rather than a named
	// AgentOutput slot, since those fields (FinalSignal, PositionSize, ...)
	// are read by downstream agents by name, not looked up through a map.
	FinalDecision *FinalDecisionUpdate

	// Execution is set only by the Execution agent, after the Portfolio
	// Manager's decision has been placed with the broker.
	Execution *ExecutionUpdate
}

// FinalDecisionUpdate carries the Portfolio Manager's synthesis of every
// other agent's output into DecisionState's scalar decision fields (spec
// §4.4). AuditTrail is merged into DecisionState.DecisionAuditTrail rather
// than replacing it, since the Execution agent appends to the same map.
type FinalDecisionUpdate struct {
	Signal       types.SignalType
	TrendSignal  types.TrendSignal
	PositionSize float64
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	AuditTrail   map[string]any
}

// ExecutionUpdate carries the Execution agent's broker fill back into
// DecisionState (spec §4.6).
type ExecutionUpdate struct {
	OrderID            string
	FilledPrice        float64
	FilledQuantity     float64
	ExecutionTimestamp time.Time
	TradeID            string
}

// Agent is the contract every node in the Orchestration Graph implements
// (spec §4.2), grounded on the teacher's SignalSource interface shape
// (internal/signals/aggregator.go) generalized from "fetch a signal" to
// "read the shared state, produce a partial update".
type Agent interface {
	// Name identifies the agent's slot in DecisionState (spec §3's
	// update_agent_output dispatch, e.g. "technical", "bull", "aggressive_risk").
	Name() string

	// SystemPrompt returns the agent's LLM system prompt, typically sourced
	// from the versioned Prompt Store (SPEC_FULL.md §4.8).
	SystemPrompt() string

	// Process reads state and returns the partial update this agent owns.
	// Implementations must not mutate state directly — the reducer is the
	// only writer (spec §9's single-writer-per-field discipline).
	Process(ctx context.Context, state *types.DecisionState) (PartialUpdate, error)
}
