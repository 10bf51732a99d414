package state

import (
	"fmt"
	"sync"

	"github.com/atlas-ai/trading-engine/internal/llm"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

// Reducer applies agent PartialUpdates to a single DecisionState under a
// lock, translating the original's single-mutable-Pydantic-object model
// (original_source/agents/state.py::update_agent_output/add_explanation)
// into an explicit Go reducer: the graph's agents run concurrently (spec §4.3
// fan-out), so even though each named field is single-writer, the shared
// slice/map fields (AgentExplanations, IncompleteAgents) need serialization,
// and a doubled write on a named slot is a graph-wiring bug worth catching
// immediately rather than silently overwriting (spec §9).
type Reducer struct {
	mu      sync.Mutex
	state   *types.DecisionState
	written map[string]bool
}

// NewReducer wraps state for reduction. state must already be initialized
// via types.NewDecisionState.
func NewReducer(state *types.DecisionState) *Reducer {
	return &Reducer{state: state, written: make(map[string]bool)}
}

// Apply merges one agent's partial update into the wrapped DecisionState.
// Returns an error if the agent's named slot was already written this run —
// that indicates two nodes in the Orchestration Graph were wired to the same
// slot, not a legitimate concurrent update.
func (r *Reducer) Apply(update PartialUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if update.Output != nil {
		if r.written[update.AgentName] {
			return fmt.Errorf("reducer: agent %q wrote its output slot twice in one run", update.AgentName)
		}
		r.written[update.AgentName] = true
		r.assignOutput(update.AgentName, update.Output)
	}

	if update.BullThesis != nil {
		r.state.BullThesis = *update.BullThesis
	}
	if update.BullConfidence != nil {
		r.state.BullConfidence = *update.BullConfidence
	}
	if update.BearThesis != nil {
		r.state.BearThesis = *update.BearThesis
	}
	if update.BearConfidence != nil {
		r.state.BearConfidence = *update.BearConfidence
	}

	if update.Explanation != "" {
		r.state.AgentExplanations = append(r.state.AgentExplanations, fmt.Sprintf("[%s]: %s", update.AgentName, update.Explanation))
	}

	if update.Incomplete {
		r.state.IncompleteAgents[update.AgentName] = true
	}

	if fd := update.FinalDecision; fd != nil {
		r.state.FinalSignal = fd.Signal
		r.state.TrendSignal = fd.TrendSignal
		r.state.PositionSize = fd.PositionSize
		r.state.EntryPrice = fd.EntryPrice
		r.state.StopLoss = fd.StopLoss
		r.state.TakeProfit = fd.TakeProfit
		for k, v := range fd.AuditTrail {
			r.state.DecisionAuditTrail[k] = v
		}
	}

	if ex := update.Execution; ex != nil {
		r.state.OrderID = ex.OrderID
		r.state.FilledPrice = ex.FilledPrice
		r.state.FilledQuantity = ex.FilledQuantity
		r.state.ExecutionTimestamp = ex.ExecutionTimestamp
		r.state.TradeID = ex.TradeID
	}

	return nil
}

// assignOutput dispatches an agent's output into its named DecisionState
// slot, the direct translation of state.py's update_agent_output if/elif
// chain into a Go switch. Caller holds r.mu.
func (r *Reducer) assignOutput(agentName string, output types.AgentOutput) {
	switch agentName {
	case "fundamental":
		r.state.Fundamental = output
	case "technical":
		r.state.Technical = output
	case "sentiment":
		r.state.Sentiment = output
	case "macro":
		r.state.Macro_ = output
	case "aggressive_risk":
		r.state.AggressiveRisk = output
	case "conservative_risk":
		r.state.ConservativeRisk = output
	case "neutral_risk":
		r.state.NeutralRisk = output
	default:
		// portfolio_manager and execution never set update.Output — they carry
		// FinalDecision/Execution instead (handled in Apply above) — so this
		// branch is unreached for them. An unrecognized name here with a
		// non-nil Output is still a silent no-op rather than a panic, since a
		// typo in a future agent's Name() is easier to debug via a missing
		// field in DecisionState than a reducer crash.
	}
}

// State returns the underlying DecisionState. Callers must treat it as
// read-only outside of Apply.
func (r *Reducer) State() *types.DecisionState {
	return r.state
}

// CompletenessGate reports whether obj's structured JSON response passes the
// spec's __incomplete_json gate: balanced braces on the raw text and at
// least minRatio of the expected fields present (spec §4.2).
func CompletenessGate(raw string, obj map[string]any, expectedFields []string, minRatio float64) bool {
	return llm.BracesBalanced(raw) && llm.CompletenessRatio(obj, expectedFields) >= minRatio
}
