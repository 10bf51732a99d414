// Package agents implements the nine analysis/debate/risk agents plus the
// Portfolio Manager and Execution nodes of the Orchestration Graph (spec
// §4.2-§4.4). Grounded on original_source/agents/base_agent.py's BaseAgent:
// prompt loading, structured-LLM call, and default-on-failure discipline,
// translated from an ABC with instance state into small Go structs built
// around internal/llm.Manager and internal/prompts.Store.
package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/llm"
	"github.com/atlas-ai/trading-engine/internal/prompts"
	"github.com/atlas-ai/trading-engine/internal/state"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

// minCompletenessRatio is the configurable minimum fraction of expected keys
// a structured response must contain to pass the completeness gate (spec
// §4.2). Kept as a package constant; SPEC_FULL.md doesn't call out a
// different value per agent.
const minCompletenessRatio = 0.6

// base holds what every agent needs from the engine: its stable name, a
// resolved system prompt, the shared Provider Manager, and a logger. Analysis
// agents embed this; bull/bear/portfolio_manager/execution do too, even
// though their Process signatures diverge from the plain AgentOutput shape.
// The risk agents (riskProfile) do not embed it.
type base struct {
	name    string
	prompt  string
	llm     *llm.Manager
	logger  *zap.Logger
}

func newBase(name string, store prompts.Store, mgr *llm.Manager, logger *zap.Logger) base {
	prompt, err := store.Get(name, "")
	if err != nil {
		prompt = prompts.DefaultPrompts[name]
	}
	return base{name: name, prompt: prompt, llm: mgr, logger: logger.Named(name)}
}

func (b base) Name() string         { return b.name }
func (b base) SystemPrompt() string { return b.prompt }

// structuredResult is what callStructured hands back: the parsed object (nil
// on total failure), whether the gate passed, and the classified outcome so
// callers can decide fallback vs. propagate-to-caller (spec §4.2's
// rate-limit-must-propagate rule).
type structuredResult struct {
	Obj        map[string]any
	Incomplete bool
	RateLimited bool
	Err        error
}

// callStructured runs one structured call against the manager and applies
// the completeness gate (spec §4.2: brace balance + minimum expected-key
// coverage). A rate-limit failure is surfaced via RateLimited so the caller
// can propagate rather than silently default, per spec §4.2's "if the
// failure is a rate limit, the agent must propagate" rule — in practice the
// manager has already exhausted its own fallback pool by the time Call
// returns an error, so this distinction mainly drives the explanation text.
func (b base) callStructured(ctx context.Context, cohortID, userPrompt string, fields []string, temperature float64, maxTokens int) structuredResult {
	obj, raw, err := b.llm.CallStructured(ctx, llm.StructuredCallOptions{
		CallOptions: llm.CallOptions{
			AgentName:    b.name,
			CohortID:     cohortID,
			SystemPrompt: b.prompt,
			UserPrompt:   userPrompt,
			Temperature:  temperature,
			MaxTokens:    maxTokens,
		},
		ExpectedFields: fields,
	})
	if err != nil {
		return structuredResult{Err: err, RateLimited: llm.IsRateLimitError(err)}
	}
	gate := state.CompletenessGate(raw, obj, fields, minCompletenessRatio)
	return structuredResult{Obj: obj, Incomplete: !gate}
}

// fallbackUpdate builds the default-value-discipline partial update (spec
// §4.2): the agent's instrument-aware default output, low confidence, and an
// explanation noting the fallback reason.
func fallbackUpdate(agentName string, defaultOutput types.AgentOutput, reason string) state.PartialUpdate {
	return state.PartialUpdate{
		AgentName:   agentName,
		Output:      defaultOutput,
		Explanation: fmt.Sprintf("[%s] using default output: %s", agentName, reason),
		Incomplete:  true,
	}
}

func floatOrDefault(obj map[string]any, key string, def float64) float64 {
	if v, ok := obj[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

func stringOrDefault(obj map[string]any, key, def string) string {
	if v, ok := obj[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func boolOrDefault(obj map[string]any, key string, def bool) bool {
	if v, ok := obj[key]; ok {
		if bv, ok := v.(bool); ok {
			return bv
		}
	}
	return def
}
