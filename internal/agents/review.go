package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/llm"
	"github.com/atlas-ai/trading-engine/internal/prompts"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

// ReviewAgent is the post-hoc reviewer (spec §4.8 supplemented feature,
// grounded on original_source/agents/review_agent.py): it reads a completed
// Decision Record and produces a short textual critique, invoked by the
// Strategic loop after the record has already been persisted rather than as
// a member of the Orchestration Graph, since its output never feeds back
// into the decision that produced it. Off by default — internal/scheduler
// only calls Review when explicitly enabled (SchedulerConfig.ReviewEnabled).
type ReviewAgent struct {
	base
}

// NewReviewAgent builds the review agent.
func NewReviewAgent(store prompts.Store, mgr *llm.Manager, logger *zap.Logger) *ReviewAgent {
	return &ReviewAgent{base: newBase("review", store, mgr, logger)}
}

var reviewFields = []string{"critique", "lessons", "confidence_in_hindsight"}

// Review critiques a just-persisted Decision Record. It always calls the
// Provider Manager with an empty cohort ID: the review runs alone, well outside the analysis/debate fan-out the
// Provider Manager's cohort-diversity bookkeeping exists for.
func (a *ReviewAgent) Review(ctx context.Context, record types.DecisionRecord) (string, error) {
	var rationale strings.Builder
	if len(record.Rationale) == 0 {
		rationale.WriteString("(none recorded)")
	} else {
		for _, r := range record.Rationale {
			fmt.Fprintf(&rationale, "- %s\n", r)
		}
	}

	prompt := fmt.Sprintf(`Decision record for %s at %s:

Final signal: %s
Entry price: %.2f, stop loss: %.2f, take profit: %.2f
Position size: %.4f

Agent rationale:
%s

Critique this decision: was the signal well-supported by the rationale given? What would you have weighed differently? Keep it to a few sentences.`,
		record.Instrument, record.Timestamp.Format("2006-01-02 15:04:05"),
		record.FinalSignal, record.EntryPrice, record.StopLoss, record.TakeProfit,
		record.PositionSize, rationale.String(),
	)

	result := a.callStructured(ctx, "", prompt, reviewFields, 0.3, 400)
	if result.Err != nil {
		return "", fmt.Errorf("review agent: %w", result.Err)
	}

	critique := stringOrDefault(result.Obj, "critique", "")
	if critique == "" {
		return "", fmt.Errorf("review agent: empty critique returned")
	}
	return critique, nil
}
