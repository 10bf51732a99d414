// Package graph implements the Orchestration Graph (spec §4.3): a fixed
// dependency DAG of agent nodes over one shared DecisionState, run as a
// sequence of concurrent cohort barriers followed by two sequential tail
// nodes. Grounded on the teacher's internal/orchestrator/orchestrator.go
// goroutine/channel fan-out idiom and other_examples' agents-orchestrator.go
// (a closer DAG-of-agents precedent), generalized from a flat parallel
// agent pool into the spec's fixed four-stage topology using
// golang.org/x/sync/errgroup for each cohort's join.
package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atlas-ai/trading-engine/internal/llm"
	"github.com/atlas-ai/trading-engine/internal/state"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

// Graph runs one topology: analysis (4-way) -> debate (2-way) -> risk
// (3-way) -> portfolio_manager -> execution, each arrow a barrier join.
type Graph struct {
	logger *zap.Logger
	mgr    *llm.Manager // only used to clear per-cohort provider bookkeeping once a barrier joins

	analysis         []state.Agent
	debate           []state.Agent
	risk             []state.Agent
	portfolioManager state.Agent
	execution        state.Agent
}

// NewGraph wires a fixed set of nodes into the spec §4.3 topology. mgr is the
// shared Provider Manager the analysis/debate agents call into; it may be
// nil (e.g. in tests driving fake agents that never touch the LLM layer).
func NewGraph(logger *zap.Logger, mgr *llm.Manager, analysis, debate, risk []state.Agent, portfolioManager, execution state.Agent) *Graph {
	return &Graph{
		logger:           logger,
		mgr:              mgr,
		analysis:         analysis,
		debate:           debate,
		risk:             risk,
		portfolioManager: portfolioManager,
		execution:        execution,
	}
}

// Run executes one full pass of the graph over a freshly-populated
// DecisionState (market/macro snapshot already set by the caller), returning
// the state after execution. An error from any node propagates and
// terminates the run (spec §4.3's "exceptions are propagated"). Each pass
// mints fresh analysis/debate cohort IDs so internal/llm.Manager's
// per-cohort provider-diversity bookkeeping from a prior run (the scheduler
// reuses the same Graph/Manager every Strategic cycle) can never leak into
// this one.
func (g *Graph) Run(ctx context.Context, initial *types.DecisionState) (*types.DecisionState, error) {
	initial.AnalysisCohortID = uuid.NewString()
	initial.DebateCohortID = uuid.NewString()
	reducer := state.NewReducer(initial)

	if err := g.runCohort(ctx, reducer, g.analysis); err != nil {
		return nil, fmt.Errorf("analysis cohort: %w", err)
	}
	g.clearCohort(initial.AnalysisCohortID)

	if err := g.runCohort(ctx, reducer, g.debate); err != nil {
		return nil, fmt.Errorf("debate cohort: %w", err)
	}
	g.clearCohort(initial.DebateCohortID)

	if err := g.runCohort(ctx, reducer, g.risk); err != nil {
		return nil, fmt.Errorf("risk cohort: %w", err)
	}
	if err := g.runNode(ctx, reducer, g.portfolioManager); err != nil {
		return nil, fmt.Errorf("portfolio_manager: %w", err)
	}
	if err := g.runNode(ctx, reducer, g.execution); err != nil {
		return nil, fmt.Errorf("execution: %w", err)
	}

	return reducer.State(), nil
}

func (g *Graph) clearCohort(cohortID string) {
	if g.mgr != nil {
		g.mgr.ClearCohort(cohortID)
	}
}

// runCohort spawns every agent in the cohort concurrently against the
// current (read-only until the barrier) state, then reduces all of their
// partial updates in a fixed order once every agent has returned — the
// barrier spec §4.3 requires before downstream nodes see the state.
func (g *Graph) runCohort(ctx context.Context, reducer *state.Reducer, agents []state.Agent) error {
	if len(agents) == 0 {
		return nil
	}

	grp, gctx := errgroup.WithContext(ctx)
	updates := make([]state.PartialUpdate, len(agents))

	for i, a := range agents {
		i, a := i, a
		grp.Go(func() error {
			g.logger.Info("executing", zap.String("agent", a.Name()))
			update, err := a.Process(gctx, reducer.State())
			if err != nil {
				return fmt.Errorf("%s: %w", a.Name(), err)
			}
			updates[i] = update
			g.logger.Info("completed", zap.String("agent", a.Name()))
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return err
	}

	for _, update := range updates {
		if err := reducer.Apply(update); err != nil {
			return err
		}
	}
	return nil
}

// runNode runs a single sequential-tail node (portfolio_manager, execution)
// and reduces its update immediately.
func (g *Graph) runNode(ctx context.Context, reducer *state.Reducer, agent state.Agent) error {
	g.logger.Info("executing", zap.String("agent", agent.Name()))
	update, err := agent.Process(ctx, reducer.State())
	if err != nil {
		return fmt.Errorf("%s: %w", agent.Name(), err)
	}
	g.logger.Info("completed", zap.String("agent", agent.Name()))
	return reducer.Apply(update)
}
