package types

import "time"

// SignalType is the Portfolio Manager's final trading signal (spec §3).
type SignalType string

const (
	SignalStrongBuy  SignalType = "STRONG_BUY"
	SignalBuy        SignalType = "BUY"
	SignalWeakBuy    SignalType = "WEAK_BUY"
	SignalHold       SignalType = "HOLD"
	SignalWeakSell   SignalType = "WEAK_SELL"
	SignalSell       SignalType = "SELL"
	SignalStrongSell SignalType = "STRONG_SELL"
	SignalAdjust     SignalType = "ADJUST"
)

// TrendSignal is the overall market trend the Portfolio Manager derives from
// bullish/bearish scores (spec §4.4).
type TrendSignal string

const (
	TrendBullish TrendSignal = "BULLISH"
	TrendBearish TrendSignal = "BEARISH"
	TrendNeutral TrendSignal = "NEUTRAL"
)

// DecisionStatus distinguishes HOLD-only analysis records from executed
// trades within the single mixed Decision Record collection (spec §9,
// open question: the mixed-collection schema is kept as-is).
type DecisionStatus string

const (
	DecisionStatusAnalysis DecisionStatus = "ANALYSIS"
	DecisionStatusExecuted DecisionStatus = "EXECUTED"
)

// MarketSnapshot is the external-writer portion of DecisionState (spec §3).
type MarketSnapshot struct {
	CurrentPrice float64              `json:"currentPrice"`
	OHLC         map[Timeframe][]OHLCV `json:"ohlc"`
	BestBid      float64              `json:"bestBid"`
	BestAsk      float64              `json:"bestAsk"`
	DepthTop5Bid []OrderBookLevel     `json:"depthTop5Bid"`
	DepthTop5Ask []OrderBookLevel     `json:"depthTop5Ask"`
	TotalBuyQty  float64              `json:"totalBuyQty"`
	TotalSellQty float64              `json:"totalSellQty"`
	SentimentScore float64            `json:"sentimentScore"` // [-1,+1]
	LatestNews   []NewsItem           `json:"latestNews"`      // ordered by Timestamp descending
}

// MacroInputs is the macro external-writer portion of DecisionState.
type MacroInputs struct {
	PolicyRate      *float64 `json:"policyRate,omitempty"`
	InflationRate   *float64 `json:"inflationRate,omitempty"`
	HealthIndicator *float64 `json:"healthIndicator,omitempty"`
}

// AgentOutput is the generic shape written by each analysis agent into its
// own slot: a field-name -> value mapping, semantics owned by that agent.
type AgentOutput map[string]any

// DecisionState is the shared record passed through the Orchestration Graph
// (spec §3). Single-writer-per-field discipline: every non-list field here
// is written by exactly one agent (or the external market-data writer); the
// reducer in internal/state enforces this. DecisionState itself carries only
// plain fields — no service handles or secrets — per spec §9's design note.
type DecisionState struct {
	Market MarketSnapshot `json:"market"`
	Macro  MacroInputs    `json:"macro"`

	Technical   AgentOutput `json:"technical"`
	Fundamental AgentOutput `json:"fundamental"`
	Sentiment   AgentOutput `json:"sentiment"`
	Macro_      AgentOutput `json:"macroAnalysis"` // the macro *agent's* output slot, distinct from MacroInputs

	// AnalysisCohortID/DebateCohortID are minted fresh by Graph.Run for each
	// pass and threaded through to callStructured instead of a static
	// literal, so internal/llm.Manager's per-cohort provider-diversity
	// bookkeeping (keyed by this ID) never collides with a prior run's
	// leftover assignment (spec §8's cohort provider diversity property).
	AnalysisCohortID string `json:"analysisCohortId"`
	DebateCohortID   string `json:"debateCohortId"`

	BullThesis     string  `json:"bullThesis"`
	BullConfidence float64 `json:"bullConfidence"`
	BearThesis     string  `json:"bearThesis"`
	BearConfidence float64 `json:"bearConfidence"`

	AggressiveRisk   AgentOutput `json:"aggressiveRisk"`
	ConservativeRisk AgentOutput `json:"conservativeRisk"`
	NeutralRisk      AgentOutput `json:"neutralRisk"`

	FinalSignal SignalType  `json:"finalSignal"`
	TrendSignal TrendSignal `json:"trendSignal"`
	PositionSize float64    `json:"positionSize"`
	EntryPrice   float64    `json:"entryPrice"`
	StopLoss     float64    `json:"stopLoss"`
	TakeProfit   float64    `json:"takeProfit"`

	OrderID           string    `json:"orderId"`
	FilledPrice       float64   `json:"filledPrice"`
	FilledQuantity    float64   `json:"filledQuantity"`
	ExecutionTimestamp time.Time `json:"executionTimestamp"`

	TradeID             string         `json:"tradeId"`
	AgentExplanations   []string       `json:"agentExplanations"` // append-only, commutative concat reducer
	DecisionAuditTrail  map[string]any `json:"decisionAuditTrail"`

	// IncompleteAgents names agents whose structured JSON response failed
	// the completeness gate (spec §4.2's __incomplete_json flag, surfaced
	// here for the analysis_incomplete alert at finalization).
	IncompleteAgents map[string]bool `json:"incompleteAgents"`
}

// NewDecisionState creates a zero-value DecisionState with initialized maps,
// owned by exactly one graph run for its lifetime (spec §3 lifecycles).
func NewDecisionState() *DecisionState {
	return &DecisionState{
		Technical:          AgentOutput{},
		Fundamental:        AgentOutput{},
		Sentiment:          AgentOutput{},
		Macro_:             AgentOutput{},
		AggressiveRisk:     AgentOutput{},
		ConservativeRisk:   AgentOutput{},
		NeutralRisk:        AgentOutput{},
		TrendSignal:        TrendNeutral,
		FinalSignal:        SignalHold,
		AgentExplanations:  []string{},
		DecisionAuditTrail: map[string]any{},
		IncompleteAgents:   map[string]bool{},
	}
}

// DecisionRecord is persisted after every graph run, even HOLD (spec §3/§6).
type DecisionRecord struct {
	ID               string                 `json:"id"`
	Timestamp        time.Time              `json:"timestamp"`
	Instrument       string                 `json:"instrument"`
	ActiveProvider   string                 `json:"activeProvider"`
	Market           MarketSnapshot         `json:"market"`
	FinalSignal      SignalType             `json:"finalSignal"`
	TrendSignal      TrendSignal            `json:"trendSignal"`
	PositionSize     float64                `json:"positionSize"`
	EntryPrice       float64                `json:"entryPrice"`
	StopLoss         float64                `json:"stopLoss"`
	TakeProfit       float64                `json:"takeProfit"`
	PerAgentOutputs  map[string]AgentOutput `json:"perAgentOutputs"`
	Rationale        []string               `json:"rationale"`
	AuditTrail       map[string]any         `json:"auditTrail"`
	Status           DecisionStatus         `json:"status"`
	IncompleteAgents []string               `json:"incompleteAgents,omitempty"`
}

// AlertSeverity is the severity tag on an Alert record (spec §6).
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// Alert is a non-blocking operational event delivered through the
// alert-router interface (spec §6).
type Alert struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"` // e.g. provider_rate_limited, provider_error, analysis_incomplete
	Severity  AlertSeverity  `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}
