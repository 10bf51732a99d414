// Package llm implements the LLM Provider Manager: a multi-provider pool
// with key rotation, per-minute/per-day rate accounting, circuit-breaker
// recovery, cohort-aware provider diversity, and a structured-JSON call
// protocol with retries (spec §4.1).
//
// Grounded on _examples/original_source/genai_module/src/genai_module/core/
// llm_provider_manager.py (the only complete precedent for this exact
// algorithm), translated into the teacher's mutex+zap idiom.
package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

// Strategy is the provider-selection strategy (spec §4.1 item 5).
type Strategy string

const (
	StrategyRandom     Strategy = "random"
	StrategyRoundRobin Strategy = "round_robin"
	StrategyWeighted   Strategy = "weighted"
	StrategyHash       Strategy = "hash"
	StrategySingle     Strategy = "single"
)

const (
	defaultSoftThrottleFloor = 0.8
	defaultCooldown          = 5 * time.Minute
	defaultHealthInterval    = 60 * time.Second
)

// Manager is the LLM Provider Manager. It is constructed with an explicit
// dependency set and injected into the scheduler/agents — no global
// singleton (spec §9 design note: "inject the manager... no global").
type Manager struct {
	logger *zap.Logger
	cfg    types.LLMConfig
	clock  func() time.Time

	adapter ProviderAdapter

	mu        sync.Mutex // "provider lock" (spec §5): guards providers + round-robin cursors
	providers []*types.ProviderConfig

	// limiters is a per-provider token-bucket backstop (golang.org/x/time/rate)
	// behind the manual minute/day counters: the counters give observable
	// state for the status surface, the limiter is what actually blocks a
	// burst from exceeding RateLimitPerMinute between two recovery passes.
	limiters map[string]*rate.Limiter

	sem chan struct{} // global call semaphore (spec §4.1, acquired outside the provider lock)

	cohortMu    sync.Mutex // separate mutex for cohort assignment (spec §5)
	cohortSlots map[string]map[string]string // cohortID -> agentName -> providerName

	rrCursor uint64 // atomic round-robin cursor for StrategyRoundRobin

	rngMu sync.Mutex
	rng   *rand.Rand

	alerts AlertSink

	metrics *Metrics
}

// AlertSink delivers non-blocking operational alerts (spec §6, Alerts). The
// manager never fails its main path if alert delivery fails — it logs the
// delivery error and moves on. Satisfied by internal/interfaces.AlertRouter.
type AlertSink interface {
	Publish(ctx context.Context, alert types.Alert) error
}

// NewManager constructs a Manager over the given provider configuration.
func NewManager(logger *zap.Logger, cfg types.LLMConfig, adapter ProviderAdapter, alerts AlertSink) (*Manager, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("llm manager requires at least one provider")
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 3
	}

	providers := make([]*types.ProviderConfig, 0, len(cfg.Providers))
	limiters := make(map[string]*rate.Limiter, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		if len(pc.APIKeys) == 0 || len(pc.Models) == 0 {
			return nil, fmt.Errorf("provider %q requires at least one API key and one model", pc.Name)
		}
		providers = append(providers, &types.ProviderConfig{
			Name:               pc.Name,
			APIKeys:            pc.APIKeys,
			Models:             pc.Models,
			Priority:           pc.Priority,
			RateLimitPerMinute: pc.RateLimitPerMin,
			RateLimitPerDay:    pc.RateLimitPerDay,
			BaseURL:            pc.BaseURL,
			Status:             types.ProviderAvailable,
		})

		limit := rate.Inf
		burst := 1
		if pc.RateLimitPerMin > 0 {
			limit = rate.Limit(float64(pc.RateLimitPerMin) / 60.0)
			burst = pc.RateLimitPerMin
		}
		limiters[pc.Name] = rate.NewLimiter(limit, burst)
	}
	// stable priority order: smaller priority preferred (spec §3)
	for i := 1; i < len(providers); i++ {
		for j := i; j > 0 && providers[j].Priority < providers[j-1].Priority; j-- {
			providers[j], providers[j-1] = providers[j-1], providers[j]
		}
	}

	return &Manager{
		logger:      logger.Named("llm_provider_manager"),
		cfg:         cfg,
		clock:       time.Now,
		adapter:     adapter,
		providers:   providers,
		limiters:    limiters,
		sem:         make(chan struct{}, maxConcurrency),
		cohortSlots: make(map[string]map[string]string),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		alerts:      alerts,
		metrics:     newMetrics(),
	}, nil
}

// CallOptions configures one logical provider call (spec §4.1).
type CallOptions struct {
	AgentName   string
	CohortID    string // optional; supplied by the orchestration graph for fan-out diversity
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Call runs the full call protocol: semaphore, jitter, provider/key/model
// selection, HTTP call, rate accounting, failure classification, retries
// across providers, and a broader fallback pass (spec §4.1 Call protocol).
func (m *Manager) Call(ctx context.Context, opts CallOptions) (string, error) {
	maxAttempts := len(m.providersSnapshot())
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	var lastErrs []string
	for attempt := 0; attempt < maxAttempts; attempt++ {
		text, err := m.attempt(ctx, opts)
		if err == nil {
			return text, nil
		}
		lastErrs = append(lastErrs, err.Error())
	}

	// Broader fallback: one more pass ignoring cohort-diversity constraints.
	fallbackOpts := opts
	fallbackOpts.CohortID = ""
	text, err := m.attempt(ctx, fallbackOpts)
	if err == nil {
		return text, nil
	}
	lastErrs = append(lastErrs, err.Error())

	return "", fmt.Errorf("all providers exhausted: %s", strings.Join(lastErrs, "; "))
}

// StructuredCallOptions extends CallOptions with an expected-field schema for
// structured-JSON calls (spec §4.1 Structured-JSON protocol).
type StructuredCallOptions struct {
	CallOptions
	ExpectedFields []string
}

// CallStructured appends a schema description to the prompt, scales
// max-tokens per the expected field count, and defensively parses the
// response into a map (spec §4.1). It also returns the raw response text so
// callers can run their own completeness gate (brace balance plus expected-key
// coverage, spec §4.2) against the untouched model output.
func (m *Manager) CallStructured(ctx context.Context, opts StructuredCallOptions) (map[string]any, string, error) {
	scaled := EstimateMaxTokens(len(opts.ExpectedFields))
	if scaled > opts.MaxTokens {
		opts.MaxTokens = scaled
	}
	opts.UserPrompt = opts.UserPrompt + "\n\nRespond with a single JSON object containing exactly these fields: " +
		strings.Join(opts.ExpectedFields, ", ") + ". Do not include any text outside the JSON object."

	text, err := m.Call(ctx, opts.CallOptions)
	if err != nil {
		return nil, "", err
	}
	obj, err := ExtractJSONObject(text)
	if err != nil {
		return nil, text, fmt.Errorf("structured call for agent %s: %w", opts.AgentName, err)
	}
	return obj, text, nil
}

func (m *Manager) providersSnapshot() []*types.ProviderConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.ProviderConfig, len(m.providers))
	copy(out, m.providers)
	return out
}

// attempt performs one full provider-call attempt: select, dispatch, account,
// classify on failure.
func (m *Manager) attempt(ctx context.Context, opts CallOptions) (string, error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-m.sem }()

	m.jitter(ctx)

	provider, key, err := m.selectProvider(opts.AgentName, opts.CohortID)
	if err != nil {
		return "", err
	}

	if limiter := m.limiters[provider.Name]; limiter != nil && !limiter.Allow() {
		return "", fmt.Errorf("provider %s: token-bucket limit exceeded", provider.Name)
	}

	model := m.nextModel(provider)

	callCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req := ChatRequest{
		Model: model,
		Messages: []ChatMessage{
			{Role: "system", Content: opts.SystemPrompt},
			{Role: "user", Content: opts.UserPrompt},
		},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	resp, err := m.adapter.ChatCompletion(callCtx, provider.BaseURL, key, req)
	if err != nil {
		m.handleFailure(ctx, provider, err)
		return "", fmt.Errorf("provider %s: %w", provider.Name, err)
	}

	m.recordUsage(provider, resp.TokensUsed)
	m.metrics.callsSucceeded.WithLabelValues(provider.Name, opts.AgentName).Inc()
	return resp.Text, nil
}

// jitter sleeps 100-600ms to desynchronize bursts (spec §4.1).
func (m *Manager) jitter(ctx context.Context) {
	m.rngMu.Lock()
	d := 100*time.Millisecond + time.Duration(m.rng.Intn(500))*time.Millisecond
	m.rngMu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// ClearCohort discards the provider assignment table for cohortID once its
// barrier has fully joined, so a long-lived Manager shared across repeated
// Orchestration Graph runs (internal/scheduler's Strategic loop re-runs the
// same graph every cycle) never accumulates one cohortSlots entry per run.
// Safe to call on an unknown or already-cleared cohortID.
func (m *Manager) ClearCohort(cohortID string) {
	if cohortID == "" {
		return
	}
	m.cohortMu.Lock()
	delete(m.cohortSlots, cohortID)
	m.cohortMu.Unlock()
}

// selectProvider implements the selection algorithm (spec §4.1 items 1-6).
func (m *Manager) selectProvider(agentName, cohortID string) (*types.ProviderConfig, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	m.recoverLocked(now)

	pool := m.poolLocked(now)
	if len(pool) == 0 {
		return nil, "", fmt.Errorf("no LLM providers available")
	}

	if m.cfg.SelectionStrategy == string(StrategySingle) {
		for _, p := range m.providers {
			if p.Name == m.cfg.SingleProviderName {
				if p.Status != types.ProviderAvailable {
					p.Status = types.ProviderAvailable
					p.CooldownUntil = time.Time{}
				}
				return p, m.nextKeyLocked(p), nil
			}
		}
		return nil, "", fmt.Errorf("configured single provider %q not found", m.cfg.SingleProviderName)
	}

	candidates := pool
	if cohortID != "" {
		m.cohortMu.Lock()
		assigned := m.cohortSlots[cohortID]
		if assigned == nil {
			assigned = make(map[string]string)
			m.cohortSlots[cohortID] = assigned
		}
		used := make(map[string]bool, len(assigned))
		for _, providerName := range assigned {
			used[providerName] = true
		}
		unused := make([]*types.ProviderConfig, 0, len(pool))
		for _, p := range pool {
			if !used[p.Name] {
				unused = append(unused, p)
			}
		}
		if len(unused) > 0 {
			candidates = unused
		}
		// else: all providers in the pool already assigned this cohort; fall
		// through and apply the strategy over the full pool anyway (spec §4.1 item 4).
		chosen := m.applyStrategy(candidates, agentName)
		assigned[agentName] = chosen.Name
		m.cohortMu.Unlock()
		return chosen, m.nextKeyLocked(chosen), nil
	}

	chosen := m.applyStrategy(candidates, agentName)
	return chosen, m.nextKeyLocked(chosen), nil
}

// recoverLocked runs the recovery pass (spec §4.1 item 1). Caller holds m.mu.
func (m *Manager) recoverLocked(now time.Time) {
	for _, p := range m.providers {
		switch p.Status {
		case types.ProviderRateLimited:
			if !p.CooldownUntil.IsZero() && now.After(p.CooldownUntil) {
				p.Status = types.ProviderAvailable
				p.CooldownUntil = time.Time{}
			}
		case types.ProviderError:
			if !p.CooldownUntil.IsZero() && now.After(p.CooldownUntil) {
				p.Status = types.ProviderAvailable
				p.CooldownUntil = time.Time{}
			}
		case types.ProviderUnavailable:
			// model errors do not auto-recover (spec §4.1 item 1)
		}
		if now.Sub(p.MinuteWindowStart) > time.Minute {
			p.MinuteWindowStart = now
			p.MinuteCount = 0
		}
	}
}

// poolLocked returns AVAILABLE providers, excluding soft-throttled ones
// unless that would empty the pool (spec §4.1 item 2). Caller holds m.mu.
func (m *Manager) poolLocked(now time.Time) []*types.ProviderConfig {
	floor := m.cfg.SoftThrottleFactor
	if floor <= 0 {
		floor = defaultSoftThrottleFloor
	}

	var available, notThrottled []*types.ProviderConfig
	for _, p := range m.providers {
		if p.Status != types.ProviderAvailable {
			continue
		}
		available = append(available, p)
		limit := float64(p.RateLimitPerMinute) * floor
		if p.RateLimitPerMinute <= 0 || float64(p.MinuteCount) < limit {
			notThrottled = append(notThrottled, p)
		}
	}
	if len(notThrottled) > 0 {
		return notThrottled
	}
	return available
}

// applyStrategy picks one provider from candidates per m.cfg.SelectionStrategy
// (spec §4.1 item 5). Caller holds m.mu.
func (m *Manager) applyStrategy(candidates []*types.ProviderConfig, agentName string) *types.ProviderConfig {
	if len(candidates) == 1 {
		return candidates[0]
	}
	switch Strategy(m.cfg.SelectionStrategy) {
	case StrategyRoundRobin:
		idx := atomic.AddUint64(&m.rrCursor, 1) - 1
		return candidates[idx%uint64(len(candidates))]
	case StrategyWeighted:
		weights := make([]float64, len(candidates))
		total := 0.0
		for i, p := range candidates {
			weights[i] = 1.0 / float64(p.Priority+1)
			total += weights[i]
		}
		m.rngMu.Lock()
		r := m.rng.Float64() * total
		m.rngMu.Unlock()
		cum := 0.0
		for i, w := range weights {
			cum += w
			if r <= cum {
				return candidates[i]
			}
		}
		return candidates[len(candidates)-1]
	case StrategyHash:
		h := fnv.New32a()
		h.Write([]byte(agentName))
		return candidates[int(h.Sum32())%len(candidates)]
	default: // StrategyRandom
		m.rngMu.Lock()
		idx := m.rng.Intn(len(candidates))
		m.rngMu.Unlock()
		return candidates[idx]
	}
}

// nextKeyLocked rotates the provider's API key round-robin cursor (spec §4.1:
// "Each provider has its own key list and a round-robin cursor"). Caller
// holds m.mu.
func (m *Manager) nextKeyLocked(p *types.ProviderConfig) string {
	key := p.APIKeys[p.KeyCursor%len(p.APIKeys)]
	p.KeyCursor++
	return key
}

// nextModel rotates the provider's model round-robin cursor (spec §4.1 item 3).
func (m *Manager) nextModel(p *types.ProviderConfig) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	model := p.Models[p.ModelCursor%len(p.Models)]
	p.ModelCursor++
	return model
}

// recordUsage increments rate/token counters for an accepted call (spec §4.1:
// "Record usage").
func (m *Manager) recordUsage(p *types.ProviderConfig, tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if now.Sub(p.MinuteWindowStart) > time.Minute {
		p.MinuteWindowStart = now
		p.MinuteCount = 0
	}
	p.MinuteCount++
	p.DayCount++
	p.TokensUsed += int64(tokens)
	p.RecentUsage = append(p.RecentUsage, now)
	if len(p.RecentUsage) > 200 {
		p.RecentUsage = p.RecentUsage[len(p.RecentUsage)-200:]
	}
}

var (
	rateLimitTextRe  = regexp.MustCompile(`(?i)rate limit`)
	retryInSecondsRe = regexp.MustCompile(`(?i)(?:try again in|retry in)\s+([\d.]+)\s*s`)
	retryInMinutesRe = regexp.MustCompile(`(?i)(?:try again in|retry in)\s+(\d+)\s*m(?:in(?:ute)?s?)?\s*([\d.]+)?\s*s?`)
	modelErrorRe     = regexp.MustCompile(`(?i)no endpoints|no module named|model not found|404`)
)

// handleFailure classifies and records a failed call (spec §4.1 Failure
// handling) and emits the corresponding alert.
func (m *Manager) handleFailure(ctx context.Context, p *types.ProviderConfig, err error) {
	now := m.clock()
	f := classifyFailure(err, now)

	m.mu.Lock()
	p.LastError = f.Message
	switch f.Kind {
	case FailureRateLimit:
		p.Status = types.ProviderRateLimited
		p.CooldownUntil = f.CooldownUntil
	case FailureModelError:
		p.Status = types.ProviderUnavailable
		p.CooldownUntil = time.Time{}
	default:
		p.Status = types.ProviderError
		p.CooldownUntil = f.CooldownUntil
	}
	name := p.Name
	m.mu.Unlock()

	m.metrics.callsFailed.WithLabelValues(name, f.Kind.String()).Inc()
	m.logger.Warn("provider call failed", zap.String("provider", name), zap.String("kind", f.Kind.String()), zap.Error(err))

	if m.alerts == nil {
		return
	}
	var alert *types.Alert
	switch f.Kind {
	case FailureRateLimit:
		alert = &types.Alert{
			Type: "provider_rate_limited", Severity: types.AlertWarning,
			Message: fmt.Sprintf("provider %s rate limited until %s", name, f.CooldownUntil.Format(time.RFC3339)),
			Details: map[string]any{"provider": name, "cooldownUntil": f.CooldownUntil}, Timestamp: now,
		}
	case FailureModelError:
		alert = &types.Alert{
			Type: "provider_error", Severity: types.AlertCritical,
			Message: fmt.Sprintf("provider %s unavailable: %s", name, f.Message),
			Details: map[string]any{"provider": name}, Timestamp: now,
		}
	}
	if alert != nil {
		if err := m.alerts.Publish(ctx, *alert); err != nil {
			m.logger.Warn("failed to publish alert", zap.Error(err))
		}
	}
}

// classifyFailure parses err's text to classify it as rate-limit, model
// error, or other (spec §4.1 Failure handling).
func classifyFailure(err error, now time.Time) *providerFailure {
	msg := err.Error()

	if httpErr, ok := err.(*httpStatusError); ok {
		if httpErr.StatusCode == 429 || rateLimitTextRe.MatchString(httpErr.Body) {
			return &providerFailure{Kind: FailureRateLimit, CooldownUntil: now.Add(parseResetDuration(httpErr.Body, httpErr.Header, now)), Message: msg}
		}
		if httpErr.StatusCode == 404 || modelErrorRe.MatchString(httpErr.Body) {
			return &providerFailure{Kind: FailureModelError, Message: msg}
		}
	}

	if rateLimitTextRe.MatchString(msg) {
		return &providerFailure{Kind: FailureRateLimit, CooldownUntil: now.Add(parseResetDuration(msg, nil, now)), Message: msg}
	}
	if modelErrorRe.MatchString(msg) {
		return &providerFailure{Kind: FailureModelError, Message: msg}
	}
	return &providerFailure{Kind: FailureOther, CooldownUntil: now.Add(defaultCooldown), Message: msg}
}

// parseResetDuration extracts a reset duration from common rate-limit error
// shapes (spec §4.1: "try again in 4m36.48s", "try again in 2 minutes",
// X-RateLimit-Reset epoch ms, "retry in N seconds"); defaults to 5 minutes.
func parseResetDuration(text string, header httpHeader, now time.Time) time.Duration {
	if header != nil {
		if v := header.Get("X-RateLimit-Reset"); v != "" {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				resetAt := time.UnixMilli(ms)
				if resetAt.After(now) {
					return resetAt.Sub(now)
				}
			}
		}
	}
	if m := retryInMinutesRe.FindStringSubmatch(text); len(m) > 0 && m[1] != "" {
		minutes, _ := strconv.Atoi(m[1])
		seconds := 0.0
		if m[2] != "" {
			seconds, _ = strconv.ParseFloat(m[2], 64)
		}
		return time.Duration(minutes)*time.Minute + time.Duration(seconds*float64(time.Second))
	}
	if m := retryInSecondsRe.FindStringSubmatch(text); len(m) > 0 {
		seconds, _ := strconv.ParseFloat(m[1], 64)
		return time.Duration(seconds * float64(time.Second))
	}
	return defaultCooldown
}

// httpHeader is the minimal interface parseResetDuration needs, so it can
// accept a nil header without importing net/http directly in that signature.
type httpHeader interface {
	Get(string) string
}

// ProviderSnapshot is a read-only view of one provider's current state, used
// by tests and the status surface.
type ProviderSnapshot struct {
	Name          string
	Status        types.ProviderStatus
	CooldownUntil time.Time
	MinuteCount   int
	DayCount      int
}

// Snapshot returns the current state of every configured provider.
func (m *Manager) Snapshot() []ProviderSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProviderSnapshot, len(m.providers))
	for i, p := range m.providers {
		out[i] = ProviderSnapshot{Name: p.Name, Status: p.Status, CooldownUntil: p.CooldownUntil, MinuteCount: p.MinuteCount, DayCount: p.DayCount}
	}
	return out
}

// SetClock overrides the manager's time source, for deterministic tests.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

// HealthLoop runs the background health probe (spec §4.1: "ticks every N
// seconds... for AVAILABLE providers, issue a minimal ping completion and
// downgrade to ERROR on failure"). Runs until ctx is cancelled.
func (m *Manager) HealthLoop(ctx context.Context) {
	interval := m.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Manager) probeOnce(ctx context.Context) {
	for _, p := range m.providersSnapshot() {
		if p.Status != types.ProviderAvailable {
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := m.adapter.ChatCompletion(pingCtx, p.BaseURL, p.APIKeys[0], ChatRequest{
			Model:     p.Models[0],
			Messages:  []ChatMessage{{Role: "user", Content: "ping"}},
			MaxTokens: 4,
		})
		cancel()
		if err != nil {
			// health probe failures downgrade status but must not change
			// user-visible counters (spec §8, rate-limit respect property).
			m.mu.Lock()
			for _, pc := range m.providers {
				if pc.Name == p.Name {
					pc.Status = types.ProviderError
					pc.CooldownUntil = m.clock().Add(defaultCooldown)
					pc.LastError = err.Error()
				}
			}
			m.mu.Unlock()
		}
	}
}
