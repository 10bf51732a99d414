// Package utils provides small numeric and ID-generation helpers shared
// across the decision engine.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GenerateID generates a unique ID with optional prefix.
func GenerateID(prefix string) string {
	b := make([]byte, 16)
	rand.Read(b)
	id := hex.EncodeToString(b)
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

func GenerateOrderID() string    { return GenerateID("ord") }
func GenerateTradeID() string    { return GenerateID("trd") }
func GenerateDecisionID() string { return GenerateID("dec") }
func GenerateAlertID() string    { return GenerateID("alt") }
func GenerateRuleID() string     { return GenerateID("rule") }
func GenerateCohortID() string   { return GenerateID("cohort") }

// FormatSymbol normalizes a trading symbol to BASE/QUOTE form.
func FormatSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	symbol = strings.ReplaceAll(symbol, "-", "/")
	symbol = strings.ReplaceAll(symbol, "_", "/")
	if !strings.Contains(symbol, "/") {
		for _, quote := range []string{"USDT", "USDC", "USD", "BTC", "ETH", "BNB"} {
			if strings.HasSuffix(symbol, quote) {
				return strings.TrimSuffix(symbol, quote) + "/" + quote
			}
		}
	}
	return symbol
}

// RoundToTickSize rounds a price to the nearest tick size.
func RoundToTickSize(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	return price.Div(tickSize).Floor().Mul(tickSize)
}

// CalculatePercentageChange returns the percent change from old to new (0
// when old is 0).
func CalculatePercentageChange(old, new float64) float64 {
	if old == 0 {
		return 0
	}
	return (new - old) / old * 100
}

// CalculateMean returns the arithmetic mean of values.
func CalculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// CalculateStdDev returns the sample standard deviation of values.
func CalculateStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := CalculateMean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// ClampNonNegative clamps a duration to zero, resolving the spec's open
// question on negative durations produced by clock-skewed deadlines
// (SPEC_FULL.md §9.1).
func ClampNonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// Clamp01 clamps a float to [0,1], used for confidence/probability fields.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampSigned clamps a float to [-1,1], used for sentiment/headwind scores.
func ClampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// RetryConfig configures Retry's exponential backoff.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns a sane default backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2.0}
}

// Retry retries fn with exponential backoff up to config.MaxAttempts times.
func Retry[T any](config RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	var err error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if attempt == config.MaxAttempts {
			break
		}
		time.Sleep(delay)
		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
	return result, fmt.Errorf("after %d attempts: %w", config.MaxAttempts, err)
}

// EMA computes an exponential moving average incrementally.
type EMA struct {
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates an EMA calculator over the given period.
func NewEMA(period int) *EMA {
	return &EMA{multiplier: 2.0 / float64(period+1)}
}

// Add folds in the next value and returns the updated EMA.
func (e *EMA) Add(value float64) float64 {
	e.count++
	if e.count == 1 {
		e.current = value
		return e.current
	}
	e.current = (value-e.current)*e.multiplier + e.current
	return e.current
}

// Current returns the last computed EMA value.
func (e *EMA) Current() float64 { return e.current }
