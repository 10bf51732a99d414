package ruleengine

import "github.com/atlas-ai/trading-engine/pkg/utils"

// RSI computes a simple (non-Wilder-smoothed) relative strength index over
// closes, matching the original's pandas_ta.rsi(length=5) call at small
// windows: average gain / average loss over the window, scaled to 0-100.
// Grounded on original_source/engines/rule_engine.py's RSI(5) tick indicator.
func RSI(closes []float64, length int) float64 {
	if len(closes) <= length {
		return 50.0 // neutral default, matches the original's indicators.get(..., 50.0)
	}
	window := closes[len(closes)-length-1:]

	var gains, losses float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses += -delta
		}
	}
	avgGain := gains / float64(length)
	avgLoss := losses / float64(length)
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// VolumeSpikePct computes the percentage by which the latest reading exceeds
// the rolling mean of the prior window (SPEC_FULL.md §9.1's resolution of
// the original's `volume_spike` placeholder, which always returned true).
func VolumeSpikePct(window []float64, latest float64) float64 {
	mean := utils.CalculateMean(window)
	if mean == 0 {
		return 0
	}
	return (latest - mean) / mean * 100
}

// PremiumAccelerationPct computes a normalized second derivative over the
// last three samples: ((p2-p1) - (p1-p0)) / p0 * 100 — positive when the
// rate of change is itself increasing (SPEC_FULL.md §9.1's resolution of the
// original's `premium_acceleration` placeholder, which stood in an RSI>55
// check that measures momentum, not acceleration).
func PremiumAccelerationPct(p0, p1, p2 float64) float64 {
	if p0 == 0 {
		return 0
	}
	return ((p2 - p1) - (p1 - p0)) / p0 * 100
}
