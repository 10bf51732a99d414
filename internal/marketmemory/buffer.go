// Package marketmemory holds the bounded rolling OHLC/tick buffers that back
// the rule engine's indicator math (SPEC_FULL.md §4.8). Adapted from internal/data/store.go's
// cache map, replacing its unbounded per-symbol slice with a fixed-capacity
// ring so the process's memory footprint for a long-running instrument never
// grows with uptime (spec §3: "Last 60 1-min candles" / "Last 100 5-min
// candles" style fixed windows per timeframe).
package marketmemory

import (
	"sync"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

// Capacity is the default ring size for a timeframe bucket, mirroring the
// original's per-timeframe window sizes (60 x 1m, 100 x 5m, 100 x 15m, 60 x
// 1h, 60 x 1d — original_source/agents/state.py's ohlc_* field comments).
var Capacity = map[types.Timeframe]int{
	types.Timeframe1m:  60,
	types.Timeframe5m:  100,
	types.Timeframe15m: 100,
	types.Timeframe1h:  60,
	types.Timeframe1d:  60,
}

const defaultCapacity = 100
const tickCapacity = 500

// Buffer holds rolling OHLC buckets per timeframe and a rolling tick buffer,
// for one instrument, safe for concurrent readers and a single writer.
type Buffer struct {
	mu    sync.RWMutex
	ohlc  map[types.Timeframe][]types.OHLCV
	ticks []types.Tick
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{ohlc: make(map[types.Timeframe][]types.OHLCV)}
}

// PushOHLCV appends bar to its timeframe bucket, evicting the oldest entry
// once the bucket's capacity is reached.
func (b *Buffer) PushOHLCV(tf types.Timeframe, bar types.OHLCV) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cap := Capacity[tf]
	if cap == 0 {
		cap = defaultCapacity
	}
	bucket := append(b.ohlc[tf], bar)
	if len(bucket) > cap {
		bucket = bucket[len(bucket)-cap:]
	}
	b.ohlc[tf] = bucket
}

// OHLC returns a copy of the current bucket for tf, oldest first.
func (b *Buffer) OHLC(tf types.Timeframe) []types.OHLCV {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.OHLCV, len(b.ohlc[tf]))
	copy(out, b.ohlc[tf])
	return out
}

// PushTick appends a tick to the rolling tick buffer, evicting the oldest
// once tickCapacity is reached (spec §6's latest_tick plus the rule
// engine's volume_spike/premium_acceleration windows, SPEC_FULL.md §9.1).
func (b *Buffer) PushTick(t types.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ticks = append(b.ticks, t)
	if len(b.ticks) > tickCapacity {
		b.ticks = b.ticks[len(b.ticks)-tickCapacity:]
	}
}

// Ticks returns a copy of the rolling tick buffer, oldest first.
func (b *Buffer) Ticks() []types.Tick {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Tick, len(b.ticks))
	copy(out, b.ticks)
	return out
}

// LastTick returns the most recent tick and whether one exists.
func (b *Buffer) LastTick() (types.Tick, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ticks) == 0 {
		return types.Tick{}, false
	}
	return b.ticks[len(b.ticks)-1], true
}

// RecentTicks returns the last n ticks (fewer if not enough are buffered yet),
// oldest first — used by the rolling-mean/second-derivative formulas in
// internal/ruleengine.
func (b *Buffer) RecentTicks(n int) []types.Tick {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > len(b.ticks) {
		n = len(b.ticks)
	}
	out := make([]types.Tick, n)
	copy(out, b.ticks[len(b.ticks)-n:])
	return out
}
