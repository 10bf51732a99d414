package data

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

// HistoryStore persists OHLCV bars to disk so BinanceFeed has something to
// serve immediately on startup, before the live kline stream has built up
// enough candles on its own. Grounded on the teacher's file-backed OHLCV
// cache, trimmed of its backtest sample-data generator — no longer a
// consumer of generated bars once a live feed exists.
type HistoryStore struct {
	mu      sync.RWMutex
	dataDir string
}

// NewHistoryStore creates dataDir if needed and returns a HistoryStore over it.
func NewHistoryStore(dataDir string) (*HistoryStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &HistoryStore{dataDir: dataDir}, nil
}

func (s *HistoryStore) filename(instrument string, tf types.Timeframe) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("%s_%s.json", instrument, tf))
}

// Load returns the persisted bars for (instrument, tf), sorted by
// timestamp, or nil if none have been saved yet.
func (s *HistoryStore) Load(instrument string, tf types.Timeframe) ([]types.OHLCV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := os.ReadFile(s.filename(instrument, tf))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history file: %w", err)
	}
	var bars []types.OHLCV
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("parse history file: %w", err)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// Save persists bars for (instrument, tf), overwriting any prior snapshot.
func (s *HistoryStore) Save(instrument string, tf types.Timeframe, bars []types.OHLCV) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return os.WriteFile(s.filename(instrument, tf), raw, 0o644)
}

// WarmStart seeds a feed's OHLCV cache for (instrument, tf) from whatever
// was last persisted, so OHLCV callers get useful data before the
// live stream has accumulated its own closed candles.
func (s *HistoryStore) WarmStart(feed *BinanceFeed, instrument string, tf types.Timeframe) error {
	bars, err := s.Load(instrument, tf)
	if err != nil || len(bars) == 0 {
		return err
	}
	key := cacheKey(instrument, tf)
	feed.ohlcvMu.Lock()
	feed.ohlcv[key] = bars
	feed.ohlcvMu.Unlock()
	return nil
}

// Snapshot persists the feed's current in-memory bars for (instrument, tf),
// intended to be called periodically or on shutdown so the next run's
// WarmStart has fresh data.
func (s *HistoryStore) Snapshot(feed *BinanceFeed, instrument string, tf types.Timeframe) error {
	feed.ohlcvMu.RLock()
	bars := append([]types.OHLCV(nil), feed.ohlcv[cacheKey(instrument, tf)]...)
	feed.ohlcvMu.RUnlock()
	return s.Save(instrument, tf, bars)
}
