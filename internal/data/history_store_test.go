package data

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

func TestHistoryStoreSaveLoadRoundTrip(t *testing.T) {
	store, err := NewHistoryStore(filepath.Join(t.TempDir(), "market"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bars := []types.OHLCV{
		{Timestamp: time.Unix(200, 0), Close: decimal.NewFromInt(2)},
		{Timestamp: time.Unix(100, 0), Close: decimal.NewFromInt(1)},
	}
	if err := store.Save("BTCUSDT", types.Timeframe1m, bars); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load("BTCUSDT", types.Timeframe1m)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(loaded))
	}
	if !loaded[0].Timestamp.Before(loaded[1].Timestamp) {
		t.Fatal("expected bars to come back sorted by timestamp")
	}
}

func TestHistoryStoreLoadMissingFileReturnsNil(t *testing.T) {
	store, err := NewHistoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bars, err := store.Load("ETHUSDT", types.Timeframe5m)
	if err != nil {
		t.Fatalf("expected no error for a missing file, got %v", err)
	}
	if bars != nil {
		t.Fatalf("expected nil bars, got %+v", bars)
	}
}

func TestWarmStartSeedsFeedCache(t *testing.T) {
	store, err := NewHistoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bars := []types.OHLCV{{Timestamp: time.Unix(100, 0), Close: decimal.NewFromInt(5)}}
	if err := store.Save("BTCUSDT", types.Timeframe1m, bars); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	feed := NewBinanceFeed(zap.NewNop(), DefaultBinanceFeedConfig("BTCUSDT"))
	if err := store.WarmStart(feed, "BTCUSDT", types.Timeframe1m); err != nil {
		t.Fatalf("warm start failed: %v", err)
	}

	got, err := feed.OHLCV(nil, "BTCUSDT", types.Timeframe1m, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || !got[0].Close.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected warm-started bar to be cached, got %+v", got)
	}
}

func TestSnapshotPersistsFeedCache(t *testing.T) {
	store, err := NewHistoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	feed := NewBinanceFeed(zap.NewNop(), DefaultBinanceFeedConfig("BTCUSDT"))
	feed.ohlcv[cacheKey("BTCUSDT", types.Timeframe1m)] = []types.OHLCV{
		{Timestamp: time.Unix(300, 0), Close: decimal.NewFromInt(9)},
	}

	if err := store.Snapshot(feed, "BTCUSDT", types.Timeframe1m); err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	loaded, err := store.Load("BTCUSDT", types.Timeframe1m)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 1 || !loaded[0].Close.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("expected snapshot to persist the feed's cached bar, got %+v", loaded)
	}
}
