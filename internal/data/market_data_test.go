package data

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

func newTestFeed() *BinanceFeed {
	return NewBinanceFeed(zap.NewNop(), DefaultBinanceFeedConfig("BTCUSDT"))
}

func TestHandleTickerUpdatesCache(t *testing.T) {
	f := newTestFeed()
	msg := []byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"65000.50","b":"65000.00","a":"65001.00","Q":"1.5","q":"2.0","E":1700000000000}`)
	f.handleMessage(msg)

	tick, err := f.LatestTick(nil, "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tick.Price.Equal(decimal.RequireFromString("65000.50")) {
		t.Fatalf("expected price 65000.50, got %s", tick.Price)
	}
	if !tick.BestBid.Equal(decimalOf("65000.00")) || !tick.BestAsk.Equal(decimalOf("65001.00")) {
		t.Fatalf("unexpected bid/ask: %s/%s", tick.BestBid, tick.BestAsk)
	}
}

func TestLatestTickErrorsWhenUncached(t *testing.T) {
	f := newTestFeed()
	if _, err := f.LatestTick(nil, "ETHUSDT"); err == nil {
		t.Fatal("expected error for an instrument with no cached tick")
	}
}

func TestHandleDepthMergesIntoExistingTick(t *testing.T) {
	f := newTestFeed()
	f.handleMessage([]byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"100","b":"99","a":"101","Q":"1","q":"1","E":1700000000000}`))
	f.handleMessage([]byte(`{"e":"depthUpdate","s":"BTCUSDT","b":[["99.00","2.0"]],"a":[["101.00","3.0"]]}`))

	tick, err := f.LatestTick(nil, "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tick.DepthTop5Bid) != 1 || !tick.DepthTop5Bid[0].Price.Equal(decimalOf("99.00")) {
		t.Fatalf("expected depth bid to be populated, got %+v", tick.DepthTop5Bid)
	}
	if !tick.Price.Equal(decimalOf("100")) {
		t.Fatalf("expected price to survive the depth merge, got %s", tick.Price)
	}
}

func TestHandleKlineOnlyCachesClosedCandles(t *testing.T) {
	f := newTestFeed()
	open := map[string]interface{}{
		"e": "kline",
		"k": map[string]interface{}{
			"s": "BTCUSDT", "i": "1m", "x": false,
			"t": float64(1700000000000), "o": "1", "h": "2", "l": "0.5", "c": "1.5", "v": "10",
		},
	}
	raw, _ := json.Marshal(open)
	f.handleMessage(raw)

	bars, err := f.OHLCV(nil, "BTCUSDT", types.Timeframe1m, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 0 {
		t.Fatalf("expected an open candle not to be cached, got %d bars", len(bars))
	}

	closed := map[string]interface{}{
		"e": "kline",
		"k": map[string]interface{}{
			"s": "BTCUSDT", "i": "1m", "x": true,
			"t": float64(1700000000000), "o": "1", "h": "2", "l": "0.5", "c": "1.5", "v": "10",
		},
	}
	raw, _ = json.Marshal(closed)
	f.handleMessage(raw)

	bars, err = f.OHLCV(nil, "BTCUSDT", types.Timeframe1m, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected one closed candle to be cached, got %d", len(bars))
	}
}

func TestOHLCVTrimsToLimit(t *testing.T) {
	f := newTestFeed()
	for i := 0; i < 5; i++ {
		bar := map[string]interface{}{
			"e": "kline",
			"k": map[string]interface{}{
				"s": "BTCUSDT", "i": "1m", "x": true,
				"t": float64(1700000000000 + i*60000), "o": "1", "h": "2", "l": "0.5", "c": "1.5", "v": "10",
			},
		}
		raw, _ := json.Marshal(bar)
		f.handleMessage(raw)
	}

	bars, err := f.OHLCV(nil, "BTCUSDT", types.Timeframe1m, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected limit to trim to 2 bars, got %d", len(bars))
	}
}

func decimalOf(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
