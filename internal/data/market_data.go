// Package data provides the production market-data adapter: a Binance
// combined-stream WebSocket client that keeps a rolling per-instrument tick
// and OHLCV cache and serves interfaces.MarketDataAdapter's LatestTick/OHLCV
// directly from it. Grounded on the teacher's real-time market data service
// (ticker/trade/depth/kline stream handling, reconnect monitor), adapted from
// its own PriceUpdate/OHLCV wrapper structs to pkg/types.Tick/OHLCV so the
// cache IS the adapter rather than something translated at the call site.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

// BinanceFeedConfig configures a BinanceFeed.
type BinanceFeedConfig struct {
	WSURL      string
	Symbols    []string
	Intervals  []types.Timeframe
	BufferSize int
}

// DefaultBinanceFeedConfig returns sane defaults for a single-instrument run.
func DefaultBinanceFeedConfig(symbol string) BinanceFeedConfig {
	return BinanceFeedConfig{
		WSURL:      "wss://stream.binance.com:9443/ws",
		Symbols:    []string{symbol},
		Intervals:  []types.Timeframe{types.Timeframe1m, types.Timeframe5m, types.Timeframe15m},
		BufferSize: 200,
	}
}

// BinanceFeed is a live interfaces.MarketDataAdapter backed by Binance's
// combined ticker/depth/kline streams.
type BinanceFeed struct {
	log    *zap.Logger
	config BinanceFeedConfig

	connMu sync.RWMutex
	conn   *websocket.Conn

	subMu         sync.RWMutex
	subscriptions map[string]bool

	tickMu sync.RWMutex
	ticks  map[string]types.Tick

	ohlcvMu sync.RWMutex
	ohlcv   map[string][]types.OHLCV

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewBinanceFeed builds a feed; call Start to connect and begin streaming.
func NewBinanceFeed(logger *zap.Logger, config BinanceFeedConfig) *BinanceFeed {
	return &BinanceFeed{
		log:           logger.Named("market_data"),
		config:        config,
		subscriptions: make(map[string]bool),
		ticks:         make(map[string]types.Tick),
		ohlcv:         make(map[string][]types.OHLCV),
	}
}

// Start connects to the stream, subscribes to the configured symbols, and
// starts the read loop and the reconnect monitor. It returns once the
// initial connection succeeds; streaming continues in the background until
// ctx is cancelled.
func (f *BinanceFeed) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.running = true

	if err := f.connect(); err != nil {
		return fmt.Errorf("connect to market data stream: %w", err)
	}
	for _, symbol := range f.config.Symbols {
		if err := f.subscribe(symbol); err != nil {
			f.log.Warn("subscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	go f.readLoop()
	go f.reconnectMonitor()

	f.log.Info("market data feed started", zap.Int("symbols", len(f.config.Symbols)))
	return nil
}

// Stop tears down the connection and stops the background loops.
func (f *BinanceFeed) Stop() {
	f.running = false
	if f.cancel != nil {
		f.cancel()
	}
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.connMu.Unlock()
}

// LatestTick implements interfaces.MarketDataAdapter.
func (f *BinanceFeed) LatestTick(ctx context.Context, instrument string) (types.Tick, error) {
	f.tickMu.RLock()
	defer f.tickMu.RUnlock()
	tick, ok := f.ticks[strings.ToUpper(instrument)]
	if !ok {
		return types.Tick{}, fmt.Errorf("no tick cached yet for %s", instrument)
	}
	return tick, nil
}

// OHLCV implements interfaces.MarketDataAdapter.
func (f *BinanceFeed) OHLCV(ctx context.Context, instrument string, tf types.Timeframe, limit int) ([]types.OHLCV, error) {
	key := cacheKey(instrument, tf)
	f.ohlcvMu.RLock()
	defer f.ohlcvMu.RUnlock()
	bars := f.ohlcv[key]
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]types.OHLCV, len(bars))
	copy(out, bars)
	return out, nil
}

func cacheKey(instrument string, tf types.Timeframe) string {
	return strings.ToUpper(instrument) + ":" + string(tf)
}

func (f *BinanceFeed) connect() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	u, err := url.Parse(f.config.WSURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	f.conn = conn
	f.log.Debug("connected to market data stream")
	return nil
}

func (f *BinanceFeed) subscribe(symbol string) error {
	f.subMu.Lock()
	if f.subscriptions[symbol] {
		f.subMu.Unlock()
		return nil
	}
	f.subscriptions[symbol] = true
	f.subMu.Unlock()

	lower := strings.ToLower(symbol)
	streams := []string{
		lower + "@ticker",
		lower + "@depth20@100ms",
	}
	for _, tf := range f.config.Intervals {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", lower, tf))
	}

	msg := map[string]interface{}{"method": "SUBSCRIBE", "params": streams, "id": time.Now().UnixNano()}

	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	return f.conn.WriteJSON(msg)
}

func (f *BinanceFeed) readLoop() {
	for f.running {
		f.connMu.RLock()
		conn := f.conn
		f.connMu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.running {
				f.log.Error("market data read error", zap.Error(err))
				// Drop the failed connection so reconnectMonitor dials a new one.
				f.connMu.Lock()
				if f.conn == conn {
					conn.Close()
					f.conn = nil
				}
				f.connMu.Unlock()
			}
			continue
		}
		f.handleMessage(message)
	}
}

func (f *BinanceFeed) handleMessage(data []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	eventType, _ := msg["e"].(string)
	switch eventType {
	case "24hrTicker":
		f.handleTicker(msg)
	case "depthUpdate":
		f.handleDepth(msg)
	case "kline":
		f.handleKline(msg)
	}
}

func (f *BinanceFeed) handleTicker(msg map[string]interface{}) {
	symbol, _ := msg["s"].(string)
	if symbol == "" {
		return
	}
	price := decimalField(msg, "c")
	bid := decimalField(msg, "b")
	ask := decimalField(msg, "a")
	totalBuy := decimalField(msg, "Q")
	totalSell := decimalField(msg, "q")
	ts, _ := msg["E"].(float64)

	f.tickMu.Lock()
	existing := f.ticks[symbol]
	f.ticks[symbol] = types.Tick{
		Instrument:   symbol,
		Price:        price,
		BestBid:      bid,
		BestAsk:      ask,
		DepthTop5Bid: existing.DepthTop5Bid,
		DepthTop5Ask: existing.DepthTop5Ask,
		TotalBuyQty:  totalBuy,
		TotalSellQty: totalSell,
		Timestamp:    time.UnixMilli(int64(ts)),
	}
	f.tickMu.Unlock()
}

func (f *BinanceFeed) handleDepth(msg map[string]interface{}) {
	symbol, _ := msg["s"].(string)
	if symbol == "" {
		return
	}
	bidsRaw, _ := msg["b"].([]interface{})
	asksRaw, _ := msg["a"].([]interface{})
	bids := parseOrderBookLevels(bidsRaw, 5)
	asks := parseOrderBookLevels(asksRaw, 5)

	f.tickMu.Lock()
	tick := f.ticks[symbol]
	tick.Instrument = symbol
	tick.DepthTop5Bid = bids
	tick.DepthTop5Ask = asks
	f.ticks[symbol] = tick
	f.tickMu.Unlock()
}

func (f *BinanceFeed) handleKline(msg map[string]interface{}) {
	kline, ok := msg["k"].(map[string]interface{})
	if !ok {
		return
	}
	symbol, _ := kline["s"].(string)
	interval, _ := kline["i"].(string)
	closed, _ := kline["x"].(bool)
	if symbol == "" || !closed {
		return // only cache completed candles
	}
	ts, _ := kline["t"].(float64)

	bar := types.OHLCV{
		Timestamp: time.UnixMilli(int64(ts)),
		Open:      decimalField(kline, "o"),
		High:      decimalField(kline, "h"),
		Low:       decimalField(kline, "l"),
		Close:     decimalField(kline, "c"),
		Volume:    decimalField(kline, "v"),
	}

	key := cacheKey(symbol, types.Timeframe(interval))
	f.ohlcvMu.Lock()
	bars := append(f.ohlcv[key], bar)
	if limit := f.config.BufferSize; limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	f.ohlcv[key] = bars
	f.ohlcvMu.Unlock()
}

func (f *BinanceFeed) reconnectMonitor() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.connMu.RLock()
			conn := f.conn
			f.connMu.RUnlock()
			if conn != nil || !f.running {
				continue
			}
			f.log.Info("reconnecting to market data stream")
			if err := f.connect(); err != nil {
				f.log.Error("reconnect failed", zap.Error(err))
				continue
			}
			f.subMu.Lock()
			symbols := make([]string, 0, len(f.subscriptions))
			for symbol := range f.subscriptions {
				symbols = append(symbols, symbol)
				f.subscriptions[symbol] = false
			}
			f.subMu.Unlock()
			for _, symbol := range symbols {
				if err := f.subscribe(symbol); err != nil {
					f.log.Warn("resubscribe failed", zap.String("symbol", symbol), zap.Error(err))
				}
			}
		}
	}
}

func decimalField(msg map[string]interface{}, key string) decimal.Decimal {
	s, _ := msg[key].(string)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseOrderBookLevels(raw []interface{}, limit int) []types.OrderBookLevel {
	if len(raw) > limit {
		raw = raw[:limit]
	}
	levels := make([]types.OrderBookLevel, 0, len(raw))
	for _, r := range raw {
		level, ok := r.([]interface{})
		if !ok || len(level) < 2 {
			continue
		}
		priceStr, _ := level[0].(string)
		qtyStr, _ := level[1].(string)
		price, _ := decimal.NewFromString(priceStr)
		qty, _ := decimal.NewFromString(qtyStr)
		levels = append(levels, types.OrderBookLevel{Price: price, Quantity: qty})
	}
	return levels
}
