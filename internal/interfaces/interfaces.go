// Package interfaces defines the boundary contracts between the decision
// engine and the outside world — market data, news, a broker, derivatives
// data, a KV cache, a document store, and an alert router (spec §6). Every
// external integration implements one of these; the engine itself never
// imports a concrete exchange/broker package. Grounded on
// internal/execution/executor.go's ExchangeAdapter interface, generalized
// from "one exchange" to "one capability" per spec §6.
package interfaces

import (
	"context"
	"time"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

// MarketDataAdapter supplies OHLCV history, order book depth, and the
// latest tick for an instrument (spec §6).
type MarketDataAdapter interface {
	LatestTick(ctx context.Context, instrument string) (types.Tick, error)
	OHLCV(ctx context.Context, instrument string, tf types.Timeframe, limit int) ([]types.OHLCV, error)
}

// NewsAdapter supplies recent news items for sentiment analysis (spec §6).
type NewsAdapter interface {
	Latest(ctx context.Context, instrument string, limit int) ([]types.NewsItem, error)
}

// DerivativesAdapter supplies options-chain and futures data (spec §6).
type DerivativesAdapter interface {
	OptionsChain(ctx context.Context, instrument string) ([]types.OptionsChainEntry, error)
	Futures(ctx context.Context, instrument string) (types.FuturesSnapshot, error)
}

// BrokerAdapter places and reports on orders (spec §6's place_order
// signature: instrument, side, quantity, entry/stop/target).
type BrokerAdapter interface {
	PlaceOrder(ctx context.Context, order types.Order) (types.OrderResult, error)
}

// KVCache is the Strategy Planner's rule-bundle persistence layer (spec
// §4.5: publish a RuleBundle with a TTL).
type KVCache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

// DocumentStore is the Decision Record Gateway's persistence layer (spec
// §3/§6): append-only, queryable by recency.
type DocumentStore interface {
	Insert(ctx context.Context, record types.DecisionRecord) error
	ListSince(ctx context.Context, since time.Time) ([]types.DecisionRecord, error)
}

// AlertRouter delivers non-blocking operational alerts (spec §6). Also
// satisfies internal/llm.AlertSink.
type AlertRouter interface {
	Publish(ctx context.Context, alert types.Alert) error
}
