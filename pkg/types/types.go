// Package types provides shared type definitions used across the trading
// decision engine: market primitives, order/trade records, and the
// instrument-agnostic profile that lets agents dispatch on capability flags
// instead of string matching.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus represents the lifecycle status of a placed order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusComplete  OrderStatus = "complete"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Timeframe represents an OHLC candle timeframe.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

// OHLCV represents a single candlestick.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// OrderBookLevel represents a single price level in a depth snapshot.
type OrderBookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Tick is the latest-quote snapshot returned by the market-data adapter
// (spec §6, market-data adapter's latest_tick operation).
type Tick struct {
	Instrument   string           `json:"instrument"`
	Price        decimal.Decimal  `json:"price"`
	BestBid      decimal.Decimal  `json:"bestBid"`
	BestAsk      decimal.Decimal  `json:"bestAsk"`
	DepthTop5Bid []OrderBookLevel `json:"depthTop5Bid"`
	DepthTop5Ask []OrderBookLevel `json:"depthTop5Ask"`
	TotalBuyQty  decimal.Decimal  `json:"totalBuyQty"`
	TotalSellQty decimal.Decimal  `json:"totalSellQty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// NewsItem is a single news/sentiment datapoint (spec §6, news adapter).
type NewsItem struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Sentiment float64   `json:"sentiment"` // [-1, +1]
}

// Order is a broker order request/result (spec §6, broker adapter).
type Order struct {
	ClientOrderID string          `json:"clientOrderId"`
	Instrument    string          `json:"instrument"`
	Side          OrderSide       `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	StopLoss      decimal.Decimal `json:"stopLoss"`
	TakeProfit    decimal.Decimal `json:"takeProfit"`
}

// OrderResult is the broker's response to a placed order.
type OrderResult struct {
	OrderID       string          `json:"orderId"`
	FilledPrice   decimal.Decimal `json:"filledPrice"`
	FilledQty     decimal.Decimal `json:"filledQuantity"`
	Status        OrderStatus     `json:"status"`
	Timestamp     time.Time       `json:"timestamp"`
}

// OptionsChainEntry is a single strike's open-interest snapshot from the
// derivatives adapter (spec §6).
type OptionsChainEntry struct {
	Strike      decimal.Decimal `json:"strike"`
	CallOI      decimal.Decimal `json:"callOi"`
	PutOI       decimal.Decimal `json:"putOi"`
	CallPremium decimal.Decimal `json:"callPremium"`
	PutPremium  decimal.Decimal `json:"putPremium"`
}

// FuturesSnapshot is the latest futures/funding datapoint from the
// derivatives adapter.
type FuturesSnapshot struct {
	Instrument  string          `json:"instrument"`
	LastPrice   decimal.Decimal `json:"lastPrice"`
	FundingRate decimal.Decimal `json:"fundingRate"`
	Timestamp   time.Time       `json:"timestamp"`
}
