// Package instrument detects an InstrumentProfile from a symbol/exchange/
// data-source triple, generic over region, currency and instrument type —
// no hardcoded NIFTY/BTC special cases wired into the agents themselves
// (spec §3/§9). Grounded on
// original_source/engines/instrument_detector.py, translated from its
// string-dispatch methods into small table-driven Go functions.
package instrument

import (
	"strings"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

var exchangeRegions = map[string]string{
	"NSE": "INDIA", "BSE": "INDIA", "NFO": "INDIA", "MCX": "INDIA",
	"BINANCE": "GLOBAL", "COINBASE": "GLOBAL",
	"NYSE": "USA", "NASDAQ": "USA", "CME": "USA", "ICE": "USA",
}

var currencyByExchange = map[string]string{
	"NSE": "INR", "BSE": "INR", "NFO": "INR", "MCX": "INR",
	"NYSE": "USD", "NASDAQ": "USD", "CME": "USD", "COINBASE": "USD",
}

var dataSourceRegion = map[string]string{
	"ZERODHA": "INDIA", "BINANCE": "GLOBAL", "IBKR": "USA", "ALPACA": "USA",
}

// Detect builds an InstrumentProfile for symbol traded on exchange via
// dataSource. It never returns an error — an unrecognized exchange/data
// source just falls back to GLOBAL/USD/24x7/SPOT, matching the original's
// "default: assume spot available" fallback.
func Detect(symbol, exchange, dataSource string) types.InstrumentProfile {
	sym := strings.ToUpper(symbol)
	exch := strings.ToUpper(exchange)
	ds := strings.ToUpper(dataSource)

	region := detectRegion(exch, ds)
	currency := detectCurrency(exch, sym, ds)
	instrumentType := detectInstrumentType(sym, exch, ds)
	hasOptions, hasFutures, hasSpot := detectDerivatives(exch, ds, instrumentType)
	hours := detectMarketHours(exch, ds, instrumentType)
	cadence := optimalCadence(instrumentType, hasOptions, hasFutures)

	return types.InstrumentProfile{
		Symbol:                symbol,
		Venue:                 exchange,
		Currency:              currency,
		Region:                region,
		Type:                  instrumentType,
		HasOptions:            hasOptions,
		HasFutures:            hasFutures,
		HasSpot:               hasSpot,
		Derivatives:           derivativesList(hasOptions, hasFutures, instrumentType),
		Hours:                 hours,
		OptimalCadenceMinutes: cadence,
	}
}

func detectRegion(exchange, dataSource string) string {
	if r, ok := exchangeRegions[exchange]; ok {
		return r
	}
	if r, ok := dataSourceRegion[dataSource]; ok {
		return r
	}
	return "GLOBAL"
}

func detectCurrency(exchange, symbol, dataSource string) string {
	if c, ok := currencyByExchange[exchange]; ok {
		return c
	}
	switch {
	case strings.Contains(symbol, "-USD"), strings.HasSuffix(symbol, "USD"), strings.HasSuffix(symbol, "USDT"):
		return "USD"
	case strings.Contains(symbol, "-INR"), strings.HasSuffix(symbol, "INR"):
		return "INR"
	case strings.Contains(symbol, "-BTC"):
		return "BTC"
	case strings.Contains(symbol, "-ETH"):
		return "ETH"
	}
	switch dataSource {
	case "ZERODHA":
		return "INR"
	case "BINANCE", "COINBASE":
		return "USD"
	}
	return "USD"
}

func detectInstrumentType(symbol, exchange, dataSource string) types.InstrumentType {
	switch {
	case exchange == "NFO" || exchange == "OPRA" || strings.Contains(exchange, "OPT"):
		return types.InstrumentOptions
	case dataSource == "BINANCE" || dataSource == "COINBASE":
		switch {
		case strings.Contains(symbol, "FUTURES"), strings.Contains(symbol, "PERP"):
			return types.InstrumentCryptoFutures
		case strings.Contains(symbol, "OPTION"), strings.Contains(symbol, "-C"), strings.Contains(symbol, "-P"):
			return types.InstrumentCryptoOptions
		default:
			return types.InstrumentCryptoSpot
		}
	case exchange == "MCX" || exchange == "CME" || exchange == "ICE":
		return types.InstrumentFutures
	case strings.Contains(symbol, "CE"), strings.Contains(symbol, "PE"):
		return types.InstrumentOptions
	case strings.HasSuffix(symbol, "-C"), strings.HasSuffix(symbol, "-P"):
		return types.InstrumentOptions
	case containsAny(symbol, "NIFTY", "BANKNIFTY", "SPX", "DJI", "NDX"):
		return types.InstrumentIndex
	case exchange == "NSE" || exchange == "BSE" || exchange == "NYSE" || exchange == "NASDAQ":
		return types.InstrumentStock
	default:
		return types.InstrumentSpot
	}
}

func detectDerivatives(exchange, dataSource string, instrumentType types.InstrumentType) (hasOptions, hasFutures, hasSpot bool) {
	switch {
	case dataSource == "BINANCE" || dataSource == "COINBASE":
		hasFutures, hasSpot = true, true
	case dataSource == "ZERODHA" && (exchange == "NSE" || exchange == "BSE"):
		switch instrumentType {
		case types.InstrumentIndex:
			hasOptions, hasFutures = true, true
		case types.InstrumentStock:
			hasOptions, hasSpot = true, true
		default:
			hasSpot = true
		}
	case dataSource == "IBKR" || dataSource == "ALPACA":
		switch instrumentType {
		case types.InstrumentIndex:
			hasOptions, hasFutures = true, true
		case types.InstrumentStock:
			hasOptions, hasSpot = true, true
		}
	case exchange == "MCX" || exchange == "CME" || exchange == "ICE":
		hasFutures = true
	case exchange == "NFO" || exchange == "OPRA":
		hasOptions = true
	}
	if !hasOptions && !hasFutures {
		hasSpot = true
	}
	return hasOptions, hasFutures, hasSpot
}

func detectMarketHours(exchange, dataSource string, instrumentType types.InstrumentType) types.MarketHours {
	if dataSource == "BINANCE" || dataSource == "COINBASE" || isCryptoType(instrumentType) {
		return types.MarketHours{Always24x7: true, Timezone: "UTC"}
	}
	if dataSource == "ZERODHA" || exchange == "NSE" || exchange == "BSE" || exchange == "NFO" || exchange == "MCX" {
		return types.MarketHours{Timezone: "Asia/Kolkata", OpenTime: "09:15", CloseTime: "15:30", OpenDay: 1, CloseDay: 5}
	}
	if exchange == "NYSE" || exchange == "NASDAQ" || exchange == "CME" || exchange == "ICE" {
		return types.MarketHours{Timezone: "America/New_York", OpenTime: "09:30", CloseTime: "16:00", OpenDay: 1, CloseDay: 5}
	}
	return types.MarketHours{Always24x7: true, Timezone: "UTC"}
}

// optimalCadence mirrors the original's priority order: options first (OI
// moves slowly), then crypto (fast-moving), then futures, then stocks,
// defaulting to 15 minutes.
func optimalCadence(instrumentType types.InstrumentType, hasOptions, hasFutures bool) int {
	switch {
	case hasOptions:
		return 15
	case instrumentType == types.InstrumentCryptoSpot, instrumentType == types.InstrumentCryptoFutures, instrumentType == types.InstrumentCryptoOptions:
		return 10
	case hasFutures:
		return 15
	case instrumentType == types.InstrumentStock:
		return 30
	default:
		return 15
	}
}

func derivativesList(hasOptions, hasFutures bool, instrumentType types.InstrumentType) []string {
	var out []string
	if hasOptions {
		out = append(out, "options_chain")
	}
	if hasFutures {
		out = append(out, "futures")
		if instrumentType == types.InstrumentCryptoFutures || instrumentType == types.InstrumentCryptoSpot {
			out = append(out, "funding_rate")
		}
	}
	if hasOptions || hasFutures {
		out = append(out, "open_interest")
	}
	return out
}

func isCryptoType(t types.InstrumentType) bool {
	switch t {
	case types.InstrumentCryptoSpot, types.InstrumentCryptoFutures, types.InstrumentCryptoOptions:
		return true
	default:
		return false
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
