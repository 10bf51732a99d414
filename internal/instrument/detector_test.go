// Package instrument_test provides tests for instrument profile detection.
package instrument_test

import (
	"testing"
	"time"

	"github.com/atlas-ai/trading-engine/internal/instrument"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

func TestDetectCryptoSpot(t *testing.T) {
	p := instrument.Detect("BTCUSDT", "BINANCE", "BINANCE")

	if p.Type != types.InstrumentCryptoSpot {
		t.Errorf("expected CRYPTO_SPOT, got %s", p.Type)
	}
	if !p.IsCrypto() {
		t.Error("expected IsCrypto() to be true")
	}
	if !p.Hours.Always24x7 {
		t.Error("expected crypto venue to be 24/7")
	}
	if !p.TradesNow(time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC)) {
		t.Error("expected a 24/7 instrument to always be trading")
	}
}

func TestDetectIndianIndexOptions(t *testing.T) {
	p := instrument.Detect("NIFTY BANK", "NFO", "ZERODHA")

	if p.Type != types.InstrumentOptions {
		t.Errorf("expected OPTIONS (NFO exchange short-circuits index detection), got %s", p.Type)
	}
	if p.Currency != "INR" {
		t.Errorf("expected INR, got %s", p.Currency)
	}
	if p.Region != "INDIA" {
		t.Errorf("expected INDIA, got %s", p.Region)
	}
}

func TestDetectUSStock(t *testing.T) {
	p := instrument.Detect("AAPL", "NASDAQ", "ALPACA")

	if p.Type != types.InstrumentStock {
		t.Errorf("expected STOCK, got %s", p.Type)
	}
	if !p.HasOptions || !p.HasSpot {
		t.Errorf("expected US stock to have options and spot, got options=%v spot=%v", p.HasOptions, p.HasSpot)
	}
	if p.OptimalCadenceMinutes != 15 {
		t.Errorf("expected 15 minute cadence once options are detected, got %d", p.OptimalCadenceMinutes)
	}
}

func TestTradesNowRespectsWeekdayWindow(t *testing.T) {
	p := instrument.Detect("NIFTY", "NSE", "ZERODHA")

	monday915 := time.Date(2026, 8, 3, 9, 20, 0, 0, mustLoadLocation(t, "Asia/Kolkata"))
	if !p.TradesNow(monday915) {
		t.Error("expected NSE instrument to be trading Monday 09:20 IST")
	}

	saturday := time.Date(2026, 8, 1, 10, 0, 0, 0, mustLoadLocation(t, "Asia/Kolkata"))
	if p.TradesNow(saturday) {
		t.Error("expected NSE instrument to be closed on Saturday")
	}

	mondayEvening := time.Date(2026, 8, 3, 20, 0, 0, 0, mustLoadLocation(t, "Asia/Kolkata"))
	if p.TradesNow(mondayEvening) {
		t.Error("expected NSE instrument to be closed after 15:30 IST")
	}
}

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("tzdata for %s not available in this environment: %v", name, err)
	}
	return loc
}
