package types

import "time"

// InstrumentType tags the kind of tradable instrument (spec §3). Agents
// dispatch on this field and the capability flags below instead of the
// source's is_crypto substring matching (spec §9 design note).
type InstrumentType string

const (
	InstrumentSpot           InstrumentType = "SPOT"
	InstrumentFutures        InstrumentType = "FUTURES"
	InstrumentOptions        InstrumentType = "OPTIONS"
	InstrumentIndex          InstrumentType = "INDEX"
	InstrumentCryptoSpot     InstrumentType = "CRYPTO_SPOT"
	InstrumentCryptoFutures  InstrumentType = "CRYPTO_FUTURES"
	InstrumentCryptoOptions  InstrumentType = "CRYPTO_OPTIONS"
	InstrumentStock          InstrumentType = "STOCK"
)

// MarketHours describes when an instrument trades: either always (24/7, for
// crypto) or a weekly window in a named timezone (spec §3).
type MarketHours struct {
	Always24x7 bool
	Timezone   string        // IANA timezone name, ignored when Always24x7
	OpenDay    time.Weekday  // ignored when Always24x7
	OpenTime   string        // "HH:MM", ignored when Always24x7
	CloseDay   time.Weekday  // ignored when Always24x7
	CloseTime  string        // "HH:MM", ignored when Always24x7
}

// InstrumentProfile maps (symbol, venue, data-source) to capabilities,
// created once at startup and immutable within a run (spec §3).
type InstrumentProfile struct {
	Symbol   string
	Venue    string
	Currency string
	Region   string
	Type     InstrumentType

	HasOptions bool
	HasFutures bool
	HasSpot    bool

	Derivatives []string // derivative instrument symbols, e.g. futures/options chains

	Hours MarketHours

	// OptimalCadenceMinutes overrides the Scheduler's default Strategic
	// interval when the instrument profile specifies one (spec §4.7/§6).
	OptimalCadenceMinutes int
}

// IsCrypto reports whether this instrument trades on a crypto venue,
// replacing the source's is_crypto substring dispatch with a typed flag.
func (p *InstrumentProfile) IsCrypto() bool {
	switch p.Type {
	case InstrumentCryptoSpot, InstrumentCryptoFutures, InstrumentCryptoOptions:
		return true
	default:
		return false
	}
}

// TradesNow reports whether the instrument is open for trading at t.
func (p *InstrumentProfile) TradesNow(t time.Time) bool {
	if p.Hours.Always24x7 {
		return true
	}
	loc, err := time.LoadLocation(p.Hours.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := t.In(loc)
	if !weekdayInRange(local.Weekday(), p.Hours.OpenDay, p.Hours.CloseDay) {
		return false
	}
	open, err1 := time.ParseInLocation("15:04", p.Hours.OpenTime, loc)
	closeT, err2 := time.ParseInLocation("15:04", p.Hours.CloseTime, loc)
	if err1 != nil || err2 != nil {
		return true
	}
	minutesNow := local.Hour()*60 + local.Minute()
	minutesOpen := open.Hour()*60 + open.Minute()
	minutesClose := closeT.Hour()*60 + closeT.Minute()
	return minutesNow >= minutesOpen && minutesNow <= minutesClose
}

// weekdayInRange reports whether day falls within [open, close] inclusive,
// a plain Sunday-Saturday window (the venues this profile targets never
// wrap across the week boundary, e.g. Friday-to-Monday).
func weekdayInRange(day, open, close time.Weekday) bool {
	return day >= open && day <= close
}
