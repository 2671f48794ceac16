package market

import (
	"fmt"
	"strings"
)

// Instrument describes a tradable FX pair. Instances are immutable and
// shared by value; every component keys its state by Instrument.ID.
type Instrument struct {
	ID            string  `json:"id"`             // canonical, e.g. "EUR_USD"
	Base          string  `json:"base"`           // e.g. "EUR"
	Quote         string  `json:"quote"`          // e.g. "USD"
	PipSize       float64 `json:"pip_size"`       // 0.0001 for most pairs, 0.01 for JPY quotes
	DecimalFactor float64 `json:"decimal_factor"` // broker scaled-ticks factor, e.g. 100000
}

// NewInstrument builds an Instrument from a canonical ID like "EUR_USD".
// Pip size and decimal factor follow the quote currency convention.
func NewInstrument(id string) (Instrument, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 2 || len(parts[0]) != 3 || len(parts[1]) != 3 {
		return Instrument{}, fmt.Errorf("invalid instrument id: %q", id)
	}

	inst := Instrument{
		ID:            id,
		Base:          parts[0],
		Quote:         parts[1],
		PipSize:       0.0001,
		DecimalFactor: 100000,
	}
	if parts[1] == "JPY" {
		inst.PipSize = 0.01
		inst.DecimalFactor = 1000
	}
	return inst, nil
}

// ToPips converts a raw price difference to pips.
func (i Instrument) ToPips(priceDelta float64) float64 {
	return priceDelta / i.PipSize
}

// FromPips converts pips to a raw price difference.
func (i Instrument) FromPips(pips float64) float64 {
	return pips * i.PipSize
}

// SpreadPips computes the bid/ask spread in pips. Returns an error when
// either side is missing so callers never fabricate a zero spread.
func (i Instrument) SpreadPips(bid, ask float64) (float64, error) {
	if bid <= 0 || ask <= 0 {
		return 0, fmt.Errorf("spread unavailable for %s: bid=%.5f ask=%.5f", i.ID, bid, ask)
	}
	spread := i.ToPips(ask - bid)
	if spread < 0 {
		return 0, fmt.Errorf("crossed quote for %s: bid=%.5f ask=%.5f", i.ID, bid, ask)
	}
	return spread, nil
}

// RawSpreadPips converts a broker scaled-ticks spread integer to pips.
// Fallback path for feeds that deliver SPREAD without bid/ask.
func (i Instrument) RawSpreadPips(raw float64) float64 {
	return raw / (i.DecimalFactor * i.PipSize)
}

// HasCurrency reports whether the instrument's base or quote matches the
// given ISO currency code. Used by the news gater.
func (i Instrument) HasCurrency(currency string) bool {
	return i.Base == currency || i.Quote == currency
}
