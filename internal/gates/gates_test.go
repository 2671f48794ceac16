package gates

import (
	"math"
	"testing"
	"time"

	"fx-scalper-bot/internal/market"
)

var eurusd = market.Instrument{ID: "EUR_USD", Base: "EUR", Quote: "USD", PipSize: 0.0001, DecimalFactor: 100000}
var usdjpy = market.Instrument{ID: "USD_JPY", Base: "USD", Quote: "JPY", PipSize: 0.01, DecimalFactor: 1000}

type fakeNews struct {
	gated  bool
	reason string
}

func (f *fakeNews) IsGated(string) (bool, string) { return f.gated, f.reason }

func result(t *testing.T, agg Aggregate, name string) Result {
	t.Helper()
	for _, r := range agg.Results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("gate %q missing from aggregate", name)
	return Result{}
}

// flatCandles builds dojis with a constant true range in raw price.
func flatCandles(n int, price, tr float64) []market.Candle {
	t0 := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			Instrument: "EUR_USD", Timeframe: market.Timeframe1m,
			OpenTime: t0.Add(time.Duration(i) * time.Minute),
			Open:     price, High: price + tr/2, Low: price - tr/2, Close: price,
			Volume: 10, Finalized: true,
		}
	}
	return out
}

func TestSpreadGate(t *testing.T) {
	g := New(DefaultConfig(), nil)
	raw := 60.0

	cases := []struct {
		name string
		view market.MarketView
		pass bool
	}{
		{"tight quote passes", market.MarketView{Instrument: eurusd, Bid: 1.08341, Ask: 1.08350}, true},
		{"wide quote fails", market.MarketView{Instrument: eurusd, Bid: 1.08300, Ask: 1.08320}, false},
		{"raw fallback fails", market.MarketView{Instrument: eurusd, RawSpread: &raw}, false},
		{"no quote no raw fails", market.MarketView{Instrument: eurusd}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := g.spreadGate(&tc.view)
			if r.Passed != tc.pass {
				t.Errorf("passed = %v, want %v (reason %q)", r.Passed, tc.pass, r.Reason)
			}
		})
	}
}

func TestSpreadGateRawConversion(t *testing.T) {
	g := New(DefaultConfig(), nil)
	raw := 60.0
	view := market.MarketView{Instrument: eurusd, RawSpread: &raw}

	r := g.spreadGate(&view)
	// 60 / (100000 * 0.0001) = 6.0 pips.
	if math.Abs(r.Metric-6.0) > 1e-9 {
		t.Errorf("converted spread = %v pips, want 6.0", r.Metric)
	}
	if r.Passed {
		t.Error("6.0 pips must fail the 1.5 pip max")
	}
}

func TestVolatilityGate(t *testing.T) {
	g := New(DefaultConfig(), nil)

	t.Run("healthy regime passes", func(t *testing.T) {
		view := market.MarketView{Instrument: eurusd, Candles: flatCandles(40, 1.0850, 0.0007)}
		r := g.volatilityGate(&view)
		if !r.Passed {
			t.Errorf("7-pip constant ATR should pass, got %q", r.Reason)
		}
	})

	t.Run("absolute floor fails", func(t *testing.T) {
		view := market.MarketView{Instrument: eurusd, Candles: flatCandles(40, 1.0850, 0.0003)}
		if r := g.volatilityGate(&view); r.Passed {
			t.Error("3-pip ATR must fail the 5.5 pip floor")
		}
	})

	t.Run("compressed ratio fails", func(t *testing.T) {
		candles := flatCandles(40, 1.0850, 0.0012)
		// Last 7 bars collapse to 2 pips: fast/slow well under 0.6.
		for i := len(candles) - 7; i < len(candles); i++ {
			candles[i].High = candles[i].Open + 0.0001
			candles[i].Low = candles[i].Open - 0.0001
		}
		view := market.MarketView{Instrument: eurusd, Candles: candles}
		r := g.volatilityGate(&view)
		if r.Passed {
			t.Error("collapsed fast ATR must fail")
		}
		if r.Metric >= 0.6 {
			t.Errorf("metric = %v, want ratio under 0.6", r.Metric)
		}
	})

	t.Run("short window fails", func(t *testing.T) {
		view := market.MarketView{Instrument: eurusd, Candles: flatCandles(10, 1.0850, 0.0007)}
		if r := g.volatilityGate(&view); r.Passed {
			t.Error("too few candles for slow ATR must fail")
		}
	})
}

func TestSessionGate(t *testing.T) {
	g := New(DefaultConfig(), nil)

	cases := []struct {
		name string
		inst market.Instrument
		at   time.Time
		pass bool
	}{
		{"london winter morning", eurusd, time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC), true},
		{"london summer dst shift", eurusd, time.Date(2025, 7, 11, 6, 30, 0, 0, time.UTC), true},
		{"midday gap", eurusd, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC), false},
		{"ny afternoon", eurusd, time.Date(2025, 1, 10, 14, 30, 0, 0, time.UTC), true},
		{"tokyo open jpy", usdjpy, time.Date(2025, 1, 10, 0, 30, 0, 0, time.UTC), true},
		{"tokyo open non-jpy", eurusd, time.Date(2025, 1, 10, 0, 30, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := g.sessionGate(tc.inst, tc.at)
			if r.Passed != tc.pass {
				t.Errorf("passed = %v, want %v", r.Passed, tc.pass)
			}
		})
	}
}

func TestHTFDistanceGate(t *testing.T) {
	g := New(DefaultConfig(), nil)

	// A spike across bars 20-24 folds into one 5m pivot high at 1.08560.
	spiked := flatCandles(50, 1.0850, 0.0002)
	for i := 20; i < 25; i++ {
		spiked[i].High = 1.08560
	}

	t.Run("too close to level fails", func(t *testing.T) {
		view := market.MarketView{Instrument: eurusd, Candles: spiked, Bid: 1.08550, Ask: 1.08560}
		r := g.htfDistanceGate(&view)
		if r.Passed {
			t.Errorf("0.5 pips from the level must fail, metric %v", r.Metric)
		}
	})

	t.Run("clear of levels passes", func(t *testing.T) {
		view := market.MarketView{Instrument: eurusd, Candles: spiked, Bid: 1.08395, Ask: 1.08405}
		r := g.htfDistanceGate(&view)
		if !r.Passed {
			t.Errorf("16 pips from the level should pass, got %q", r.Reason)
		}
	})

	t.Run("no resolvable levels passes", func(t *testing.T) {
		view := market.MarketView{Instrument: eurusd, Candles: flatCandles(50, 1.0850, 0.0002), Bid: 1.0850, Ask: 1.0851}
		if r := g.htfDistanceGate(&view); !r.Passed {
			t.Errorf("flat window has no pivots, should pass, got %q", r.Reason)
		}
	})
}

func TestNewsGate(t *testing.T) {
	gated := New(DefaultConfig(), &fakeNews{gated: true, reason: "Non-Farm Payrolls (USD)"})
	open := New(DefaultConfig(), &fakeNews{})

	if r := gated.newsGate(eurusd); r.Passed {
		t.Error("active gating window must fail")
	}
	if r := open.newsGate(eurusd); !r.Passed {
		t.Error("no gating window should pass")
	}
	if r := New(DefaultConfig(), nil).newsGate(eurusd); !r.Passed {
		t.Error("nil news source should pass")
	}
}

func TestEvaluateCarriesAllFailures(t *testing.T) {
	g := New(DefaultConfig(), &fakeNews{gated: true, reason: "CPI (USD)"})
	// Dead volatility, wide spread, midday, active news: four failures
	// must all surface.
	view := market.MarketView{
		Instrument: eurusd,
		Candles:    flatCandles(40, 1.0850, 0.0002),
		Bid:        1.08300, Ask: 1.08330,
	}
	agg := g.Evaluate(&view, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC))

	if agg.Passed {
		t.Fatal("aggregate must fail")
	}
	if got := len(agg.Failures()); got != 4 {
		t.Errorf("failures = %d (%v), want 4", got, agg.Failures())
	}
	if !result(t, agg, GateHTF).Passed {
		t.Error("htf gate should pass on a flat window")
	}
}
