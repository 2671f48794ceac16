package market

import (
	"math"
	"testing"
	"time"
)

func TestNewInstrument(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		wantPip    float64
		wantFactor float64
		wantErr    bool
	}{
		{name: "EUR_USD standard pip", id: "EUR_USD", wantPip: 0.0001, wantFactor: 100000},
		{name: "GBP_USD standard pip", id: "GBP_USD", wantPip: 0.0001, wantFactor: 100000},
		{name: "USD_JPY second decimal pip", id: "USD_JPY", wantPip: 0.01, wantFactor: 1000},
		{name: "missing separator", id: "EURUSD", wantErr: true},
		{name: "short code", id: "EU_USD", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := NewInstrument(tt.id)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewInstrument(%q) expected error", tt.id)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewInstrument(%q): %v", tt.id, err)
			}
			if inst.PipSize != tt.wantPip {
				t.Errorf("pip size = %v, want %v", inst.PipSize, tt.wantPip)
			}
			if inst.DecimalFactor != tt.wantFactor {
				t.Errorf("decimal factor = %v, want %v", inst.DecimalFactor, tt.wantFactor)
			}
		})
	}
}

func TestPipConversionRoundTrip(t *testing.T) {
	ids := []string{"EUR_USD", "USD_JPY", "GBP_USD", "AUD_USD"}
	values := []float64{0.1, 1, 6, 10, 37.5}

	for _, id := range ids {
		inst, err := NewInstrument(id)
		if err != nil {
			t.Fatalf("NewInstrument(%q): %v", id, err)
		}
		for _, v := range values {
			got := inst.ToPips(inst.FromPips(v))
			if math.Abs(got-v) > 1e-9 {
				t.Errorf("%s: to_pips(from_pips(%v)) = %v", id, v, got)
			}
		}
	}
}

func TestSpreadPips(t *testing.T) {
	eurusd, _ := NewInstrument("EUR_USD")

	spread, err := eurusd.SpreadPips(1.08341, 1.08350)
	if err != nil {
		t.Fatalf("SpreadPips: %v", err)
	}
	if math.Abs(spread-0.9) > 1e-6 {
		t.Errorf("spread = %v, want 0.9", spread)
	}

	if _, err := eurusd.SpreadPips(0, 1.0835); err == nil {
		t.Error("expected error for missing bid")
	}
	if _, err := eurusd.SpreadPips(1.0840, 1.0835); err == nil {
		t.Error("expected error for crossed quote")
	}
}

func TestRawSpreadPips(t *testing.T) {
	eurusd, _ := NewInstrument("EUR_USD")
	// Raw scaled spread of 60 ticks converts to 6.0 pips.
	got := eurusd.RawSpreadPips(60)
	if math.Abs(got-6.0) > 1e-9 {
		t.Errorf("RawSpreadPips(60) = %v, want 6.0", got)
	}
}

func TestCandleValid(t *testing.T) {
	tests := []struct {
		name string
		c    Candle
		want bool
	}{
		{
			name: "well formed",
			c:    Candle{Open: 1.0850, High: 1.0853, Low: 1.0849, Close: 1.0852, Volume: 5},
			want: true,
		},
		{
			name: "high below open",
			c:    Candle{Open: 1.0855, High: 1.0853, Low: 1.0849, Close: 1.0852, Volume: 5},
			want: false,
		},
		{
			name: "close below low",
			c:    Candle{Open: 1.0850, High: 1.0853, Low: 1.0849, Close: 1.0848, Volume: 5},
			want: false,
		},
		{
			name: "negative volume",
			c:    Candle{Open: 1.0850, High: 1.0853, Low: 1.0849, Close: 1.0852, Volume: -1},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGatingWindowContains(t *testing.T) {
	start := time.Date(2025, 3, 7, 13, 15, 0, 0, time.UTC)
	w := GatingWindow{WindowStart: start, WindowEnd: start.Add(25 * time.Minute)}

	if !w.Contains(start) {
		t.Error("window should contain its start")
	}
	if !w.Contains(start.Add(25 * time.Minute)) {
		t.Error("window should contain its end")
	}
	if w.Contains(start.Add(-time.Second)) {
		t.Error("window should not contain times before start")
	}
	if w.Contains(start.Add(25*time.Minute + time.Second)) {
		t.Error("window should not contain times after end")
	}
}

func TestInstrumentHasCurrency(t *testing.T) {
	eurusd, _ := NewInstrument("EUR_USD")
	if !eurusd.HasCurrency("USD") || !eurusd.HasCurrency("EUR") {
		t.Error("EUR_USD should match both EUR and USD")
	}
	if eurusd.HasCurrency("JPY") {
		t.Error("EUR_USD should not match JPY")
	}
}
