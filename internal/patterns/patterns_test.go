package patterns

import (
	"math"
	"testing"
	"time"

	"fx-scalper-bot/internal/market"
)

var eurusd = market.Instrument{ID: "EUR_USD", Base: "EUR", Quote: "USD", PipSize: 0.0001, DecimalFactor: 100000}

func bar(t0 time.Time, i int, o, h, l, c, v float64) market.Candle {
	return market.Candle{
		Instrument: "EUR_USD",
		Timeframe:  market.Timeframe1m,
		OpenTime:   t0.Add(time.Duration(i) * time.Minute),
		Open:       o, High: h, Low: l, Close: c, Volume: v,
		Finalized: true,
	}
}

// flatBar is a doji with a fixed 2-pip true range.
func flatBar(t0 time.Time, i int, price, v float64) market.Candle {
	return bar(t0, i, price, price+0.0001, price-0.0001, price, v)
}

func TestATR(t *testing.T) {
	t0 := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	var candles []market.Candle
	for i := 0; i < 20; i++ {
		candles = append(candles, flatBar(t0, i, 1.0850, 10))
	}

	got := ATR(candles, 14)
	if math.Abs(got-0.0002) > 1e-9 {
		t.Errorf("ATR = %v, want 0.0002", got)
	}
	if got := ATR(candles[:10], 14); got != 0 {
		t.Errorf("ATR with short window = %v, want 0", got)
	}
}

func TestTrueRangeIncludesGap(t *testing.T) {
	c := market.Candle{Open: 1.0860, High: 1.0862, Low: 1.0858, Close: 1.0861}
	// Gap up from 1.0850: TR must span the gap, not just high-low.
	got := TrueRange(c, 1.0850)
	if math.Abs(got-0.0012) > 1e-9 {
		t.Errorf("TrueRange = %v, want 0.0012", got)
	}
}

func TestVolumeZScore(t *testing.T) {
	t0 := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	var candles []market.Candle
	for i := 0; i < 60; i++ {
		v := 9.0
		if i%2 == 1 {
			v = 11
		}
		candles = append(candles, flatBar(t0, i, 1.0850, v))
	}
	candles = append(candles, flatBar(t0, 60, 1.0850, 30))

	got := VolumeZScore(candles, 60)
	// Baseline mean 10, stddev 1; last volume 30 -> z = 20.
	if math.Abs(got-20) > 1e-6 {
		t.Errorf("z-score = %v, want 20", got)
	}
}

// orbFixture builds a session with a valid opening range, a long
// breakout and a retest on elevated volume.
func orbFixture() ([]market.Candle, time.Time) {
	t0 := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	sessionOpen := t0.Add(60 * time.Minute)
	var candles []market.Candle

	vol := func(i int) float64 {
		if i%2 == 1 {
			return 11
		}
		return 9
	}
	for i := 0; i < 60; i++ {
		candles = append(candles, flatBar(t0, i, 1.0850, vol(i)))
	}

	// Opening range drifts up 0.4 pips per bar, constant 2-pip TR.
	prevClose := 1.08500
	for j := 0; j < 10; j++ {
		c := bar(t0, 60+j, prevClose, prevClose+0.00012, prevClose-0.00008, prevClose+0.00004, vol(60+j))
		candles = append(candles, c)
		prevClose = c.Close
	}
	// OR high 1.08548, OR low 1.08492. Breakout close clears the high
	// by more than max(0.5*ATR, 0.8 pips).
	candles = append(candles, bar(t0, 70, 1.08544, 1.08562, 1.08542, 1.08560, 9))
	// Retest touches the broken boundary on a volume spike.
	candles = append(candles, bar(t0, 71, 1.08558, 1.08560, 1.08546, 1.08556, 30))

	return candles, sessionOpen
}

func TestDetectORB(t *testing.T) {
	candles, sessionOpen := orbFixture()
	d := NewDetector(DefaultConfig())

	results, winner := d.Detect(eurusd, candles, sessionOpen)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if winner == nil || winner.Type != PatternORB {
		t.Fatalf("winner = %+v, want ORB", winner)
	}
	if winner.Direction != market.DirectionLong {
		t.Errorf("direction = %q, want long", winner.Direction)
	}
	if winner.Score <= 0 || winner.Score > 100 {
		t.Errorf("score = %v, want in (0,100]", winner.Score)
	}
}

func TestDetectORBRequiresVolume(t *testing.T) {
	candles, sessionOpen := orbFixture()
	candles[len(candles)-1].Volume = 10 // kill the retest volume spike
	d := NewDetector(DefaultConfig())

	res := d.detectORB(eurusd, candles, sessionOpen,
		ATR(candles, 14), VolumeZScore(candles, 60))
	if res.Detected {
		t.Error("ORB must require a volume z-score >= 1")
	}
}

func TestDetectSFP(t *testing.T) {
	t0 := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	var candles []market.Candle
	for i := 0; i < 40; i++ {
		low := 1.08492 + 0.0000005*float64(i)
		candles = append(candles, bar(t0, i, low+0.0001, low+0.0002, low, low+0.0001, 10))
	}
	// Pivot low well below the drift at bar 20.
	candles[20].Low = 1.08480
	// Sweep bar pierces the pivot and reclaims it with a long lower wick.
	candles[35] = bar(t0, 35, 1.08500, 1.08502, 1.08470, 1.08496, 10)

	d := NewDetector(DefaultConfig())
	res := d.detectSFP(eurusd, candles, ATR(candles, 14))
	if !res.Detected {
		t.Fatal("expected an SFP detection")
	}
	if res.Direction != market.DirectionLong {
		t.Errorf("direction = %q, want long (swept low)", res.Direction)
	}
	if lvl, _ := res.Metadata["pivot_level"].(float64); math.Abs(lvl-1.08480) > 1e-9 {
		t.Errorf("pivot level = %v, want 1.08480", lvl)
	}
}

func TestDetectSFPNoReclaimNoDetection(t *testing.T) {
	t0 := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	var candles []market.Candle
	for i := 0; i < 40; i++ {
		low := 1.08492 + 0.0000005*float64(i)
		candles = append(candles, bar(t0, i, low+0.0001, low+0.0002, low, low+0.0001, 10))
	}
	candles[20].Low = 1.08480
	// Pierces but keeps closing below the pivot: breakdown, not a sweep.
	for i := 35; i < 40; i++ {
		candles[i] = bar(t0, i, 1.08478, 1.08480, 1.08468, 1.08472, 10)
	}

	d := NewDetector(DefaultConfig())
	if res := d.detectSFP(eurusd, candles, ATR(candles, 14)); res.Detected {
		t.Error("breakdown without reclaim must not detect")
	}
}

func TestDetectImpulsePullback(t *testing.T) {
	t0 := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	var candles []market.Candle
	for i := 0; i < 16; i++ {
		candles = append(candles, flatBar(t0, i, 1.08500, 10))
	}
	// Single-bar impulse, then a 26% pullback ending on a rejection
	// candle with a dominant lower wick.
	candles = append(candles, bar(t0, 16, 1.08500, 1.08700, 1.08495, 1.08690, 25))
	candles = append(candles, bar(t0, 17, 1.08685, 1.08688, 1.08655, 1.08660, 12))
	candles = append(candles, bar(t0, 18, 1.08655, 1.08668, 1.08640, 1.08665, 12))

	d := NewDetector(DefaultConfig())
	res := d.detectImpulse(eurusd, candles, ATR(candles, 14))
	if !res.Detected {
		t.Fatal("expected an impulse-pullback detection")
	}
	if res.Direction != market.DirectionLong {
		t.Errorf("direction = %q, want long", res.Direction)
	}
	retrace, _ := res.Metadata["retrace"].(float64)
	if retrace < 0.15 || retrace > 0.38 {
		t.Errorf("retrace = %v, want within [0.15,0.38]", retrace)
	}
}

func TestDetectImpulseRejectsDeepPullback(t *testing.T) {
	t0 := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	var candles []market.Candle
	for i := 0; i < 16; i++ {
		candles = append(candles, flatBar(t0, i, 1.08500, 10))
	}
	candles = append(candles, bar(t0, 16, 1.08500, 1.08700, 1.08495, 1.08690, 25))
	// Pullback gives back over half the impulse.
	candles = append(candles, bar(t0, 17, 1.08685, 1.08688, 1.08600, 1.08605, 12))
	candles = append(candles, bar(t0, 18, 1.08600, 1.08612, 1.08580, 1.08608, 12))

	d := NewDetector(DefaultConfig())
	if res := d.detectImpulse(eurusd, candles, ATR(candles, 14)); res.Detected {
		t.Error("deep retrace must not detect")
	}
}

func TestDetectEmptyWindow(t *testing.T) {
	d := NewDetector(DefaultConfig())
	results, winner := d.Detect(eurusd, nil, time.Time{})
	if winner != nil {
		t.Errorf("winner = %+v, want nil on empty window", winner)
	}
	for _, r := range results {
		if r.Detected {
			t.Errorf("%s detected on empty window", r.Type)
		}
	}
}
