package patterns

import (
	"time"

	"fx-scalper-bot/internal/market"
)

const (
	orBars          = 10
	orWidthMinATR   = 1.2
	orWidthMaxATR   = 4.0
	orBreakATRFrac  = 0.5
	orBreakPipFloor = 0.8
	orRetestBars    = 3
	orMinVolumeZ    = 1.0
)

// detectORB detects an opening-range breakout: the first 10 bars of the
// session define the range; a close beyond it by max(0.5*ATR, 0.8 pips)
// with a retest of the boundary within the next 3 bars qualifies.
func (d *Detector) detectORB(inst market.Instrument, candles []market.Candle, sessionOpen time.Time, atr, volZ float64) Result {
	res := Result{Type: PatternORB}
	if atr <= 0 || sessionOpen.IsZero() {
		return res
	}

	// Locate the session's first bar in the window.
	first := -1
	for i, c := range candles {
		if !c.OpenTime.Before(sessionOpen) {
			first = i
			break
		}
	}
	if first < 0 || len(candles)-first < orBars+2 {
		return res
	}

	orHigh, orLow := candles[first].High, candles[first].Low
	for _, c := range candles[first+1 : first+orBars] {
		if c.High > orHigh {
			orHigh = c.High
		}
		if c.Low < orLow {
			orLow = c.Low
		}
	}

	width := orHigh - orLow
	if width < orWidthMinATR*atr || width > orWidthMaxATR*atr {
		return res
	}

	breakDist := pipFloor(inst, orBreakATRFrac, atr, orBreakPipFloor)

	// Scan post-range bars for the breakout close.
	post := candles[first+orBars:]
	breakIdx := -1
	direction := market.DirectionNone
	for i, c := range post {
		if c.Close >= orHigh+breakDist {
			breakIdx, direction = i, market.DirectionLong
			break
		}
		if c.Close <= orLow-breakDist {
			breakIdx, direction = i, market.DirectionShort
			break
		}
	}
	if breakIdx < 0 {
		return res
	}

	// Retest: a later bar must touch the broken boundary within 3 bars.
	boundary := orHigh
	if direction == market.DirectionShort {
		boundary = orLow
	}
	retest := false
	for _, c := range post[breakIdx+1:] {
		if c.OpenTime.Sub(post[breakIdx].OpenTime) > orRetestBars*time.Minute {
			break
		}
		if direction == market.DirectionLong && c.Low <= boundary {
			retest = true
			break
		}
		if direction == market.DirectionShort && c.High >= boundary {
			retest = true
			break
		}
	}
	if !retest || volZ < orMinVolumeZ {
		return res
	}

	// Quality 40: break margin beyond the minimum. Location 35: range
	// width centered in its band. Activity 25: volume z above floor.
	breakBar := post[breakIdx]
	margin := breakBar.Close - orHigh
	if direction == market.DirectionShort {
		margin = orLow - breakBar.Close
	}
	quality := 40 * clamp01(margin/(2*breakDist))
	mid := (orWidthMinATR + orWidthMaxATR) / 2
	location := 35 * (1 - clamp01(abs(width/atr-mid)/(mid-orWidthMinATR)))
	activity := 25 * clamp01((volZ-orMinVolumeZ)/2+0.5)

	res.Detected = true
	res.Direction = direction
	res.Score = clampScore(quality + location + activity)
	res.Metadata = map[string]interface{}{
		"or_high": orHigh, "or_low": orLow,
		"width_atr": width / atr, "volume_z": volZ,
	}
	return res
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
