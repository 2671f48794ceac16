package patterns

import "fx-scalper-bot/internal/market"

const (
	sfpLookback     = 30
	sfpPivotWing    = 3
	sfpPierceATR    = 0.3
	sfpPiercePips   = 0.6
	sfpReclaimBars  = 3
	sfpMinWickRatio = 1.0
)

// detectSFP detects a sweep/failed pattern: a bar pierces a prior pivot
// by max(0.3*ATR, 0.6 pips) and price reclaims the pivot within 1-3
// bars. A swept low is a long setup, a swept high a short one.
func (d *Detector) detectSFP(inst market.Instrument, candles []market.Candle, atr float64) Result {
	res := Result{Type: PatternSFP}
	if atr <= 0 || len(candles) < sfpLookback+sfpReclaimBars+1 {
		return res
	}

	pierceDist := pipFloor(inst, sfpPierceATR, atr, sfpPiercePips)
	scan := candles[len(candles)-sfpLookback:]

	// Walk pivots newest-first so the freshest sweep wins.
	for p := len(scan) - sfpPivotWing - sfpReclaimBars - 1; p >= sfpPivotWing; p-- {
		if isPivotLow(scan, p) {
			if r, ok := d.sweepAt(scan, p, pierceDist, market.DirectionLong); ok {
				return r
			}
		}
		if isPivotHigh(scan, p) {
			if r, ok := d.sweepAt(scan, p, pierceDist, market.DirectionShort); ok {
				return r
			}
		}
	}
	return res
}

// sweepAt checks the bars after pivot p for a single pierce-and-reclaim
// of the pivot level.
func (d *Detector) sweepAt(scan []market.Candle, p int, pierceDist float64, direction string) (Result, bool) {
	pivot := scan[p]
	level := pivot.Low
	if direction == market.DirectionShort {
		level = pivot.High
	}

	for i := p + sfpPivotWing; i < len(scan); i++ {
		bar := scan[i]
		var pierce float64
		if direction == market.DirectionLong {
			pierce = level - bar.Low
		} else {
			pierce = bar.High - level
		}
		if pierce < pierceDist {
			continue
		}

		// Reclaim: a close back on the right side of the level within
		// 1-3 bars of the sweep, sweep bar included.
		reclaimIdx := -1
		for j := i; j < len(scan) && j <= i+sfpReclaimBars-1; j++ {
			if direction == market.DirectionLong && scan[j].Close > level {
				reclaimIdx = j
				break
			}
			if direction == market.DirectionShort && scan[j].Close < level {
				reclaimIdx = j
				break
			}
		}
		if reclaimIdx < 0 {
			return Result{}, false
		}

		// Wick/body ratio of the sweeping bar drives quality; a fast
		// reclaim drives cleanness.
		body := bar.Body()
		if body == 0 {
			body = pierceDist / 10
		}
		var wick float64
		if direction == market.DirectionLong {
			wick = min(bar.Open, bar.Close) - bar.Low
		} else {
			wick = bar.High - max(bar.Open, bar.Close)
		}
		ratio := wick / body
		if ratio < sfpMinWickRatio {
			return Result{}, false
		}

		quality := 55 * clamp01(ratio/3)
		cleanness := 45 * (1 - float64(reclaimIdx-i)/float64(sfpReclaimBars))

		return Result{
			Type:      PatternSFP,
			Detected:  true,
			Direction: direction,
			Score:     clampScore(quality + cleanness),
			Metadata: map[string]interface{}{
				"pivot_level": level, "wick_body_ratio": ratio,
				"reclaim_bars": reclaimIdx - i + 1,
			},
		}, true
	}
	return Result{}, false
}

// Pivots are strict: every wing bar must sit clear of the pivot
// extreme, so flat congestion never reads as a pivot.
func isPivotLow(scan []market.Candle, p int) bool {
	for i := p - sfpPivotWing; i <= p+sfpPivotWing; i++ {
		if i == p {
			continue
		}
		if i < 0 || i >= len(scan) || scan[i].Low <= scan[p].Low {
			return false
		}
	}
	return true
}

func isPivotHigh(scan []market.Candle, p int) bool {
	for i := p - sfpPivotWing; i <= p+sfpPivotWing; i++ {
		if i == p {
			continue
		}
		if i < 0 || i >= len(scan) || scan[i].High >= scan[p].High {
			return false
		}
	}
	return true
}
