package gates

import (
	"math"

	"fx-scalper-bot/internal/market"
)

const (
	htfBarsPer    = 5 // 1m bars folded into one higher-timeframe bar
	htfPivotWing  = 2
	htfMaxLevels  = 8
	htfMinHTFBars = 6
)

// nearestLevelDistance derives support/resistance levels from the
// candle window folded to the higher timeframe and returns the distance
// from price to the nearest one. ok is false when too few bars exist to
// resolve any level.
func nearestLevelDistance(candles []market.Candle, price float64) (float64, bool) {
	htf := foldCandles(candles, htfBarsPer)
	if len(htf) < htfMinHTFBars {
		return 0, false
	}

	levels := pivotLevels(htf)
	if len(levels) == 0 {
		return 0, false
	}

	nearest := math.Inf(1)
	for _, lvl := range levels {
		if d := math.Abs(price - lvl); d < nearest {
			nearest = d
		}
	}
	return nearest, true
}

// foldCandles groups consecutive 1m bars into higher-timeframe bars.
// The trailing partial group is dropped.
func foldCandles(candles []market.Candle, per int) []market.Candle {
	if per <= 1 {
		return candles
	}
	n := len(candles) / per
	out := make([]market.Candle, 0, n)
	for g := 0; g < n; g++ {
		chunk := candles[g*per : (g+1)*per]
		c := market.Candle{
			Instrument: chunk[0].Instrument,
			Timeframe:  market.Timeframe5m,
			OpenTime:   chunk[0].OpenTime,
			Open:       chunk[0].Open,
			High:       chunk[0].High,
			Low:        chunk[0].Low,
			Close:      chunk[len(chunk)-1].Close,
			Finalized:  true,
		}
		for _, b := range chunk {
			if b.High > c.High {
				c.High = b.High
			}
			if b.Low < c.Low {
				c.Low = b.Low
			}
			c.Volume += b.Volume
		}
		out = append(out, c)
	}
	return out
}

// pivotLevels extracts swing highs and lows from the folded bars,
// newest first, capped at htfMaxLevels.
func pivotLevels(htf []market.Candle) []float64 {
	var levels []float64
	for p := len(htf) - htfPivotWing - 1; p >= htfPivotWing && len(levels) < htfMaxLevels; p-- {
		high, low := true, true
		for i := p - htfPivotWing; i <= p+htfPivotWing; i++ {
			if i == p {
				continue
			}
			if htf[i].High >= htf[p].High {
				high = false
			}
			if htf[i].Low <= htf[p].Low {
				low = false
			}
		}
		if high {
			levels = append(levels, htf[p].High)
		}
		if low {
			levels = append(levels, htf[p].Low)
		}
	}
	return levels
}
