package patterns

import "fx-scalper-bot/internal/market"

const (
	impulse3BarATR     = 1.6
	impulse1BarATR     = 1.2
	pullbackMinRetrace = 0.15
	pullbackMaxRetrace = 0.38
	pullbackScanBars   = 6
)

// detectImpulse detects an impulse-pullback continuation: a directional
// burst (3-bar true-range sum >= 1.6*ATR or a single bar >= 1.2*ATR),
// a pullback retracing 15-38% of the impulse and a rejection candle at
// the pullback terminus whose wick points against the impulse.
func (d *Detector) detectImpulse(inst market.Instrument, candles []market.Candle, atr float64) Result {
	res := Result{Type: PatternImpulse}
	if atr <= 0 || len(candles) < pullbackScanBars+4 {
		return res
	}

	// Search the recent window newest-first for the impulse leg.
	for end := len(candles) - 2; end >= len(candles)-pullbackScanBars-1 && end >= 3; end-- {
		direction, impStart, impEnd, ok := impulseLeg(candles, end, atr)
		if !ok {
			continue
		}

		impRange := candles[impEnd].Close - candles[impStart].Open
		if direction == market.DirectionShort {
			impRange = candles[impStart].Open - candles[impEnd].Close
		}
		if impRange <= 0 {
			continue
		}

		// Pullback from the impulse close to the extreme of the bars
		// after it.
		pull := candles[impEnd+1:]
		if len(pull) == 0 {
			continue
		}
		var retrace float64
		terminus := pull[len(pull)-1]
		if direction == market.DirectionLong {
			low := pull[0].Low
			for _, c := range pull {
				if c.Low < low {
					low = c.Low
				}
			}
			retrace = (candles[impEnd].Close - low) / impRange
		} else {
			high := pull[0].High
			for _, c := range pull {
				if c.High > high {
					high = c.High
				}
			}
			retrace = (high - candles[impEnd].Close) / impRange
		}
		if retrace < pullbackMinRetrace || retrace > pullbackMaxRetrace {
			continue
		}

		// Rejection candle at the terminus: wick in the impulse
		// direction at least as long as the body.
		body := terminus.Body()
		var wick float64
		if direction == market.DirectionLong {
			wick = min(terminus.Open, terminus.Close) - terminus.Low
		} else {
			wick = terminus.High - max(terminus.Open, terminus.Close)
		}
		if body > 0 && wick < body {
			continue
		}

		strength := 50 * clamp01(impRange/(2*atr))
		sweetspot := 30 * (1 - clamp01(abs(retrace-0.25)/0.15))
		rejection := 20.0
		if body > 0 {
			rejection = 20 * clamp01(wick/(2*body))
		}

		res.Detected = true
		res.Direction = direction
		res.Score = clampScore(strength + sweetspot + rejection)
		res.Metadata = map[string]interface{}{
			"impulse_range_atr": impRange / atr, "retrace": retrace,
		}
		return res
	}
	return res
}

// impulseLeg reports whether the bars ending at end form a qualifying
// one-direction impulse, and its bounds.
func impulseLeg(candles []market.Candle, end int, atr float64) (direction string, start, stop int, ok bool) {
	bar := candles[end]
	if bar.Range() >= impulse1BarATR*atr && bar.Body() > 0.5*bar.Range() {
		direction = market.DirectionShort
		if bar.Bullish() {
			direction = market.DirectionLong
		}
		return direction, end, end, true
	}

	if end < 3 {
		return "", 0, 0, false
	}
	leg := candles[end-2 : end+1]
	var trSum float64
	up, down := true, true
	for i, c := range leg {
		prevClose := candles[end-2+i-1].Close
		trSum += TrueRange(c, prevClose)
		if !c.Bullish() {
			up = false
		}
		if c.Bullish() {
			down = false
		}
	}
	if trSum < impulse3BarATR*atr || (!up && !down) {
		return "", 0, 0, false
	}
	direction = market.DirectionShort
	if up {
		direction = market.DirectionLong
	}
	return direction, end - 2, end, true
}
