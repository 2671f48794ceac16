package patterns

import (
	"math"

	"fx-scalper-bot/internal/market"
)

// TrueRange computes the true range of candle c against the previous
// close.
func TrueRange(c market.Candle, prevClose float64) float64 {
	tr := c.High - c.Low
	tr = math.Max(tr, math.Abs(c.High-prevClose))
	tr = math.Max(tr, math.Abs(prevClose-c.Low))
	return tr
}

// ATR computes the simple-average true range over the last period bars.
// Candles are ascending by open_time. Returns 0 when fewer than
// period+1 candles are available.
func ATR(candles []market.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}
	start := len(candles) - period
	var sum float64
	for i := start; i < len(candles); i++ {
		sum += TrueRange(candles[i], candles[i-1].Close)
	}
	return sum / float64(period)
}

// VolumeZScore computes the z-score of the last candle's volume against
// the trailing lookback bars (the last bar excluded from the baseline).
// Returns 0 when the baseline is too short or has zero variance.
func VolumeZScore(candles []market.Candle, lookback int) float64 {
	if lookback < 2 || len(candles) < lookback+1 {
		return 0
	}
	base := candles[len(candles)-1-lookback : len(candles)-1]

	var mean float64
	for _, c := range base {
		mean += c.Volume
	}
	mean /= float64(len(base))

	var variance float64
	for _, c := range base {
		d := c.Volume - mean
		variance += d * d
	}
	variance /= float64(len(base))
	if variance == 0 {
		return 0
	}

	last := candles[len(candles)-1].Volume
	return (last - mean) / math.Sqrt(variance)
}
