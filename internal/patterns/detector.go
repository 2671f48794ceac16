// Package patterns holds the three scalp-setup detectors: opening-range
// breakout, sweep/failed pattern and impulse-pullback. Each detector
// scores in [0,100]; thresholds are ATR-normalized so one parameter set
// generalizes across instruments.
package patterns

import (
	"time"

	"fx-scalper-bot/internal/market"
)

// PatternType identifies a detected setup.
type PatternType string

const (
	PatternORB     PatternType = "ORB"
	PatternSFP     PatternType = "SFP"
	PatternImpulse PatternType = "IMPULSE"
)

// Result is one detector's verdict for one instrument.
type Result struct {
	Type      PatternType            `json:"type"`
	Detected  bool                   `json:"detected"`
	Score     float64                `json:"score"` // 0..100
	Direction string                 `json:"direction"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Config tunes the shared detector parameters.
type Config struct {
	ATRPeriod      int // shared ATR, default 14
	VolumeLookback int // z-score baseline, default 60
}

// DefaultConfig returns the standard detector parameters.
func DefaultConfig() Config {
	return Config{ATRPeriod: 14, VolumeLookback: 60}
}

// Detector runs all three detectors and blends their scores.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector with defaulted parameters.
func NewDetector(cfg Config) *Detector {
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.VolumeLookback <= 0 {
		cfg.VolumeLookback = 60
	}
	return &Detector{cfg: cfg}
}

// Detect runs every detector over the candle window (ascending
// open_time, finalized bars only) and returns all results plus the
// winner by score. Winner is nil when nothing was detected.
func (d *Detector) Detect(inst market.Instrument, candles []market.Candle, sessionOpen time.Time) (results []Result, winner *Result) {
	atr := ATR(candles, d.cfg.ATRPeriod)
	volZ := VolumeZScore(candles, d.cfg.VolumeLookback)

	results = []Result{
		d.detectORB(inst, candles, sessionOpen, atr, volZ),
		d.detectSFP(inst, candles, atr),
		d.detectImpulse(inst, candles, atr),
	}

	for i := range results {
		r := &results[i]
		if r.Detected && (winner == nil || r.Score > winner.Score) {
			winner = r
		}
	}
	return results, winner
}

// pipFloor returns the larger of an ATR fraction and a fixed pip floor,
// as a raw price distance.
func pipFloor(inst market.Instrument, atrFrac, atr, floorPips float64) float64 {
	v := atrFrac * atr
	if f := inst.FromPips(floorPips); f > v {
		v = f
	}
	return v
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
