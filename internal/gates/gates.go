// Package gates implements the pre-trade checks run before any pattern
// or model work: spread, volatility regime, session, higher-timeframe
// distance and news. All five are always evaluated so a rejected cycle
// reports every failure, not just the first.
package gates

import (
	"fmt"
	"time"

	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
	"fx-scalper-bot/internal/patterns"
)

// Gate names as they appear in rejection reasons.
const (
	GateSpread     = "spread"
	GateVolatility = "volatility"
	GateSession    = "session"
	GateHTF        = "htf_distance"
	GateNews       = "news"
)

// NewsSource answers whether an instrument is inside an active gating
// window. The news gater satisfies it.
type NewsSource interface {
	IsGated(instrument string) (bool, string)
}

// Result is one gate's verdict.
type Result struct {
	Name   string  `json:"name"`
	Passed bool    `json:"passed"`
	Reason string  `json:"reason,omitempty"`
	Metric float64 `json:"metric"`
}

// Aggregate is the combined verdict over all gates.
type Aggregate struct {
	Passed  bool     `json:"passed"`
	Results []Result `json:"results"`
}

// Failures returns the reasons of every failed gate.
func (a Aggregate) Failures() []string {
	var out []string
	for _, r := range a.Results {
		if !r.Passed {
			out = append(out, r.Reason)
		}
	}
	return out
}

// Config tunes the gate thresholds.
type Config struct {
	MaxSpreadPips    float64 // default 1.5
	SpreadSanityPips float64 // warn threshold for raw-spread conversion, default 50
	ATRFastPeriod    int     // default 7
	ATRSlowPeriod    int     // default 28
	MinATRRatio      float64 // fast/slow floor, default 0.6
	MinATRPips       float64 // absolute fast-ATR floor, default 5.5
	MinHTFDistPips   float64 // default 6
	Sessions         []Session
}

// DefaultConfig returns the standard thresholds and session set.
func DefaultConfig() Config {
	return Config{
		MaxSpreadPips:    1.5,
		SpreadSanityPips: 50,
		ATRFastPeriod:    7,
		ATRSlowPeriod:    28,
		MinATRRatio:      0.6,
		MinATRPips:       5.5,
		MinHTFDistPips:   6,
		Sessions:         DefaultSessions(),
	}
}

// Gates evaluates the five pre-trade checks.
type Gates struct {
	cfg  Config
	news NewsSource
	log  *logging.Logger
}

// New creates the gate set. news may be nil, in which case the news
// gate always passes.
func New(cfg Config, news NewsSource) *Gates {
	if cfg.MaxSpreadPips <= 0 {
		cfg.MaxSpreadPips = 1.5
	}
	if cfg.SpreadSanityPips <= 0 {
		cfg.SpreadSanityPips = 50
	}
	if cfg.ATRFastPeriod <= 0 {
		cfg.ATRFastPeriod = 7
	}
	if cfg.ATRSlowPeriod <= 0 {
		cfg.ATRSlowPeriod = 28
	}
	if cfg.MinATRRatio <= 0 {
		cfg.MinATRRatio = 0.6
	}
	if cfg.MinATRPips <= 0 {
		cfg.MinATRPips = 5.5
	}
	if cfg.MinHTFDistPips <= 0 {
		cfg.MinHTFDistPips = 6
	}
	if len(cfg.Sessions) == 0 {
		cfg.Sessions = DefaultSessions()
	}
	ResolveZones(cfg.Sessions)
	return &Gates{cfg: cfg, news: news, log: logging.WithComponent("gates")}
}

// Evaluate runs every gate against the view at the given time.
func (g *Gates) Evaluate(view *market.MarketView, now time.Time) Aggregate {
	agg := Aggregate{
		Results: []Result{
			g.spreadGate(view),
			g.volatilityGate(view),
			g.sessionGate(view.Instrument, now),
			g.htfDistanceGate(view),
			g.newsGate(view.Instrument),
		},
	}
	agg.Passed = true
	for _, r := range agg.Results {
		if !r.Passed {
			agg.Passed = false
		}
	}
	return agg
}

// spreadGate fails when the spread exceeds the maximum. A raw
// scaled-ticks spread from the feed is the fallback when bid/ask are
// unusable; an implausible conversion is flagged but still compared.
func (g *Gates) spreadGate(view *market.MarketView) Result {
	inst := view.Instrument
	var spreadPips float64

	switch {
	case view.SpreadPips != nil:
		spreadPips = *view.SpreadPips
	default:
		sp, err := inst.SpreadPips(view.Bid, view.Ask)
		if err == nil {
			spreadPips = sp
			break
		}
		if view.RawSpread == nil {
			return Result{Name: GateSpread, Reason: "spread unavailable"}
		}
		spreadPips = inst.RawSpreadPips(*view.RawSpread)
		if spreadPips > g.cfg.SpreadSanityPips {
			g.log.Warn("implausible raw spread conversion",
				"instrument", inst.ID, "raw", *view.RawSpread, "pips", spreadPips)
		}
	}

	if spreadPips > g.cfg.MaxSpreadPips {
		return Result{
			Name:   GateSpread,
			Reason: fmt.Sprintf("spread %.1f pips exceeds max %.1f", spreadPips, g.cfg.MaxSpreadPips),
			Metric: spreadPips,
		}
	}
	return Result{Name: GateSpread, Passed: true, Metric: spreadPips}
}

// volatilityGate fails in dead regimes: a compressed fast/slow ATR
// ratio or an absolute fast ATR below the pip floor.
func (g *Gates) volatilityGate(view *market.MarketView) Result {
	inst := view.Instrument
	fast := patterns.ATR(view.Candles, g.cfg.ATRFastPeriod)
	slow := patterns.ATR(view.Candles, g.cfg.ATRSlowPeriod)
	if fast == 0 || slow == 0 {
		return Result{Name: GateVolatility, Reason: "insufficient candles for ATR"}
	}

	ratio := fast / slow
	fastPips := inst.ToPips(fast)
	if ratio < g.cfg.MinATRRatio {
		return Result{
			Name:   GateVolatility,
			Reason: fmt.Sprintf("atr ratio %.2f below %.2f", ratio, g.cfg.MinATRRatio),
			Metric: ratio,
		}
	}
	if fastPips < g.cfg.MinATRPips {
		return Result{
			Name:   GateVolatility,
			Reason: fmt.Sprintf("fast atr %.1f pips below %.1f", fastPips, g.cfg.MinATRPips),
			Metric: fastPips,
		}
	}
	return Result{Name: GateVolatility, Passed: true, Metric: ratio}
}

func (g *Gates) sessionGate(inst market.Instrument, now time.Time) Result {
	for i := range g.cfg.Sessions {
		s := &g.cfg.Sessions[i]
		if !s.AppliesTo(inst) {
			continue
		}
		if s.Contains(now) {
			return Result{Name: GateSession, Passed: true}
		}
	}
	return Result{Name: GateSession, Reason: "outside trading sessions"}
}

// htfDistanceGate fails when price sits within the minimum distance of
// a higher-timeframe support or resistance level.
func (g *Gates) htfDistanceGate(view *market.MarketView) Result {
	inst := view.Instrument
	price := (view.Bid + view.Ask) / 2
	if price <= 0 {
		return Result{Name: GateHTF, Reason: "no price for htf check"}
	}

	dist, ok := nearestLevelDistance(view.Candles, price)
	if !ok {
		// No levels resolvable: nothing nearby to reverse off.
		return Result{Name: GateHTF, Passed: true}
	}

	distPips := inst.ToPips(dist)
	if distPips < g.cfg.MinHTFDistPips {
		return Result{
			Name:   GateHTF,
			Reason: fmt.Sprintf("htf level %.1f pips away, min %.1f", distPips, g.cfg.MinHTFDistPips),
			Metric: distPips,
		}
	}
	return Result{Name: GateHTF, Passed: true, Metric: distPips}
}

func (g *Gates) newsGate(inst market.Instrument) Result {
	if g.news == nil {
		return Result{Name: GateNews, Passed: true}
	}
	if gated, reason := g.news.IsGated(inst.ID); gated {
		return Result{Name: GateNews, Reason: "news gate active: " + reason}
	}
	return Result{Name: GateNews, Passed: true}
}
