package market

import "time"

// Timeframe identifiers. Only 1m candles are aggregated live; higher
// timeframes are derived on demand.
const (
	Timeframe1m = "1m"
	Timeframe5m = "5m"
)

// Tick is a single top-of-book quote update.
type Tick struct {
	Instrument string    `json:"instrument"`
	Time       time.Time `json:"time"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
}

// Mid returns the midpoint price.
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Candle is a single OHLCV bar. The in-progress bar for the current
// minute carries Finalized=false and is replaced on every tick; on
// minute rollover it is frozen, persisted once and pushed to the hub
// window.
type Candle struct {
	Instrument string    `json:"instrument"`
	Timeframe  string    `json:"timeframe"`
	OpenTime   time.Time `json:"open_time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	Finalized  bool      `json:"finalized"`
}

// Valid checks the OHLC ordering invariants.
func (c Candle) Valid() bool {
	return c.Open <= c.High &&
		c.Low <= c.Open &&
		c.Low <= c.Close && c.Close <= c.High &&
		c.Volume >= 0
}

// Range returns high minus low.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Body returns the absolute open-to-close distance.
func (c Candle) Body() float64 {
	b := c.Close - c.Open
	if b < 0 {
		return -b
	}
	return b
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool {
	return c.Close > c.Open
}

// OrderFlowMetrics is a rolling-window snapshot of futures order flow
// mapped onto a spot instrument. One snapshot per instrument; each new
// computation overwrites the previous one.
type OrderFlowMetrics struct {
	Instrument  string    `json:"instrument"`
	ComputeTime time.Time `json:"compute_time"`
	OFI60s      float64   `json:"ofi_60s"`
	VolumeDelta float64   `json:"volume_delta"`
	BuyVolume   float64   `json:"buy_volume"`
	SellVolume  float64   `json:"sell_volume"`
	VWAP        float64   `json:"vwap"`
	SweepFlag   bool      `json:"sweep_flag"`
	VPIN        float64   `json:"vpin"`
}

// Consensus values for TA indicator snapshots.
const (
	ConsensusBullish = "bullish"
	ConsensusBearish = "bearish"
	ConsensusNeutral = "neutral"
)

// TAIndicatorSnapshot is the aggregate technical-indicator consensus
// fetched from the external TA provider.
type TAIndicatorSnapshot struct {
	Instrument   string    `json:"instrument"`
	ComputeTime  time.Time `json:"compute_time"`
	BuyCount     int       `json:"buy_count"`
	SellCount    int       `json:"sell_count"`
	NeutralCount int       `json:"neutral_count"`
	Consensus    string    `json:"consensus"`
	Confidence   float64   `json:"confidence"` // 0..1
}

// MarketView is the assembled read-side snapshot handed to the decision
// engine. Built per request, never stored.
type MarketView struct {
	Instrument Instrument           `json:"instrument"`
	Candles    []Candle             `json:"candles"`
	Bid        float64              `json:"bid"`
	Ask        float64              `json:"ask"`
	SpreadPips *float64             `json:"spread_pips,omitempty"`
	RawSpread  *float64             `json:"raw_spread,omitempty"` // broker scaled-ticks units
	TA         *TAIndicatorSnapshot `json:"ta,omitempty"`
	OrderFlow  *OrderFlowMetrics    `json:"order_flow,omitempty"`
	Warnings   []string             `json:"warnings,omitempty"`
}

// MarketView warning codes.
const (
	WarnInsufficientCandles = "insufficient_candles"
	WarnSpreadUnavailable   = "spread_unavailable"
	WarnTAStale             = "ta_stale"
	WarnOrderFlowStale      = "order_flow_stale"
)

// HasWarning reports whether the view carries the given warning code.
func (v *MarketView) HasWarning(code string) bool {
	for _, w := range v.Warnings {
		if w == code {
			return true
		}
	}
	return false
}

// Event importance levels for the economic calendar.
const (
	ImportanceLow    = "low"
	ImportanceMedium = "med"
	ImportanceHigh   = "high"
)

// EconomicEvent is a scheduled calendar event from the news provider.
type EconomicEvent struct {
	EventID       string    `json:"event_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Country       string    `json:"country"`
	Currency      string    `json:"currency"`
	Importance    string    `json:"importance"`
	EventName     string    `json:"event_name"`
}

// GatingWindow states.
const (
	GateScheduled = "scheduled"
	GateActive    = "active"
	GateCleared   = "cleared"
)

// GatingWindow suspends trading for one instrument around a high-impact
// event. Windows for the same instrument may overlap while active;
// gated means any active window matches.
type GatingWindow struct {
	Instrument    string    `json:"instrument"`
	State         string    `json:"state"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	Reason        string    `json:"reason"`
	LinkedEventID string    `json:"linked_event_id,omitempty"`
}

// Contains reports whether now falls inside the window.
func (w GatingWindow) Contains(now time.Time) bool {
	return !now.Before(w.WindowStart) && !now.After(w.WindowEnd)
}

// Trade directions.
const (
	DirectionLong  = "long"
	DirectionShort = "short"
	DirectionNone  = "none"
)

// Decision tiers.
const (
	TierAutoApprove = "auto_approve"
	TierLLMValidate = "llm_validate"
	TierReject      = "reject"
)

// Signal is the persisted outcome of one decision cycle for one
// instrument. Every cycle emits either a Signal or a rejected-cycle
// record; nothing is dropped silently.
type Signal struct {
	Instrument   string    `json:"instrument"`
	CycleID      string    `json:"cycle_id"`
	GeneratedAt  time.Time `json:"generated_at"`
	Direction    string    `json:"direction"`
	EntryPrice   float64   `json:"entry_price"`
	TakeProfit   float64   `json:"take_profit"`
	StopLoss     float64   `json:"stop_loss"`
	Confidence   float64   `json:"confidence"`
	Pattern      string    `json:"pattern,omitempty"`
	PatternScore float64   `json:"pattern_score,omitempty"`
	Tier         string    `json:"tier"`
	SizeLots     float64   `json:"size_lots"`
	Reason       string    `json:"reason"`
	AgentTrace   string    `json:"agent_trace,omitempty"` // JSON blob for audit
}

// Exit reasons for closed trades.
const (
	ExitTPHit       = "TP_HIT"
	ExitSLHit       = "SL_HIT"
	ExitMaxDuration = "MAX_DURATION"
	ExitNewsGate    = "NEWS_GATE"
	ExitManual      = "MANUAL_CLOSE"
)

// ActiveTrade is an open position owned by the trade lifecycle. At most
// one per instrument; mutated only by the lifecycle.
type ActiveTrade struct {
	TradeID     string        `json:"trade_id"`
	Instrument  string        `json:"instrument"`
	Direction   string        `json:"direction"`
	SizeLots    float64       `json:"size_lots"`
	EntryTime   time.Time     `json:"entry_time"`
	EntryPrice  float64       `json:"entry_price"`
	TakeProfit  float64       `json:"take_profit"`
	StopLoss    float64       `json:"stop_loss"`
	DurationCap time.Duration `json:"duration_cap"`
	DealRef     string        `json:"deal_ref"`
}

// ClosedTrade is the terminal record of a position.
type ClosedTrade struct {
	ActiveTrade
	ExitTime   time.Time `json:"exit_time"`
	ExitPrice  float64   `json:"exit_price"`
	PnLPips    float64   `json:"pnl_pips"`
	PnLCash    float64   `json:"pnl_cash"`
	ExitReason string    `json:"exit_reason"`
}
