// Package hub holds the current market state: latest tick, bounded candle
// windows, order-flow and TA snapshots per instrument. It is the only
// consumer-facing view of "now"; producers push, the decision engine reads.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
)

// Store is the hub contract. The in-process Hub and the loopback HTTP
// client both satisfy it, so consumers never know which side of the
// process boundary they are on.
type Store interface {
	UpdateTick(t market.Tick)
	UpdateCandle(c market.Candle)
	UpdateOrderFlow(m market.OrderFlowMetrics)
	UpdateTA(s market.TAIndicatorSnapshot)

	LatestTick(instrument string) (market.Tick, bool)
	LatestCandles(instrument, timeframe string, limit int) []market.Candle
	LatestOrderFlow(instrument string) (market.OrderFlowMetrics, bool)
	LatestTA(instrument string) (market.TAIndicatorSnapshot, bool)
	CheckStaleness(instrument string) Staleness
}

// Staleness reports per-category freshness for one instrument. A category
// with no data at all is reported stale.
type Staleness struct {
	TickStale      bool `json:"tick_stale"`
	CandleStale    bool `json:"candle_stale"`
	OrderFlowStale bool `json:"of_stale"`
	TAStale        bool `json:"ta_stale"`
}

// TTLConfig holds the per-category staleness TTLs.
type TTLConfig struct {
	Tick      time.Duration
	Candle    time.Duration
	OrderFlow time.Duration
	TA        time.Duration
}

// DefaultTTLConfig returns the standard freshness budget.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Tick:      2 * time.Second,
		Candle:    120 * time.Second,
		OrderFlow: 5 * time.Second,
		TA:        10 * time.Minute,
	}
}

type timedTick struct {
	tick market.Tick
	at   time.Time
}

type timedOrderFlow struct {
	metrics market.OrderFlowMetrics
	at      time.Time
}

type timedTA struct {
	snapshot market.TAIndicatorSnapshot
	at       time.Time
}

// candleWindow holds the finalized window plus the forming-candle slot.
// The window is strictly increasing in open_time.
type candleWindow struct {
	candles []market.Candle
	forming *market.Candle
	updated time.Time
}

// Hub is the in-process implementation of Store. One RWMutex over four
// maps; reads dominate and writes are single-field swaps.
type Hub struct {
	mu         sync.RWMutex
	ttl        TTLConfig
	maxCandles int
	log        *logging.Logger
	nowFn      func() time.Time

	ticks     map[string]timedTick
	windows   map[string]*candleWindow // key instrument:timeframe
	orderFlow map[string]timedOrderFlow
	ta        map[string]timedTA
}

// New creates an empty hub.
func New(ttl TTLConfig, maxCandles int) *Hub {
	if maxCandles <= 0 {
		maxCandles = 100
	}
	if maxCandles > 200 {
		maxCandles = 200
	}
	return &Hub{
		ttl:        ttl,
		maxCandles: maxCandles,
		log:        logging.WithComponent("hub"),
		nowFn:      time.Now,
		ticks:      make(map[string]timedTick),
		windows:    make(map[string]*candleWindow),
		orderFlow:  make(map[string]timedOrderFlow),
		ta:         make(map[string]timedTA),
	}
}

func windowKey(instrument, timeframe string) string {
	return instrument + ":" + timeframe
}

// UpdateTick overwrites the latest tick for the instrument.
func (h *Hub) UpdateTick(t market.Tick) {
	h.mu.Lock()
	h.ticks[t.Instrument] = timedTick{tick: t, at: h.nowFn()}
	h.mu.Unlock()
}

// UpdateCandle routes a candle to the forming slot or the finalized
// window. Finalized candles must arrive in increasing open_time order;
// re-delivery of the window's newest open_time replaces it in place so
// the operation is idempotent. Older finalized candles are dropped.
func (h *Hub) UpdateCandle(c market.Candle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := windowKey(c.Instrument, c.Timeframe)
	w := h.windows[key]
	if w == nil {
		w = &candleWindow{}
		h.windows[key] = w
	}
	w.updated = h.nowFn()

	if !c.Finalized {
		cc := c
		w.forming = &cc
		return
	}

	if n := len(w.candles); n > 0 {
		last := w.candles[n-1].OpenTime
		if c.OpenTime.Equal(last) {
			w.candles[n-1] = c
			return
		}
		if c.OpenTime.Before(last) {
			h.log.Warn("dropping out-of-order finalized candle",
				"instrument", c.Instrument, "open_time", c.OpenTime)
			return
		}
	}

	w.candles = append(w.candles, c)
	if len(w.candles) > h.maxCandles {
		w.candles = w.candles[len(w.candles)-h.maxCandles:]
	}
	if w.forming != nil && !w.forming.OpenTime.After(c.OpenTime) {
		w.forming = nil
	}
}

// UpdateOrderFlow overwrites the order-flow snapshot for the instrument.
func (h *Hub) UpdateOrderFlow(m market.OrderFlowMetrics) {
	h.mu.Lock()
	h.orderFlow[m.Instrument] = timedOrderFlow{metrics: m, at: h.nowFn()}
	h.mu.Unlock()
}

// UpdateTA overwrites the TA snapshot for the instrument.
func (h *Hub) UpdateTA(s market.TAIndicatorSnapshot) {
	h.mu.Lock()
	h.ta[s.Instrument] = timedTA{snapshot: s, at: h.nowFn()}
	h.mu.Unlock()
}

// LatestTick returns the latest tick regardless of freshness; callers use
// CheckStaleness for the freshness verdict.
func (h *Hub) LatestTick(instrument string) (market.Tick, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	tt, ok := h.ticks[instrument]
	return tt.tick, ok
}

// LatestCandles returns up to limit most-recent finalized candles in
// ascending open_time order.
func (h *Hub) LatestCandles(instrument, timeframe string, limit int) []market.Candle {
	h.mu.RLock()
	defer h.mu.RUnlock()

	w := h.windows[windowKey(instrument, timeframe)]
	if w == nil || len(w.candles) == 0 {
		return nil
	}
	src := w.candles
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]market.Candle, len(src))
	copy(out, src)
	return out
}

// FormingCandle returns the in-progress candle for the current minute.
func (h *Hub) FormingCandle(instrument, timeframe string) (market.Candle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	w := h.windows[windowKey(instrument, timeframe)]
	if w == nil || w.forming == nil {
		return market.Candle{}, false
	}
	return *w.forming, true
}

// LatestOrderFlow returns the latest order-flow snapshot.
func (h *Hub) LatestOrderFlow(instrument string) (market.OrderFlowMetrics, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	of, ok := h.orderFlow[instrument]
	return of.metrics, ok
}

// LatestTA returns the latest TA snapshot.
func (h *Hub) LatestTA(instrument string) (market.TAIndicatorSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.ta[instrument]
	return s.snapshot, ok
}

// CheckStaleness evaluates all four categories against their TTLs.
func (h *Hub) CheckStaleness(instrument string) Staleness {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.nowFn()
	st := Staleness{TickStale: true, CandleStale: true, OrderFlowStale: true, TAStale: true}

	if tt, ok := h.ticks[instrument]; ok {
		st.TickStale = now.Sub(tt.at) > h.ttl.Tick
	}
	if w, ok := h.windows[windowKey(instrument, market.Timeframe1m)]; ok && len(w.candles) > 0 {
		st.CandleStale = now.Sub(w.updated) > h.ttl.Candle
	}
	if of, ok := h.orderFlow[instrument]; ok {
		st.OrderFlowStale = now.Sub(of.at) > h.ttl.OrderFlow
	}
	if s, ok := h.ta[instrument]; ok {
		st.TAStale = now.Sub(s.at) > h.ttl.TA
	}
	return st
}

// CandleFetchFn loads the most recent finalized candles from the store,
// ascending by open_time.
type CandleFetchFn func(ctx context.Context, instrument, timeframe string, limit int) ([]market.Candle, error)

// WarmStart synchronously populates each instrument's candle window from
// the store. Runs before any consumer starts.
func (h *Hub) WarmStart(ctx context.Context, instruments []string, fetch CandleFetchFn, limit int) error {
	if limit <= 0 || limit > h.maxCandles {
		limit = h.maxCandles
	}
	for _, inst := range instruments {
		candles, err := fetch(ctx, inst, market.Timeframe1m, limit)
		if err != nil {
			return fmt.Errorf("warm start %s: %w", inst, err)
		}
		for _, c := range candles {
			if c.Finalized {
				h.UpdateCandle(c)
			}
		}
		h.log.Info("warm start loaded candles", "instrument", inst, "count", len(candles))
	}
	return nil
}
