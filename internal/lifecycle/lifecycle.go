// Package lifecycle owns open positions: admission checks at open,
// the 30-second monitor loop that exits on TP, SL, duration cap or an
// imminent news event, and the loss breaker fed by realized results.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fx-scalper-bot/internal/broker"
	"fx-scalper-bot/internal/events"
	"fx-scalper-bot/internal/market"
	"fx-scalper-bot/internal/metrics"
)

// ErrOpenBlocked wraps every pre-open limit rejection so the engine can
// tell admission failures from broker failures.
var ErrOpenBlocked = errors.New("open blocked by pre-open limit")

// Quotes supplies the freshest tick per instrument.
type Quotes interface {
	LatestTick(instrument string) (market.Tick, bool)
}

// NewsSource reports gating and forced-close verdicts.
type NewsSource interface {
	IsGated(instrument string) (bool, string)
	ShouldClosePositions(instrument string) (bool, string)
}

// TradeStore persists terminal trade records and replays today's
// closes for breaker recovery after a restart.
type TradeStore interface {
	InsertClosedTrade(ctx context.Context, t market.ClosedTrade) error
	FetchClosedTradesSince(ctx context.Context, since time.Time) ([]market.ClosedTrade, error)
}

// Config tunes the lifecycle.
type Config struct {
	MonitorInterval  time.Duration // default 30s
	DurationCap      time.Duration // default 20m
	MaxOpenPositions int           // default 2
	PipValuePerLot   float64       // cash PnL per pip per lot
	SubmitMaxRetries int           // bounded retries on retryable broker errors
}

// DefaultConfig returns scalper defaults.
func DefaultConfig() Config {
	return Config{
		MonitorInterval:  30 * time.Second,
		DurationCap:      20 * time.Minute,
		MaxOpenPositions: 2,
		PipValuePerLot:   10,
		SubmitMaxRetries: 2,
	}
}

// Lifecycle tracks open trades, at most one per instrument.
type Lifecycle struct {
	cfg     Config
	driver  broker.Driver
	quotes  Quotes
	news    NewsSource
	store   TradeStore
	state   StateStore
	breaker *Breaker
	bus     *events.Bus
	logger  zerolog.Logger

	mu    sync.Mutex
	open  map[string]*market.ActiveTrade
	nowFn func() time.Time
}

// New creates the lifecycle.
func New(cfg Config, driver broker.Driver, quotes Quotes, news NewsSource, store TradeStore, state StateStore, breaker *Breaker, bus *events.Bus, logger zerolog.Logger) *Lifecycle {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 30 * time.Second
	}
	if cfg.DurationCap <= 0 {
		cfg.DurationCap = 20 * time.Minute
	}
	if cfg.MaxOpenPositions <= 0 {
		cfg.MaxOpenPositions = 2
	}
	if state == nil {
		state = NewMemoryStateStore()
	}
	return &Lifecycle{
		cfg:     cfg,
		driver:  driver,
		quotes:  quotes,
		news:    news,
		store:   store,
		state:   state,
		breaker: breaker,
		bus:     bus,
		logger:  logger.With().Str("component", "TradeLifecycle").Logger(),
		open:    make(map[string]*market.ActiveTrade),
		nowFn:   time.Now,
	}
}

// Restore reloads open-trade state after a restart and reconciles it
// against the broker's open positions. Trades the broker no longer
// holds are dropped.
func (l *Lifecycle) Restore(ctx context.Context) error {
	l.restoreBreakerDay(ctx)

	saved, err := l.state.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load trade state: %w", err)
	}
	if len(saved) == 0 {
		return nil
	}

	held := make(map[string]bool)
	if positions, err := l.driver.FetchOpenPositions(ctx); err == nil {
		for _, p := range positions {
			held[p.DealRef] = true
		}
	} else {
		l.logger.Warn().Err(err).Msg("position reconcile unavailable, trusting saved state")
		for _, t := range saved {
			held[t.DealRef] = true
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range saved {
		t := saved[i]
		if !held[t.DealRef] {
			l.logger.Warn().Str("trade_id", t.TradeID).Msg("saved trade no longer held by broker, discarding")
			_ = l.state.Delete(ctx, t.Instrument)
			continue
		}
		l.open[t.Instrument] = &t
		l.logger.Info().Str("trade_id", t.TradeID).Str("instrument", t.Instrument).Msg("restored open trade")
	}
	metrics.OpenTrades.Set(float64(len(l.open)))
	return nil
}

// restoreBreakerDay replays today's closed trades into the breaker so
// daily caps and loss streaks survive a restart.
func (l *Lifecycle) restoreBreakerDay(ctx context.Context) {
	if l.store == nil || l.breaker == nil {
		return
	}
	dayStart := l.nowFn().UTC().Truncate(24 * time.Hour)
	closed, err := l.store.FetchClosedTradesSince(ctx, dayStart)
	if err != nil {
		l.logger.Warn().Err(err).Msg("closed-trade replay unavailable, breaker counters start fresh")
		return
	}
	if len(closed) == 0 {
		return
	}
	l.breaker.RestoreDaily(closed)
	l.logger.Info().Int("trades", len(closed)).Msg("breaker daily counters restored")
}

// Open admits and submits one signal. Returns the trade ID, or
// ErrOpenBlocked (wrapped) when a pre-open limit refuses it.
func (l *Lifecycle) Open(ctx context.Context, sig market.Signal) (string, error) {
	if err := l.admit(ctx, sig); err != nil {
		return "", err
	}

	tradeID := sig.CycleID
	inst, err := market.NewInstrument(sig.Instrument)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOpenBlocked, err)
	}

	order := broker.MarketOrder{
		TradeID:        tradeID,
		Instrument:     sig.Instrument,
		Direction:      sig.Direction,
		SizeLots:       sig.SizeLots,
		SLDistancePips: inst.ToPips(absDiff(sig.EntryPrice, sig.StopLoss)),
		TPDistancePips: inst.ToPips(absDiff(sig.EntryPrice, sig.TakeProfit)),
	}

	dealRef, err := l.submit(ctx, order)
	if err != nil {
		return "", err
	}

	trade := &market.ActiveTrade{
		TradeID:     tradeID,
		Instrument:  sig.Instrument,
		Direction:   sig.Direction,
		SizeLots:    sig.SizeLots,
		EntryTime:   l.nowFn(),
		EntryPrice:  sig.EntryPrice,
		TakeProfit:  sig.TakeProfit,
		StopLoss:    sig.StopLoss,
		DurationCap: l.cfg.DurationCap,
		DealRef:     dealRef,
	}

	l.mu.Lock()
	l.open[sig.Instrument] = trade
	openCount := len(l.open)
	l.mu.Unlock()

	if err := l.state.Save(ctx, *trade); err != nil {
		l.logger.Error().Err(err).Str("trade_id", tradeID).Msg("trade state save failed")
	}
	if l.breaker != nil {
		l.breaker.RecordOpen()
	}
	metrics.OpenTrades.Set(float64(openCount))
	if l.bus != nil {
		l.bus.Publish(events.EventTradeOpened, map[string]interface{}{
			"trade_id": tradeID, "instrument": sig.Instrument,
			"direction": sig.Direction, "size_lots": sig.SizeLots,
		})
	}
	l.logger.Info().
		Str("trade_id", tradeID).
		Str("instrument", sig.Instrument).
		Str("direction", sig.Direction).
		Float64("entry", sig.EntryPrice).
		Float64("tp", sig.TakeProfit).
		Float64("sl", sig.StopLoss).
		Msg("trade opened")
	return tradeID, nil
}

// admit enforces the pre-open limits.
func (l *Lifecycle) admit(ctx context.Context, sig market.Signal) error {
	l.mu.Lock()
	openCount := len(l.open)
	_, exists := l.open[sig.Instrument]
	l.mu.Unlock()

	if exists {
		return fmt.Errorf("%w: open trade exists for %s", ErrOpenBlocked, sig.Instrument)
	}
	if openCount >= l.cfg.MaxOpenPositions {
		return fmt.Errorf("%w: max open positions (%d)", ErrOpenBlocked, l.cfg.MaxOpenPositions)
	}
	if l.breaker != nil {
		if ok, reason := l.breaker.CanOpen(); !ok {
			return fmt.Errorf("%w: %s", ErrOpenBlocked, reason)
		}
	}
	if l.news != nil {
		if gated, reason := l.news.IsGated(sig.Instrument); gated {
			return fmt.Errorf("%w: news gate (%s)", ErrOpenBlocked, reason)
		}
	}

	snap, err := l.driver.AccountSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("%w: account snapshot unavailable: %s", ErrOpenBlocked, err)
	}
	if snap.MarginAvailable <= 0 {
		return fmt.Errorf("%w: no margin available", ErrOpenBlocked)
	}
	return nil
}

// submit places the order with bounded retries on retryable failures.
// The trade ID rides along as the idempotency key, so a retry after an
// ambiguous failure cannot double-open.
func (l *Lifecycle) submit(ctx context.Context, order broker.MarketOrder) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.SubmitMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		dealRef, err := l.driver.PlaceMarketOrder(ctx, order)
		if err == nil {
			return dealRef, nil
		}
		lastErr = err
		if errors.Is(err, broker.ErrAuthInvalid) {
			if rerr := l.driver.RefreshSessionIfExpired(ctx); rerr != nil {
				return "", fmt.Errorf("session refresh failed: %w", rerr)
			}
			continue
		}
		if !errors.Is(err, broker.ErrRetryable) {
			return "", err
		}
		l.logger.Warn().Err(err).Int("attempt", attempt+1).Str("trade_id", order.TradeID).Msg("order submit retrying")
	}
	return "", fmt.Errorf("order submit exhausted retries: %w", lastErr)
}

// Run drives the monitor loop until ctx ends.
func (l *Lifecycle) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.monitorOnce(ctx)
		}
	}
}

// monitorOnce evaluates every open trade against the exit conditions.
func (l *Lifecycle) monitorOnce(ctx context.Context) {
	l.mu.Lock()
	trades := make([]*market.ActiveTrade, 0, len(l.open))
	for _, t := range l.open {
		trades = append(trades, t)
	}
	l.mu.Unlock()

	now := l.nowFn()
	for _, t := range trades {
		tick, ok := l.quotes.LatestTick(t.Instrument)
		if !ok {
			l.logger.Warn().Str("instrument", t.Instrument).Msg("no quote for open trade")
			continue
		}

		if reason, exitPrice := exitCheck(t, tick, now, l.news); reason != "" {
			l.closeTrade(ctx, t, exitPrice, reason)
		}
	}
}

// exitCheck returns the exit reason and fill price, or "" to hold.
// Longs exit on bid, shorts on ask.
func exitCheck(t *market.ActiveTrade, tick market.Tick, now time.Time, news NewsSource) (string, float64) {
	if t.Direction == market.DirectionLong {
		if tick.Bid >= t.TakeProfit {
			return market.ExitTPHit, tick.Bid
		}
		if tick.Bid <= t.StopLoss {
			return market.ExitSLHit, tick.Bid
		}
	} else {
		if tick.Ask <= t.TakeProfit {
			return market.ExitTPHit, tick.Ask
		}
		if tick.Ask >= t.StopLoss {
			return market.ExitSLHit, tick.Ask
		}
	}

	if now.Sub(t.EntryTime) >= t.DurationCap {
		return market.ExitMaxDuration, markPrice(t, tick)
	}
	if news != nil {
		if closing, _ := news.ShouldClosePositions(t.Instrument); closing {
			return market.ExitNewsGate, markPrice(t, tick)
		}
	}
	return "", 0
}

// markPrice is the closable side for the trade's direction.
func markPrice(t *market.ActiveTrade, tick market.Tick) float64 {
	if t.Direction == market.DirectionLong {
		return tick.Bid
	}
	return tick.Ask
}

// closeTrade closes at the broker, records the terminal row and feeds
// the breaker. Close events are serialized per instrument by the
// single monitor goroutine.
func (l *Lifecycle) closeTrade(ctx context.Context, t *market.ActiveTrade, exitPrice float64, reason string) {
	if err := l.driver.ClosePosition(ctx, t.DealRef); err != nil {
		l.logger.Error().Err(err).Str("trade_id", t.TradeID).Str("reason", reason).Msg("broker close failed, will retry next tick")
		return
	}

	inst, err := market.NewInstrument(t.Instrument)
	if err != nil {
		l.logger.Error().Err(err).Str("trade_id", t.TradeID).Msg("bad instrument on close")
		return
	}

	pnlPips := inst.ToPips(exitPrice - t.EntryPrice)
	if t.Direction == market.DirectionShort {
		pnlPips = -pnlPips
	}
	pnlCash := pnlPips * t.SizeLots * l.cfg.PipValuePerLot

	closed := market.ClosedTrade{
		ActiveTrade: *t,
		ExitTime:    l.nowFn(),
		ExitPrice:   exitPrice,
		PnLPips:     pnlPips,
		PnLCash:     pnlCash,
		ExitReason:  reason,
	}

	l.mu.Lock()
	delete(l.open, t.Instrument)
	openCount := len(l.open)
	l.mu.Unlock()

	if err := l.state.Delete(ctx, t.Instrument); err != nil {
		l.logger.Error().Err(err).Str("trade_id", t.TradeID).Msg("trade state delete failed")
	}
	if l.store != nil {
		if err := l.store.InsertClosedTrade(ctx, closed); err != nil {
			l.logger.Error().Err(err).Str("trade_id", t.TradeID).Msg("closed trade persist failed")
		}
	}

	var equity float64
	if snap, err := l.driver.AccountSnapshot(ctx); err == nil {
		equity = snap.Equity
	}
	if l.breaker != nil {
		l.breaker.RecordClose(pnlCash, equity)
	}

	metrics.OpenTrades.Set(float64(openCount))
	metrics.TradeCloses.WithLabelValues(reason).Inc()
	if l.bus != nil {
		l.bus.Publish(events.EventTradeClosed, map[string]interface{}{
			"trade_id": t.TradeID, "instrument": t.Instrument,
			"reason": reason, "pnl_pips": pnlPips,
		})
	}
	l.logger.Info().
		Str("trade_id", t.TradeID).
		Str("instrument", t.Instrument).
		Str("reason", reason).
		Float64("pnl_pips", pnlPips).
		Float64("pnl_cash", pnlCash).
		Msg("trade closed")
}

// OpenTrades returns a copy of the open set for the control surface.
func (l *Lifecycle) OpenTrades() []market.ActiveTrade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]market.ActiveTrade, 0, len(l.open))
	for _, t := range l.open {
		out = append(out, *t)
	}
	return out
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
