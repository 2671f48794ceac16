package engine

import (
	"context"

	"fx-scalper-bot/internal/hub"
	"fx-scalper-bot/internal/market"
)

const (
	fetchCandleCount = 100
	minCandleCount   = 20
)

// StoreFallback reads from the store when the hub is thin, typically
// right after a restart: candles to refill the window, the last TA
// snapshot when the hub has none.
type StoreFallback interface {
	FetchLastCandles(ctx context.Context, instrument, timeframe string, limit int) ([]market.Candle, error)
	FetchLatestTASnapshot(ctx context.Context, instrument string) (*market.TAIndicatorSnapshot, error)
}

// Fetcher assembles a MarketView from hub state. Read-only; every
// degradation surfaces as a warning on the view instead of an error.
type Fetcher struct {
	hub      hub.Store
	fallback StoreFallback
}

// NewFetcher creates the unified data fetcher.
func NewFetcher(h hub.Store, fallback StoreFallback) *Fetcher {
	return &Fetcher{hub: h, fallback: fallback}
}

// Fetch builds the view for one instrument.
func (f *Fetcher) Fetch(ctx context.Context, inst market.Instrument) *market.MarketView {
	view := &market.MarketView{Instrument: inst}
	st := f.hub.CheckStaleness(inst.ID)

	view.Candles = f.hub.LatestCandles(inst.ID, market.Timeframe1m, fetchCandleCount)
	if len(view.Candles) < minCandleCount && f.fallback != nil {
		if stored, err := f.fallback.FetchLastCandles(ctx, inst.ID, market.Timeframe1m, fetchCandleCount); err == nil && len(stored) > len(view.Candles) {
			view.Candles = stored
		}
	}
	if len(view.Candles) < minCandleCount {
		view.Warnings = append(view.Warnings, market.WarnInsufficientCandles)
	}

	if tick, ok := f.hub.LatestTick(inst.ID); ok && !st.TickStale {
		view.Bid, view.Ask = tick.Bid, tick.Ask
		if sp, err := inst.SpreadPips(tick.Bid, tick.Ask); err == nil {
			view.SpreadPips = &sp
		} else {
			view.Warnings = append(view.Warnings, market.WarnSpreadUnavailable)
		}
	} else {
		view.Warnings = append(view.Warnings, market.WarnSpreadUnavailable)
	}

	if ta, ok := f.hub.LatestTA(inst.ID); ok {
		view.TA = &ta
		if st.TAStale {
			view.Warnings = append(view.Warnings, market.WarnTAStale)
		}
	} else if f.fallback != nil {
		// No snapshot in the hub at all; the stored one is better than
		// nothing but is stale by definition.
		if stored, err := f.fallback.FetchLatestTASnapshot(ctx, inst.ID); err == nil && stored != nil {
			view.TA = stored
			view.Warnings = append(view.Warnings, market.WarnTAStale)
		}
	}
	if of, ok := f.hub.LatestOrderFlow(inst.ID); ok {
		view.OrderFlow = &of
		if st.OrderFlowStale {
			view.Warnings = append(view.Warnings, market.WarnOrderFlowStale)
		}
	}
	return view
}
