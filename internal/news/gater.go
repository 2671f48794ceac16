// Package news derives trading blackout windows around high-impact
// economic events and answers gating queries for the decision engine
// and the trade lifecycle.
package news

import (
	"context"
	"sync"
	"time"

	"fx-scalper-bot/internal/events"
	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
)

// EventSource supplies upcoming calendar events. Repository satisfies it.
type EventSource interface {
	FetchUpcomingHighImpactEvents(ctx context.Context, from, to time.Time) ([]market.EconomicEvent, error)
}

// TransitionStore records window state changes for audit.
type TransitionStore interface {
	RecordGatingTransition(ctx context.Context, w market.GatingWindow) error
}

// Config tunes the gating window geometry, all in minutes before/after
// the scheduled event time.
type Config struct {
	PreEventMin       int // gate opens this long before the event
	PostEventMin      int // gate clears this long after the event
	ClosePositionsMin int // open positions are force-closed this long before the event
	RefreshInterval   time.Duration
	Lookahead         time.Duration
}

// DefaultConfig returns the standard 15/10/10 geometry.
func DefaultConfig() Config {
	return Config{
		PreEventMin:       15,
		PostEventMin:      10,
		ClosePositionsMin: 10,
		RefreshInterval:   60 * time.Second,
		Lookahead:         24 * time.Hour,
	}
}

type gateWindow struct {
	market.GatingWindow
	closePositionsAt time.Time
}

// Gater maintains per-instrument blackout windows derived from the
// economic calendar. Windows move scheduled -> active -> cleared on the
// minute check; overlapping windows for one instrument are independent
// and the instrument stays gated while any window is active.
type Gater struct {
	cfg         Config
	source      EventSource
	store       TransitionStore
	bus         *events.Bus
	instruments []market.Instrument
	log         *logging.Logger

	mu      sync.RWMutex
	windows map[string]*gateWindow // keyed by instrument + event id
	nowFn   func() time.Time
}

// NewGater creates the gater for the given instrument universe.
func NewGater(cfg Config, source EventSource, store TransitionStore, bus *events.Bus, instruments []market.Instrument) *Gater {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 60 * time.Second
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 24 * time.Hour
	}
	return &Gater{
		cfg:         cfg,
		source:      source,
		store:       store,
		bus:         bus,
		instruments: instruments,
		log:         logging.WithComponent("news_gater"),
		windows:     make(map[string]*gateWindow),
		nowFn:       time.Now,
	}
}

// Run refreshes the calendar and advances window states until ctx ends.
func (g *Gater) Run(ctx context.Context) {
	g.refresh(ctx)
	g.advance(ctx)

	refresh := time.NewTicker(g.cfg.RefreshInterval)
	tick := time.NewTicker(10 * time.Second)
	defer refresh.Stop()
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			g.refresh(ctx)
		case <-tick.C:
			g.advance(ctx)
		}
	}
}

// refresh pulls upcoming high-impact events and schedules windows for
// every instrument whose base or quote matches the event currency.
func (g *Gater) refresh(ctx context.Context) {
	now := g.nowFn().UTC()
	evs, err := g.source.FetchUpcomingHighImpactEvents(ctx, now.Add(-time.Duration(g.cfg.PostEventMin)*time.Minute), now.Add(g.cfg.Lookahead))
	if err != nil {
		g.log.Error("calendar refresh failed", "error", err)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ev := range evs {
		for _, inst := range g.instruments {
			if !inst.HasCurrency(ev.Currency) {
				continue
			}
			key := inst.ID + "|" + ev.EventID
			if _, ok := g.windows[key]; ok {
				continue
			}
			w := &gateWindow{
				GatingWindow: market.GatingWindow{
					Instrument:    inst.ID,
					State:         market.GateScheduled,
					WindowStart:   ev.ScheduledTime.Add(-time.Duration(g.cfg.PreEventMin) * time.Minute),
					WindowEnd:     ev.ScheduledTime.Add(time.Duration(g.cfg.PostEventMin) * time.Minute),
					Reason:        ev.EventName + " (" + ev.Currency + ")",
					LinkedEventID: ev.EventID,
				},
				closePositionsAt: ev.ScheduledTime.Add(-time.Duration(g.cfg.ClosePositionsMin) * time.Minute),
			}
			g.windows[key] = w
			g.log.Info("gating window scheduled", "instrument", inst.ID,
				"event", ev.EventName, "start", w.WindowStart, "end", w.WindowEnd)
			g.record(ctx, w.GatingWindow)
		}
	}
}

// advance moves windows through their lifecycle and drops cleared ones.
func (g *Gater) advance(ctx context.Context) {
	now := g.nowFn().UTC()

	g.mu.Lock()
	var transitions []market.GatingWindow
	for key, w := range g.windows {
		switch w.State {
		case market.GateScheduled:
			if !now.Before(w.WindowStart) {
				w.State = market.GateActive
				transitions = append(transitions, w.GatingWindow)
				g.log.Warn("gating window active", "instrument", w.Instrument, "reason", w.Reason)
			}
		case market.GateActive:
			if now.After(w.WindowEnd) {
				w.State = market.GateCleared
				transitions = append(transitions, w.GatingWindow)
				g.log.Info("gating window cleared", "instrument", w.Instrument, "reason", w.Reason)
				delete(g.windows, key)
			}
		}
	}
	g.mu.Unlock()

	for _, w := range transitions {
		g.record(ctx, w)
		if g.bus == nil {
			continue
		}
		evType := events.EventNewsGateActive
		if w.State == market.GateCleared {
			evType = events.EventNewsGateCleared
		}
		g.bus.Publish(evType, map[string]interface{}{
			"instrument": w.Instrument, "state": w.State, "reason": w.Reason,
		})
	}
}

func (g *Gater) record(ctx context.Context, w market.GatingWindow) {
	if g.store == nil {
		return
	}
	if err := g.store.RecordGatingTransition(ctx, w); err != nil {
		g.log.Error("transition persist failed", "instrument", w.Instrument, "error", err)
	}
}

// IsGated reports whether the instrument is inside any active window,
// with the blocking reason.
func (g *Gater) IsGated(instrument string) (bool, string) {
	now := g.nowFn().UTC()
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, w := range g.windows {
		if w.Instrument == instrument && w.State == market.GateActive && w.Contains(now) {
			return true, w.Reason
		}
	}
	return false, ""
}

// ShouldClosePositions reports whether open positions on the instrument
// must be force-closed ahead of an imminent event. True from the
// close-positions mark until the event window ends.
func (g *Gater) ShouldClosePositions(instrument string) (bool, string) {
	now := g.nowFn().UTC()
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, w := range g.windows {
		if w.Instrument != instrument || w.State == market.GateCleared {
			continue
		}
		if !now.Before(w.closePositionsAt) && !now.After(w.WindowEnd) {
			return true, w.Reason
		}
	}
	return false, ""
}

// ActiveWindows returns a copy of the non-cleared windows, for the
// control API.
func (g *Gater) ActiveWindows() []market.GatingWindow {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]market.GatingWindow, 0, len(g.windows))
	for _, w := range g.windows {
		out = append(out, w.GatingWindow)
	}
	return out
}
