package news

import (
	"context"
	"testing"
	"time"

	"fx-scalper-bot/internal/market"
)

type fakeCalendar struct {
	events []market.EconomicEvent
}

func (f *fakeCalendar) FetchUpcomingHighImpactEvents(_ context.Context, _, _ time.Time) ([]market.EconomicEvent, error) {
	return f.events, nil
}

type fakeTransitions struct {
	recorded []market.GatingWindow
}

func (f *fakeTransitions) RecordGatingTransition(_ context.Context, w market.GatingWindow) error {
	f.recorded = append(f.recorded, w)
	return nil
}

func mustInstrument(t *testing.T, id string) market.Instrument {
	t.Helper()
	inst, err := market.NewInstrument(id)
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func newTestGater(t *testing.T, events []market.EconomicEvent, now *time.Time) (*Gater, *fakeTransitions) {
	t.Helper()
	store := &fakeTransitions{}
	instruments := []market.Instrument{
		mustInstrument(t, "EUR_USD"),
		mustInstrument(t, "GBP_USD"),
		mustInstrument(t, "EUR_GBP"),
	}
	g := NewGater(DefaultConfig(), &fakeCalendar{events: events}, store, nil, instruments)
	g.nowFn = func() time.Time { return *now }
	return g, store
}

func nfpEvent(at time.Time) market.EconomicEvent {
	return market.EconomicEvent{
		EventID:       "nfp-2025-03-07",
		ScheduledTime: at,
		Country:       "US",
		Currency:      "USD",
		Importance:    market.ImportanceHigh,
		EventName:     "Non-Farm Payrolls",
	}
}

func TestGaterWindowGeometry(t *testing.T) {
	event := time.Date(2025, 3, 7, 13, 30, 0, 0, time.UTC)
	now := event.Add(-2 * time.Hour)
	g, _ := newTestGater(t, []market.EconomicEvent{nfpEvent(event)}, &now)
	g.refresh(context.Background())

	windows := g.ActiveWindows()
	// USD event matches EUR_USD and GBP_USD but not EUR_GBP.
	if len(windows) != 2 {
		t.Fatalf("windows = %d, want 2", len(windows))
	}
	for _, w := range windows {
		if w.Instrument == "EUR_GBP" {
			t.Error("EUR_GBP must not be gated by a USD event")
		}
		if !w.WindowStart.Equal(event.Add(-15 * time.Minute)) {
			t.Errorf("window start = %v, want event-15m", w.WindowStart)
		}
		if !w.WindowEnd.Equal(event.Add(10 * time.Minute)) {
			t.Errorf("window end = %v, want event+10m", w.WindowEnd)
		}
		if w.State != market.GateScheduled {
			t.Errorf("fresh window state = %q, want scheduled", w.State)
		}
	}
}

func TestGaterLifecycle(t *testing.T) {
	event := time.Date(2025, 3, 7, 13, 30, 0, 0, time.UTC)
	now := event.Add(-2 * time.Hour)
	g, store := newTestGater(t, []market.EconomicEvent{nfpEvent(event)}, &now)
	ctx := context.Background()
	g.refresh(ctx)

	if gated, _ := g.IsGated("EUR_USD"); gated {
		t.Error("scheduled window must not gate")
	}

	// Inside [event-15m, event+10m].
	now = event.Add(-14 * time.Minute)
	g.advance(ctx)
	gated, reason := g.IsGated("EUR_USD")
	if !gated {
		t.Fatal("expected EUR_USD gated inside the window")
	}
	if reason == "" {
		t.Error("gated verdict must carry a reason")
	}
	if gated, _ := g.IsGated("EUR_GBP"); gated {
		t.Error("EUR_GBP must stay open")
	}

	// Past event+10m.
	now = event.Add(11 * time.Minute)
	g.advance(ctx)
	if gated, _ := g.IsGated("EUR_USD"); gated {
		t.Error("window must clear after event+10m")
	}

	var states []string
	for _, w := range store.recorded {
		if w.Instrument == "EUR_USD" {
			states = append(states, w.State)
		}
	}
	want := []string{market.GateScheduled, market.GateActive, market.GateCleared}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, states[i], want[i])
		}
	}
}

func TestGaterClosePositionsMark(t *testing.T) {
	event := time.Date(2025, 3, 7, 13, 30, 0, 0, time.UTC)
	now := event.Add(-2 * time.Hour)
	g, _ := newTestGater(t, []market.EconomicEvent{nfpEvent(event)}, &now)
	g.refresh(context.Background())

	// 13:19Z, one minute before the close-positions mark.
	now = event.Add(-11 * time.Minute)
	if closing, _ := g.ShouldClosePositions("EUR_USD"); closing {
		t.Error("positions must survive until event-10m")
	}

	// 13:20Z.
	now = event.Add(-10 * time.Minute)
	closing, reason := g.ShouldClosePositions("EUR_USD")
	if !closing {
		t.Fatal("expected close-positions at event-10m")
	}
	if reason == "" {
		t.Error("close verdict must carry a reason")
	}
	if closing, _ := g.ShouldClosePositions("EUR_GBP"); closing {
		t.Error("unmatched instrument must not be closed")
	}
}

func TestGaterRefreshIsIdempotent(t *testing.T) {
	event := time.Date(2025, 3, 7, 13, 30, 0, 0, time.UTC)
	now := event.Add(-2 * time.Hour)
	g, store := newTestGater(t, []market.EconomicEvent{nfpEvent(event)}, &now)
	ctx := context.Background()

	g.refresh(ctx)
	g.refresh(ctx)
	g.refresh(ctx)

	if len(g.ActiveWindows()) != 2 {
		t.Errorf("windows = %d, want 2 after repeated refreshes", len(g.ActiveWindows()))
	}
	if len(store.recorded) != 2 {
		t.Errorf("recorded transitions = %d, want 2", len(store.recorded))
	}
}
