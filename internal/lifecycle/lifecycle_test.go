package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fx-scalper-bot/internal/broker"
	"fx-scalper-bot/internal/market"
)

type fakeDriver struct {
	positions   []broker.Position
	placed      []broker.MarketOrder
	closed      []string
	placeErrs   []error // consumed per call, nil means success
	closeErr    error
	snapshot    broker.AccountSnapshot
	snapshotErr error
}

func (d *fakeDriver) OpenSession(context.Context) error             { return nil }
func (d *fakeDriver) RefreshSessionIfExpired(context.Context) error { return nil }
func (d *fakeDriver) FetchCandles(context.Context, string, string, int) ([]market.Candle, error) {
	return nil, nil
}
func (d *fakeDriver) FetchOpenPositions(context.Context) ([]broker.Position, error) {
	return d.positions, nil
}
func (d *fakeDriver) PlaceMarketOrder(_ context.Context, order broker.MarketOrder) (string, error) {
	d.placed = append(d.placed, order)
	if len(d.placeErrs) > 0 {
		err := d.placeErrs[0]
		d.placeErrs = d.placeErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "DEAL-" + order.TradeID, nil
}
func (d *fakeDriver) ClosePosition(_ context.Context, dealRef string) error {
	if d.closeErr != nil {
		return d.closeErr
	}
	d.closed = append(d.closed, dealRef)
	return nil
}
func (d *fakeDriver) AccountSnapshot(context.Context) (broker.AccountSnapshot, error) {
	if d.snapshotErr != nil {
		return broker.AccountSnapshot{}, d.snapshotErr
	}
	return d.snapshot, nil
}

type fakeQuotes struct {
	ticks map[string]market.Tick
}

func (q *fakeQuotes) LatestTick(instrument string) (market.Tick, bool) {
	t, ok := q.ticks[instrument]
	return t, ok
}

type fakeNews struct {
	gated   bool
	closing bool
}

func (n *fakeNews) IsGated(string) (bool, string)              { return n.gated, "NFP" }
func (n *fakeNews) ShouldClosePositions(string) (bool, string) { return n.closing, "NFP" }

type fakeTradeStore struct {
	closed   []market.ClosedTrade
	previous []market.ClosedTrade
}

func (s *fakeTradeStore) InsertClosedTrade(_ context.Context, t market.ClosedTrade) error {
	s.closed = append(s.closed, t)
	return nil
}

func (s *fakeTradeStore) FetchClosedTradesSince(_ context.Context, _ time.Time) ([]market.ClosedTrade, error) {
	return s.previous, nil
}

func newTestLifecycle(t *testing.T, driver *fakeDriver, quotes *fakeQuotes, news *fakeNews, now *time.Time) (*Lifecycle, *fakeTradeStore) {
	t.Helper()
	store := &fakeTradeStore{}
	lc := New(DefaultConfig(), driver, quotes, news, store, NewMemoryStateStore(), nil, nil, zerolog.Nop())
	lc.nowFn = func() time.Time { return *now }
	return lc, store
}

func testSignal(instrument, direction string) market.Signal {
	sig := market.Signal{
		Instrument: instrument,
		CycleID:    "cycle-" + instrument + "-" + direction,
		Direction:  direction,
		EntryPrice: 1.08500,
		SizeLots:   1,
	}
	if direction == market.DirectionLong {
		sig.TakeProfit = 1.08600
		sig.StopLoss = 1.08440
	} else {
		sig.TakeProfit = 1.08400
		sig.StopLoss = 1.08560
	}
	return sig
}

func TestOpenThenTakeProfit(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	driver := &fakeDriver{snapshot: broker.AccountSnapshot{Equity: 10000, MarginAvailable: 5000}}
	quotes := &fakeQuotes{ticks: map[string]market.Tick{}}
	lc, store := newTestLifecycle(t, driver, quotes, &fakeNews{}, &now)

	sig := testSignal("EUR_USD", market.DirectionLong)
	tradeID, err := lc.Open(context.Background(), sig)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if tradeID != sig.CycleID {
		t.Errorf("tradeID = %q, want cycle id", tradeID)
	}
	if len(driver.placed) != 1 {
		t.Fatalf("placed %d orders, want 1", len(driver.placed))
	}
	if got := driver.placed[0].TPDistancePips; got < 9.99 || got > 10.01 {
		t.Errorf("TP distance = %.2f pips, want 10", got)
	}
	if got := driver.placed[0].SLDistancePips; got < 5.99 || got > 6.01 {
		t.Errorf("SL distance = %.2f pips, want 6", got)
	}

	// Below TP on the bid: hold.
	quotes.ticks["EUR_USD"] = market.Tick{Instrument: "EUR_USD", Bid: 1.08590, Ask: 1.08600, Time: now}
	lc.monitorOnce(context.Background())
	if len(store.closed) != 0 {
		t.Fatalf("closed early: %+v", store.closed)
	}

	quotes.ticks["EUR_USD"] = market.Tick{Instrument: "EUR_USD", Bid: 1.08605, Ask: 1.08615, Time: now}
	lc.monitorOnce(context.Background())
	if len(store.closed) != 1 {
		t.Fatalf("closed %d trades, want 1", len(store.closed))
	}
	closed := store.closed[0]
	if closed.ExitReason != market.ExitTPHit {
		t.Errorf("exit reason = %q, want %q", closed.ExitReason, market.ExitTPHit)
	}
	if closed.PnLPips < 10.4 || closed.PnLPips > 10.6 {
		t.Errorf("pnl = %.2f pips, want 10.5", closed.PnLPips)
	}
	if len(lc.OpenTrades()) != 0 {
		t.Error("trade still open after close")
	}
	if len(driver.closed) != 1 || driver.closed[0] != "DEAL-"+tradeID {
		t.Errorf("broker closes = %v", driver.closed)
	}
}

func TestShortStopsOnAsk(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	driver := &fakeDriver{snapshot: broker.AccountSnapshot{Equity: 10000, MarginAvailable: 5000}}
	quotes := &fakeQuotes{ticks: map[string]market.Tick{}}
	lc, store := newTestLifecycle(t, driver, quotes, &fakeNews{}, &now)

	if _, err := lc.Open(context.Background(), testSignal("GBP_USD", market.DirectionShort)); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Bid through the stop but ask still inside: a short closes on the
	// ask, so this must hold.
	quotes.ticks["GBP_USD"] = market.Tick{Instrument: "GBP_USD", Bid: 1.08565, Ask: 1.08555, Time: now}
	lc.monitorOnce(context.Background())
	if len(store.closed) != 0 {
		t.Fatal("short stopped on the bid")
	}

	quotes.ticks["GBP_USD"] = market.Tick{Instrument: "GBP_USD", Bid: 1.08555, Ask: 1.08565, Time: now}
	lc.monitorOnce(context.Background())
	if len(store.closed) != 1 {
		t.Fatalf("closed %d trades, want 1", len(store.closed))
	}
	closed := store.closed[0]
	if closed.ExitReason != market.ExitSLHit {
		t.Errorf("exit reason = %q, want %q", closed.ExitReason, market.ExitSLHit)
	}
	if closed.PnLPips > -6.4 {
		t.Errorf("pnl = %.2f pips, want about -6.5", closed.PnLPips)
	}
}

func TestDurationCapClose(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	driver := &fakeDriver{snapshot: broker.AccountSnapshot{Equity: 10000, MarginAvailable: 5000}}
	quotes := &fakeQuotes{ticks: map[string]market.Tick{}}
	lc, store := newTestLifecycle(t, driver, quotes, &fakeNews{}, &now)

	if _, err := lc.Open(context.Background(), testSignal("EUR_USD", market.DirectionLong)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	quotes.ticks["EUR_USD"] = market.Tick{Instrument: "EUR_USD", Bid: 1.08510, Ask: 1.08520, Time: now}

	now = now.Add(19 * time.Minute)
	lc.monitorOnce(context.Background())
	if len(store.closed) != 0 {
		t.Fatal("closed before the duration cap")
	}

	now = now.Add(time.Minute)
	lc.monitorOnce(context.Background())
	if len(store.closed) != 1 || store.closed[0].ExitReason != market.ExitMaxDuration {
		t.Fatalf("closed = %+v, want one MAX_DURATION close", store.closed)
	}
}

func TestNewsForcedClose(t *testing.T) {
	now := time.Date(2026, 3, 6, 13, 0, 0, 0, time.UTC)
	driver := &fakeDriver{snapshot: broker.AccountSnapshot{Equity: 10000, MarginAvailable: 5000}}
	quotes := &fakeQuotes{ticks: map[string]market.Tick{}}
	news := &fakeNews{}
	lc, store := newTestLifecycle(t, driver, quotes, news, &now)

	if _, err := lc.Open(context.Background(), testSignal("EUR_USD", market.DirectionLong)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	quotes.ticks["EUR_USD"] = market.Tick{Instrument: "EUR_USD", Bid: 1.08510, Ask: 1.08520, Time: now}

	lc.monitorOnce(context.Background())
	if len(store.closed) != 0 {
		t.Fatal("closed without a news mark")
	}

	news.closing = true
	lc.monitorOnce(context.Background())
	if len(store.closed) != 1 || store.closed[0].ExitReason != market.ExitNewsGate {
		t.Fatalf("closed = %+v, want one NEWS_GATE close", store.closed)
	}
}

func TestBrokerCloseFailureRetainsTrade(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	driver := &fakeDriver{snapshot: broker.AccountSnapshot{Equity: 10000, MarginAvailable: 5000}}
	quotes := &fakeQuotes{ticks: map[string]market.Tick{}}
	lc, store := newTestLifecycle(t, driver, quotes, &fakeNews{}, &now)

	if _, err := lc.Open(context.Background(), testSignal("EUR_USD", market.DirectionLong)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	quotes.ticks["EUR_USD"] = market.Tick{Instrument: "EUR_USD", Bid: 1.08700, Ask: 1.08710, Time: now}

	driver.closeErr = errors.New("venue unavailable")
	lc.monitorOnce(context.Background())
	if len(store.closed) != 0 || len(lc.OpenTrades()) != 1 {
		t.Fatal("trade dropped despite failed broker close")
	}

	driver.closeErr = nil
	lc.monitorOnce(context.Background())
	if len(store.closed) != 1 {
		t.Fatal("trade not closed after broker recovered")
	}
}

func TestOpenLimits(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	driver := &fakeDriver{snapshot: broker.AccountSnapshot{Equity: 10000, MarginAvailable: 5000}}
	quotes := &fakeQuotes{ticks: map[string]market.Tick{}}
	lc, _ := newTestLifecycle(t, driver, quotes, &fakeNews{}, &now)

	if _, err := lc.Open(context.Background(), testSignal("EUR_USD", market.DirectionLong)); err != nil {
		t.Fatalf("first open: %v", err)
	}

	// Second trade on the same instrument is refused.
	_, err := lc.Open(context.Background(), testSignal("EUR_USD", market.DirectionShort))
	if !errors.Is(err, ErrOpenBlocked) {
		t.Fatalf("duplicate instrument err = %v, want ErrOpenBlocked", err)
	}

	if _, err := lc.Open(context.Background(), testSignal("GBP_USD", market.DirectionLong)); err != nil {
		t.Fatalf("second instrument open: %v", err)
	}

	// Max open positions is 2.
	_, err = lc.Open(context.Background(), testSignal("USD_JPY", market.DirectionLong))
	if !errors.Is(err, ErrOpenBlocked) || !strings.Contains(err.Error(), "max open positions") {
		t.Fatalf("over-limit err = %v, want max open positions block", err)
	}
}

func TestOpenBlockedByNewsAndMargin(t *testing.T) {
	now := time.Date(2026, 3, 6, 13, 20, 0, 0, time.UTC)
	quotes := &fakeQuotes{ticks: map[string]market.Tick{}}

	driver := &fakeDriver{snapshot: broker.AccountSnapshot{Equity: 10000, MarginAvailable: 5000}}
	lc, _ := newTestLifecycle(t, driver, quotes, &fakeNews{gated: true}, &now)
	if _, err := lc.Open(context.Background(), testSignal("EUR_USD", market.DirectionLong)); !errors.Is(err, ErrOpenBlocked) {
		t.Fatalf("gated open err = %v, want ErrOpenBlocked", err)
	}

	driver = &fakeDriver{snapshot: broker.AccountSnapshot{Equity: 10000, MarginAvailable: 0}}
	lc, _ = newTestLifecycle(t, driver, quotes, &fakeNews{}, &now)
	if _, err := lc.Open(context.Background(), testSignal("EUR_USD", market.DirectionLong)); !errors.Is(err, ErrOpenBlocked) {
		t.Fatalf("no-margin open err = %v, want ErrOpenBlocked", err)
	}
}

func TestSubmitRetriesTransientThenSucceeds(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	driver := &fakeDriver{
		snapshot:  broker.AccountSnapshot{Equity: 10000, MarginAvailable: 5000},
		placeErrs: []error{fmt.Errorf("timeout: %w", broker.ErrRetryable), nil},
	}
	quotes := &fakeQuotes{ticks: map[string]market.Tick{}}
	lc, _ := newTestLifecycle(t, driver, quotes, &fakeNews{}, &now)

	if _, err := lc.Open(context.Background(), testSignal("EUR_USD", market.DirectionLong)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(driver.placed) != 2 {
		t.Fatalf("placed %d orders, want retry to make 2", len(driver.placed))
	}
	if driver.placed[0].TradeID != driver.placed[1].TradeID {
		t.Error("retry changed the idempotency key")
	}
}

func TestSubmitRejectionIsTerminal(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	driver := &fakeDriver{
		snapshot:  broker.AccountSnapshot{Equity: 10000, MarginAvailable: 5000},
		placeErrs: []error{fmt.Errorf("insufficient funds: %w", broker.ErrRejected)},
	}
	quotes := &fakeQuotes{ticks: map[string]market.Tick{}}
	lc, _ := newTestLifecycle(t, driver, quotes, &fakeNews{}, &now)

	_, err := lc.Open(context.Background(), testSignal("EUR_USD", market.DirectionLong))
	if !errors.Is(err, broker.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if len(driver.placed) != 1 {
		t.Fatalf("placed %d orders, rejection must not retry", len(driver.placed))
	}
	if len(lc.OpenTrades()) != 0 {
		t.Error("rejected order left an open trade")
	}
}

func TestRestoreReconcilesWithBroker(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	state := NewMemoryStateStore()
	held := market.ActiveTrade{
		TradeID: "t1", Instrument: "EUR_USD", Direction: market.DirectionLong,
		SizeLots: 1, EntryTime: now.Add(-5 * time.Minute), EntryPrice: 1.08500,
		TakeProfit: 1.08600, StopLoss: 1.08440, DurationCap: 20 * time.Minute,
		DealRef: "DEAL-t1",
	}
	orphan := held
	orphan.TradeID, orphan.Instrument, orphan.DealRef = "t2", "GBP_USD", "DEAL-t2"
	_ = state.Save(context.Background(), held)
	_ = state.Save(context.Background(), orphan)

	driver := &fakeDriver{positions: []broker.Position{{DealRef: "DEAL-t1", Instrument: "EUR_USD"}}}
	lc := New(DefaultConfig(), driver, &fakeQuotes{ticks: map[string]market.Tick{}}, &fakeNews{}, &fakeTradeStore{}, state, nil, nil, zerolog.Nop())
	lc.nowFn = func() time.Time { return now }

	if err := lc.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	open := lc.OpenTrades()
	if len(open) != 1 || open[0].TradeID != "t1" {
		t.Fatalf("restored %+v, want only the broker-held trade", open)
	}
	remaining, _ := state.LoadAll(context.Background())
	if len(remaining) != 1 {
		t.Errorf("orphan state not cleaned up: %+v", remaining)
	}
}

func TestRestoreRebuildsBreakerDay(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	breaker := newTestBreaker(BreakerConfig{Enabled: true, MaxConsecutiveLosses: 5, MaxDailyTrades: 40, CooldownMinutes: 30}, &now)
	store := &fakeTradeStore{previous: []market.ClosedTrade{
		{ActiveTrade: market.ActiveTrade{TradeID: "a"}, PnLCash: 4.0},
		{ActiveTrade: market.ActiveTrade{TradeID: "b"}, PnLCash: -3.0},
		{ActiveTrade: market.ActiveTrade{TradeID: "c"}, PnLCash: -2.0},
	}}
	lc := New(DefaultConfig(), &fakeDriver{}, &fakeQuotes{ticks: map[string]market.Tick{}}, &fakeNews{}, store, NewMemoryStateStore(), breaker, nil, zerolog.Nop())
	lc.nowFn = func() time.Time { return now }

	if err := lc.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	state, losses, daily, pnl := breaker.Stats()
	if state != StateClosed {
		t.Errorf("state = %s, want closed", state)
	}
	if daily != 3 {
		t.Errorf("daily trades = %d, want 3", daily)
	}
	if losses != 2 {
		t.Errorf("consecutive losses = %d, want 2", losses)
	}
	if pnl != -1.0 {
		t.Errorf("daily pnl = %v, want -1", pnl)
	}
}

func newTestBreaker(cfg BreakerConfig, now *time.Time) *Breaker {
	b := NewBreaker(cfg, nil)
	b.nowFn = func() time.Time { return *now }
	b.dayStart = now.UTC().Truncate(24 * time.Hour)
	return b
}

func TestBreakerTripsOnConsecutiveLosses(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	b := newTestBreaker(DefaultBreakerConfig(), &now)

	for i := 0; i < 4; i++ {
		b.RecordClose(-50, 10000)
	}
	if ok, _ := b.CanOpen(); !ok {
		t.Fatal("breaker tripped before the streak threshold")
	}

	b.RecordClose(-50, 10000)
	ok, reason := b.CanOpen()
	if ok {
		t.Fatal("breaker stayed closed after 5 consecutive losses")
	}
	if !strings.Contains(reason, "consecutive losses") {
		t.Errorf("reason = %q", reason)
	}

	// A winner inside the cooldown does not shortcut it.
	b.RecordClose(200, 10000)
	if ok, _ := b.CanOpen(); ok {
		t.Fatal("cooldown skipped by a single winner")
	}

	now = now.Add(31 * time.Minute)
	if ok, _ := b.CanOpen(); !ok {
		t.Fatal("breaker did not reset after the cooldown")
	}
}

func TestBreakerDailyLimits(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	cfg := DefaultBreakerConfig()
	cfg.MaxDailyTrades = 3
	b := newTestBreaker(cfg, &now)

	for i := 0; i < 3; i++ {
		b.RecordOpen()
	}
	if ok, reason := b.CanOpen(); ok || !strings.Contains(reason, "daily trade cap") {
		t.Fatalf("ok=%v reason=%q, want daily cap block", ok, reason)
	}

	// Counters reset on the UTC day boundary.
	now = now.Add(24 * time.Hour)
	if ok, _ := b.CanOpen(); !ok {
		t.Fatal("daily cap survived the day rollover")
	}
}

func TestBreakerDailyLossPausesUntilNextDay(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	b := newTestBreaker(DefaultBreakerConfig(), &now)

	// 5% of 10000 equity.
	b.RecordClose(-500, 10000)
	if ok, reason := b.CanOpen(); ok || !strings.Contains(reason, "daily loss") {
		t.Fatalf("ok=%v reason=%q, want daily loss pause", ok, reason)
	}

	// The pause outlives the 30 minute cooldown.
	now = now.Add(2 * time.Hour)
	if ok, _ := b.CanOpen(); ok {
		t.Fatal("daily loss pause lifted before the next day")
	}

	now = now.Add(24 * time.Hour)
	if ok, _ := b.CanOpen(); !ok {
		t.Fatal("daily loss pause survived the day rollover")
	}
}
