package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"fx-scalper-bot/internal/market"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// INSTRUMENTS
// ============================================================================

// UpsertInstrument stores instrument metadata fetched at startup.
func (r *Repository) UpsertInstrument(ctx context.Context, inst market.Instrument) error {
	query := `
		INSERT INTO instruments (id, base, quote, pip_size, decimal_factor)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET pip_size = EXCLUDED.pip_size, decimal_factor = EXCLUDED.decimal_factor
	`
	_, err := r.db.Pool.Exec(ctx, query, inst.ID, inst.Base, inst.Quote, inst.PipSize, inst.DecimalFactor)
	return err
}

// ============================================================================
// CANDLES
// ============================================================================

// UpsertCandle writes a candle idempotently. A finalized candle overwrites
// any in-progress row for the same (instrument, timeframe, open_time).
func (r *Repository) UpsertCandle(ctx context.Context, c market.Candle) error {
	query := `
		INSERT INTO candles (instrument, timeframe, open_time, open, high, low, close, volume, finalized)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (instrument, timeframe, open_time) DO UPDATE
		SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
		    close = EXCLUDED.close, volume = EXCLUDED.volume, finalized = EXCLUDED.finalized
	`
	_, err := r.db.Pool.Exec(ctx, query,
		c.Instrument, c.Timeframe, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.Finalized)
	return err
}

// FetchLastCandles returns the most recent finalized candles in ascending
// open_time order. Warm-start and fetcher-fallback read path.
func (r *Repository) FetchLastCandles(ctx context.Context, instrument, timeframe string, limit int) ([]market.Candle, error) {
	query := `
		SELECT instrument, timeframe, open_time, open, high, low, close, volume, finalized
		FROM (
			SELECT instrument, timeframe, open_time, open, high, low, close, volume, finalized
			FROM candles
			WHERE instrument = $1 AND timeframe = $2 AND finalized = TRUE
			ORDER BY open_time DESC
			LIMIT $3
		) latest
		ORDER BY open_time ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, instrument, timeframe, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.Instrument, &c.Timeframe, &c.OpenTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Finalized); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ============================================================================
// BATCHED TIME-SERIES WRITES
// ============================================================================

// InsertTicks appends a batch of raw ticks.
func (r *Repository) InsertTicks(ctx context.Context, ticks []market.Tick) error {
	batch := &pgx.Batch{}
	for _, t := range ticks {
		batch.Queue(
			`INSERT INTO spot_ticks (instrument, event_time, bid, ask) VALUES ($1, $2, $3, $4)`,
			t.Instrument, t.Time, t.Bid, t.Ask)
	}
	return r.sendBatch(ctx, batch)
}

// OrderFlowEvent is a raw book update from the futures feed.
type OrderFlowEvent struct {
	Symbol         string
	Time           time.Time
	Side           string
	Price          float64
	Size           float64
	LevelsConsumed int
}

// OrderFlowTrade is a single aggressor trade from the futures feed.
type OrderFlowTrade struct {
	Symbol    string
	Time      time.Time
	Aggressor string
	Price     float64
	Size      float64
}

// InsertOrderFlowEvents appends a batch of raw book events.
func (r *Repository) InsertOrderFlowEvents(ctx context.Context, events []OrderFlowEvent) error {
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(
			`INSERT INTO order_flow_events (symbol, event_time, side, price, size, levels_consumed)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.Symbol, e.Time, e.Side, e.Price, e.Size, e.LevelsConsumed)
	}
	return r.sendBatch(ctx, batch)
}

// InsertOrderFlowTrades appends a batch of aggressor trades.
func (r *Repository) InsertOrderFlowTrades(ctx context.Context, trades []OrderFlowTrade) error {
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(
			`INSERT INTO order_flow_trades (symbol, event_time, aggressor, price, size)
			 VALUES ($1, $2, $3, $4, $5)`,
			t.Symbol, t.Time, t.Aggressor, t.Price, t.Size)
	}
	return r.sendBatch(ctx, batch)
}

func (r *Repository) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// SNAPSHOTS
// ============================================================================

// InsertOrderFlowSnapshot persists one computed order-flow window.
func (r *Repository) InsertOrderFlowSnapshot(ctx context.Context, m market.OrderFlowMetrics) error {
	query := `
		INSERT INTO order_flow_snapshots
			(instrument, compute_time, ofi_60s, volume_delta, buy_volume, sell_volume, vwap, sweep_flag, vpin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		m.Instrument, m.ComputeTime, m.OFI60s, m.VolumeDelta,
		m.BuyVolume, m.SellVolume, m.VWAP, m.SweepFlag, m.VPIN)
	return err
}

// InsertTASnapshot persists one TA consensus snapshot.
func (r *Repository) InsertTASnapshot(ctx context.Context, s market.TAIndicatorSnapshot) error {
	query := `
		INSERT INTO ta_snapshots
			(instrument, compute_time, buy_count, sell_count, neutral_count, consensus, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		s.Instrument, s.ComputeTime, s.BuyCount, s.SellCount, s.NeutralCount, s.Consensus, s.Confidence)
	return err
}

// FetchLatestTASnapshot returns the newest TA snapshot for an instrument.
func (r *Repository) FetchLatestTASnapshot(ctx context.Context, instrument string) (*market.TAIndicatorSnapshot, error) {
	query := `
		SELECT instrument, compute_time, buy_count, sell_count, neutral_count, consensus, confidence
		FROM ta_snapshots
		WHERE instrument = $1
		ORDER BY compute_time DESC
		LIMIT 1
	`
	var s market.TAIndicatorSnapshot
	err := r.db.Pool.QueryRow(ctx, query, instrument).Scan(
		&s.Instrument, &s.ComputeTime, &s.BuyCount, &s.SellCount,
		&s.NeutralCount, &s.Consensus, &s.Confidence)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ============================================================================
// ECONOMIC EVENTS & GATING
// ============================================================================

// UpsertEconomicEvent stores a calendar event keyed by provider event id.
func (r *Repository) UpsertEconomicEvent(ctx context.Context, e market.EconomicEvent) error {
	query := `
		INSERT INTO economic_events (event_id, scheduled_time, country, currency, importance, event_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO UPDATE
		SET scheduled_time = EXCLUDED.scheduled_time, importance = EXCLUDED.importance
	`
	_, err := r.db.Pool.Exec(ctx, query,
		e.EventID, e.ScheduledTime, e.Country, e.Currency, e.Importance, e.EventName)
	return err
}

// FetchUpcomingHighImpactEvents returns high-impact events scheduled in the
// given range, soonest first.
func (r *Repository) FetchUpcomingHighImpactEvents(ctx context.Context, from, to time.Time) ([]market.EconomicEvent, error) {
	query := `
		SELECT event_id, scheduled_time, country, currency, importance, event_name
		FROM economic_events
		WHERE importance = $1 AND scheduled_time BETWEEN $2 AND $3
		ORDER BY scheduled_time ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, market.ImportanceHigh, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []market.EconomicEvent
	for rows.Next() {
		var e market.EconomicEvent
		if err := rows.Scan(&e.EventID, &e.ScheduledTime, &e.Country,
			&e.Currency, &e.Importance, &e.EventName); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecordGatingTransition appends a gating window state transition.
func (r *Repository) RecordGatingTransition(ctx context.Context, w market.GatingWindow) error {
	query := `
		INSERT INTO gating_states (instrument, state, window_start, window_end, reason, linked_event_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		w.Instrument, w.State, w.WindowStart, w.WindowEnd, w.Reason, w.LinkedEventID)
	return err
}

// ============================================================================
// SIGNALS, CYCLES & AGENT DECISIONS
// ============================================================================

// InsertSignal persists an approved decision cycle outcome.
func (r *Repository) InsertSignal(ctx context.Context, s market.Signal) error {
	query := `
		INSERT INTO signals
			(cycle_id, instrument, generated_at, direction, entry_price, take_profit, stop_loss,
			 confidence, pattern, pattern_score, tier, size_lots, reason, agent_trace)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (cycle_id) DO NOTHING
	`
	var trace interface{}
	if s.AgentTrace != "" {
		trace = s.AgentTrace
	}
	_, err := r.db.Pool.Exec(ctx, query,
		s.CycleID, s.Instrument, s.GeneratedAt, s.Direction, s.EntryPrice, s.TakeProfit, s.StopLoss,
		s.Confidence, s.Pattern, s.PatternScore, s.Tier, s.SizeLots, s.Reason, trace)
	return err
}

// InsertRejectedCycle records a cycle that produced no signal. Every cycle
// writes exactly one of signals or rejected_cycles.
func (r *Repository) InsertRejectedCycle(ctx context.Context, cycleID, instrument, reason, detail string, at time.Time) error {
	query := `
		INSERT INTO rejected_cycles (cycle_id, instrument, rejected_at, reason, detail)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cycle_id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query, cycleID, instrument, at, reason, detail)
	return err
}

// InsertAgentDecision records one agent's raw output for a cycle.
func (r *Repository) InsertAgentDecision(ctx context.Context, cycleID, instrument, agent string, decidedAt time.Time, outputJSON string) error {
	query := `
		INSERT INTO agent_decisions (cycle_id, instrument, agent, decided_at, output)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Pool.Exec(ctx, query, cycleID, instrument, agent, decidedAt, outputJSON)
	return err
}

// ============================================================================
// CLOSED TRADES
// ============================================================================

// InsertClosedTrade persists the terminal record of a position.
func (r *Repository) InsertClosedTrade(ctx context.Context, t market.ClosedTrade) error {
	query := `
		INSERT INTO closed_trades
			(trade_id, instrument, direction, size_lots, entry_time, entry_price,
			 exit_time, exit_price, take_profit, stop_loss, pnl_pips, pnl_cash, exit_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (trade_id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query,
		t.TradeID, t.Instrument, t.Direction, t.SizeLots, t.EntryTime, t.EntryPrice,
		t.ExitTime, t.ExitPrice, t.TakeProfit, t.StopLoss, t.PnLPips, t.PnLCash, t.ExitReason)
	return err
}

// FetchClosedTradesSince returns trades closed at or after the given time,
// oldest first. Daily stats rebuild on restart reads from here.
func (r *Repository) FetchClosedTradesSince(ctx context.Context, since time.Time) ([]market.ClosedTrade, error) {
	query := `
		SELECT trade_id, instrument, direction, size_lots, entry_time, entry_price,
		       exit_time, exit_price, take_profit, stop_loss, pnl_pips, pnl_cash, exit_reason
		FROM closed_trades
		WHERE exit_time >= $1
		ORDER BY exit_time ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []market.ClosedTrade
	for rows.Next() {
		var t market.ClosedTrade
		if err := rows.Scan(&t.TradeID, &t.Instrument, &t.Direction, &t.SizeLots,
			&t.EntryTime, &t.EntryPrice, &t.ExitTime, &t.ExitPrice,
			&t.TakeProfit, &t.StopLoss, &t.PnLPips, &t.PnLCash, &t.ExitReason); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
