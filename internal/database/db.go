package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fx-scalper-bot/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
	log  *logging.Logger
}

// NewDB creates a new database connection
func NewDB(url string, maxConns int) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logging.WithComponent("database")
	log.Info("connected to PostgreSQL")

	return &DB{Pool: pool, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS instruments (
			id VARCHAR(12) PRIMARY KEY,
			base VARCHAR(3) NOT NULL,
			quote VARCHAR(3) NOT NULL,
			pip_size DECIMAL(10, 6) NOT NULL,
			decimal_factor DECIMAL(12, 2) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS spot_ticks (
			instrument VARCHAR(12) NOT NULL,
			event_time TIMESTAMPTZ NOT NULL,
			bid DECIMAL(12, 6) NOT NULL,
			ask DECIMAL(12, 6) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spot_ticks_inst_time ON spot_ticks(instrument, event_time DESC)`,

		`CREATE TABLE IF NOT EXISTS candles (
			instrument VARCHAR(12) NOT NULL,
			timeframe VARCHAR(5) NOT NULL,
			open_time TIMESTAMPTZ NOT NULL,
			open DECIMAL(12, 6) NOT NULL,
			high DECIMAL(12, 6) NOT NULL,
			low DECIMAL(12, 6) NOT NULL,
			close DECIMAL(12, 6) NOT NULL,
			volume DECIMAL(16, 2) NOT NULL,
			finalized BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (instrument, timeframe, open_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_inst_tf_time ON candles(instrument, timeframe, open_time DESC)`,

		`CREATE TABLE IF NOT EXISTS order_flow_events (
			symbol VARCHAR(12) NOT NULL,
			event_time TIMESTAMPTZ NOT NULL,
			side VARCHAR(4) NOT NULL,
			price DECIMAL(12, 6) NOT NULL,
			size DECIMAL(16, 4) NOT NULL,
			levels_consumed INT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_of_events_sym_time ON order_flow_events(symbol, event_time DESC)`,

		`CREATE TABLE IF NOT EXISTS order_flow_trades (
			symbol VARCHAR(12) NOT NULL,
			event_time TIMESTAMPTZ NOT NULL,
			aggressor VARCHAR(4) NOT NULL,
			price DECIMAL(12, 6) NOT NULL,
			size DECIMAL(16, 4) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_of_trades_sym_time ON order_flow_trades(symbol, event_time DESC)`,

		`CREATE TABLE IF NOT EXISTS order_flow_snapshots (
			instrument VARCHAR(12) NOT NULL,
			compute_time TIMESTAMPTZ NOT NULL,
			ofi_60s DECIMAL(16, 6) NOT NULL,
			volume_delta DECIMAL(16, 4) NOT NULL,
			buy_volume DECIMAL(16, 4) NOT NULL,
			sell_volume DECIMAL(16, 4) NOT NULL,
			vwap DECIMAL(12, 6) NOT NULL,
			sweep_flag BOOLEAN NOT NULL,
			vpin DECIMAL(8, 6) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_of_snapshots_inst_time ON order_flow_snapshots(instrument, compute_time DESC)`,

		`CREATE TABLE IF NOT EXISTS ta_snapshots (
			instrument VARCHAR(12) NOT NULL,
			compute_time TIMESTAMPTZ NOT NULL,
			buy_count INT NOT NULL,
			sell_count INT NOT NULL,
			neutral_count INT NOT NULL,
			consensus VARCHAR(10) NOT NULL,
			confidence DECIMAL(5, 4) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ta_snapshots_inst_time ON ta_snapshots(instrument, compute_time DESC)`,

		`CREATE TABLE IF NOT EXISTS economic_events (
			event_id VARCHAR(64) PRIMARY KEY,
			scheduled_time TIMESTAMPTZ NOT NULL,
			country VARCHAR(32),
			currency VARCHAR(3) NOT NULL,
			importance VARCHAR(5) NOT NULL,
			event_name TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_econ_events_time ON economic_events(scheduled_time DESC)`,

		`CREATE TABLE IF NOT EXISTS gating_states (
			id BIGSERIAL PRIMARY KEY,
			instrument VARCHAR(12) NOT NULL,
			state VARCHAR(10) NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			window_end TIMESTAMPTZ NOT NULL,
			reason TEXT,
			linked_event_id VARCHAR(64),
			recorded_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gating_states_inst ON gating_states(instrument, window_start DESC)`,

		`CREATE TABLE IF NOT EXISTS signals (
			cycle_id VARCHAR(40) PRIMARY KEY,
			instrument VARCHAR(12) NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			direction VARCHAR(5) NOT NULL,
			entry_price DECIMAL(12, 6),
			take_profit DECIMAL(12, 6),
			stop_loss DECIMAL(12, 6),
			confidence DECIMAL(5, 4),
			pattern VARCHAR(20),
			pattern_score DECIMAL(6, 2),
			tier VARCHAR(15) NOT NULL,
			size_lots DECIMAL(8, 2),
			reason TEXT NOT NULL,
			agent_trace JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_inst_time ON signals(instrument, generated_at DESC)`,

		`CREATE TABLE IF NOT EXISTS rejected_cycles (
			cycle_id VARCHAR(40) PRIMARY KEY,
			instrument VARCHAR(12) NOT NULL,
			rejected_at TIMESTAMPTZ NOT NULL,
			reason VARCHAR(40) NOT NULL,
			detail TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rejected_cycles_inst_time ON rejected_cycles(instrument, rejected_at DESC)`,

		`CREATE TABLE IF NOT EXISTS agent_decisions (
			id BIGSERIAL PRIMARY KEY,
			cycle_id VARCHAR(40) NOT NULL,
			instrument VARCHAR(12) NOT NULL,
			agent VARCHAR(30) NOT NULL,
			decided_at TIMESTAMPTZ NOT NULL,
			output JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_decisions_cycle ON agent_decisions(cycle_id)`,

		`CREATE TABLE IF NOT EXISTS closed_trades (
			trade_id VARCHAR(40) PRIMARY KEY,
			instrument VARCHAR(12) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			size_lots DECIMAL(8, 2) NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			entry_price DECIMAL(12, 6) NOT NULL,
			exit_time TIMESTAMPTZ NOT NULL,
			exit_price DECIMAL(12, 6) NOT NULL,
			take_profit DECIMAL(12, 6) NOT NULL,
			stop_loss DECIMAL(12, 6) NOT NULL,
			pnl_pips DECIMAL(10, 2) NOT NULL,
			pnl_cash DECIMAL(16, 2) NOT NULL,
			exit_reason VARCHAR(15) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_closed_trades_inst_time ON closed_trades(instrument, exit_time DESC)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info("database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
