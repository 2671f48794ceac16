// Package metrics registers the Prometheus instruments updated by the
// ingestion pipelines and the decision engine. Served at /metrics on the
// control API in text exposition format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TicksIngested counts raw ticks accepted per instrument.
	TicksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_ticks_ingested_total",
			Help: "Raw ticks accepted from the broker stream",
		},
		[]string{"instrument"},
	)

	// CandlesFinalized counts finalized 1m candles per instrument.
	CandlesFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_candles_finalized_total",
			Help: "Finalized one-minute candles",
		},
		[]string{"instrument"},
	)

	// TicksDropped counts ticks discarded as late arrivals or parse failures.
	TicksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_ticks_dropped_total",
			Help: "Ticks dropped, split by reason",
		},
		[]string{"instrument", "reason"},
	)

	// FlowEvents counts order-flow events processed per futures symbol.
	FlowEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_orderflow_events_total",
			Help: "Futures order-flow events processed",
		},
		[]string{"symbol"},
	)

	// Cycles counts decision cycles by outcome (signal, rejected, error).
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_decision_cycles_total",
			Help: "Decision cycles by outcome",
		},
		[]string{"instrument", "outcome"},
	)

	// CycleRejections counts rejections by structured reason code.
	CycleRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_cycle_rejections_total",
			Help: "Cycle rejections split by reason code",
		},
		[]string{"reason"},
	)

	// CycleDuration observes wall-clock time per decision cycle.
	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fx_cycle_duration_seconds",
			Help:    "Decision cycle wall-clock duration",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"instrument"},
	)

	// LLMCalls counts LLM completions by agent role and result.
	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_llm_calls_total",
			Help: "LLM completions by agent and result",
		},
		[]string{"agent", "result"},
	)

	// OpenTrades gauges currently open positions.
	OpenTrades = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fx_open_trades",
			Help: "Currently open positions",
		},
	)

	// TradeCloses counts closed trades by exit reason.
	TradeCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_trade_closes_total",
			Help: "Closed trades split by exit reason",
		},
		[]string{"reason"},
	)

	// BatchDrops counts rows the batch writer discarded under backpressure.
	BatchDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_batch_rows_dropped_total",
			Help: "Rows dropped by the batch writer when the queue overflowed",
		},
		[]string{"table"},
	)

	// StreamReconnects counts stream reconnect attempts per feed.
	StreamReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_stream_reconnects_total",
			Help: "Stream reconnects per feed",
		},
		[]string{"feed"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksIngested,
		CandlesFinalized,
		TicksDropped,
		FlowEvents,
		Cycles,
		CycleRejections,
		CycleDuration,
		LLMCalls,
		OpenTrades,
		TradeCloses,
		BatchDrops,
		StreamReconnects,
	)
}
