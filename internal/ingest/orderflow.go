package ingest

import (
	"context"
	"sync"
	"time"

	"fx-scalper-bot/internal/broker"
	"fx-scalper-bot/internal/database"
	"fx-scalper-bot/internal/hub"
	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
	"fx-scalper-bot/internal/metrics"
)

// SnapshotStore persists computed order-flow windows.
type SnapshotStore interface {
	InsertOrderFlowSnapshot(ctx context.Context, m market.OrderFlowMetrics) error
}

// OrderFlowConfig tunes the rolling window and derived metrics.
type OrderFlowConfig struct {
	Window        time.Duration // default 60s
	ComputeEvery  time.Duration // default 1s
	SweepLevels   int           // book levels one trade must consume, default 3
	VPINBuckets   int
	VPINBucketVol float64
}

type windowTrade struct {
	at     time.Time
	side   string
	price  float64
	size   float64
	levels int
}

type flowWindow struct {
	trades []windowTrade
	vpin   *vpinEstimator
}

// OrderFlowIngestor consumes the futures MBP/trade stream, keeps a 60 s
// rolling trade window per symbol and publishes derived metrics onto the
// spot instrument each second.
type OrderFlowIngestor struct {
	cfg       OrderFlowConfig
	hub       hub.Store
	store     SnapshotStore
	writer    *database.BatchWriter
	stream    *broker.FlowStream
	log       *logging.Logger
	spotBySym map[string]string // futures symbol -> spot instrument

	mu      sync.Mutex
	windows map[string]*flowWindow
	nowFn   func() time.Time
}

// NewOrderFlowIngestor creates the order-flow pipeline. symbolMap maps
// spot instruments to futures symbols (the static mapping from config).
func NewOrderFlowIngestor(cfg OrderFlowConfig, h hub.Store, store SnapshotStore, writer *database.BatchWriter, stream *broker.FlowStream, symbolMap map[string]string) *OrderFlowIngestor {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.ComputeEvery <= 0 {
		cfg.ComputeEvery = time.Second
	}
	if cfg.SweepLevels <= 0 {
		cfg.SweepLevels = 3
	}

	spotBySym := make(map[string]string, len(symbolMap))
	for spot, sym := range symbolMap {
		spotBySym[sym] = spot
	}

	ing := &OrderFlowIngestor{
		cfg:       cfg,
		hub:       h,
		store:     store,
		writer:    writer,
		stream:    stream,
		log:       logging.WithComponent("orderflow_ingestor"),
		spotBySym: spotBySym,
		windows:   make(map[string]*flowWindow),
		nowFn:     time.Now,
	}
	if stream != nil {
		stream.SetEventCallback(ing.HandleEvent)
	}
	return ing
}

// Run connects the stream and the compute ticker; blocks until ctx ends.
func (ing *OrderFlowIngestor) Run(ctx context.Context) {
	go ing.computeLoop(ctx)
	ing.stream.Run(ctx)
}

// HandleEvent ingests one raw futures event.
func (ing *OrderFlowIngestor) HandleEvent(e broker.FlowEvent) {
	instrument, ok := ing.spotBySym[e.Symbol]
	if !ok {
		return
	}
	metrics.FlowEvents.WithLabelValues(e.Symbol).Inc()

	if ing.writer != nil {
		if e.Kind == "trade" {
			ing.writer.EnqueueOrderFlowTrade(database.OrderFlowTrade{
				Symbol: e.Symbol, Time: e.Time, Aggressor: e.Side, Price: e.Price, Size: e.Size,
			})
		} else {
			ing.writer.EnqueueOrderFlowEvent(database.OrderFlowEvent{
				Symbol: e.Symbol, Time: e.Time, Side: e.Side, Price: e.Price,
				Size: e.Size, LevelsConsumed: e.LevelsConsumed,
			})
		}
	}

	if e.Kind != "trade" {
		return
	}

	ing.mu.Lock()
	defer ing.mu.Unlock()
	w := ing.windows[instrument]
	if w == nil {
		w = &flowWindow{vpin: newVPINEstimator(ing.cfg.VPINBucketVol, ing.cfg.VPINBuckets)}
		ing.windows[instrument] = w
	}
	w.trades = append(w.trades, windowTrade{
		at: e.Time, side: e.Side, price: e.Price, size: e.Size, levels: e.LevelsConsumed,
	})
	w.vpin.AddTrade(e.Side, e.Size)
}

func (ing *OrderFlowIngestor) computeLoop(ctx context.Context) {
	ticker := time.NewTicker(ing.cfg.ComputeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ing.computeAll(ctx)
		}
	}
}

func (ing *OrderFlowIngestor) computeAll(ctx context.Context) {
	now := ing.nowFn()

	ing.mu.Lock()
	snapshots := make([]market.OrderFlowMetrics, 0, len(ing.windows))
	for instrument, w := range ing.windows {
		w.evict(now.Add(-ing.cfg.Window))
		if len(w.trades) == 0 {
			continue
		}
		snapshots = append(snapshots, ing.compute(instrument, w, now))
	}
	ing.mu.Unlock()

	for _, snap := range snapshots {
		ing.hub.UpdateOrderFlow(snap)
		if ing.store != nil {
			if err := ing.store.InsertOrderFlowSnapshot(ctx, snap); err != nil {
				ing.log.Error("snapshot persist failed", "instrument", snap.Instrument, "error", err)
			}
		}
	}
}

// compute derives the metric set from the current window. Caller holds
// the lock.
func (ing *OrderFlowIngestor) compute(instrument string, w *flowWindow, now time.Time) market.OrderFlowMetrics {
	var buyVol, sellVol, notional, totalVol float64
	sweep := false
	sweepCutoff := now.Add(-time.Second)

	for _, t := range w.trades {
		if t.side == "buy" {
			buyVol += t.size
		} else {
			sellVol += t.size
		}
		notional += t.price * t.size
		totalVol += t.size
		if t.levels >= ing.cfg.SweepLevels && t.at.After(sweepCutoff) {
			sweep = true
		}
	}

	var vwap, ofi float64
	if totalVol > 0 {
		vwap = notional / totalVol
		ofi = (buyVol - sellVol) / totalVol
	}

	return market.OrderFlowMetrics{
		Instrument:  instrument,
		ComputeTime: now,
		OFI60s:      ofi,
		VolumeDelta: buyVol - sellVol,
		BuyVolume:   buyVol,
		SellVolume:  sellVol,
		VWAP:        vwap,
		SweepFlag:   sweep,
		VPIN:        w.vpin.Value(),
	}
}

func (w *flowWindow) evict(cutoff time.Time) {
	i := 0
	for i < len(w.trades) && !w.trades[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.trades = w.trades[i:]
	}
}
