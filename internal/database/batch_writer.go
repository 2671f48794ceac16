package database

import (
	"context"
	"sync"
	"time"

	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
	"fx-scalper-bot/internal/metrics"
)

// BatchSink receives flushed row batches. Repository satisfies it.
type BatchSink interface {
	InsertTicks(ctx context.Context, ticks []market.Tick) error
	InsertOrderFlowEvents(ctx context.Context, events []OrderFlowEvent) error
	InsertOrderFlowTrades(ctx context.Context, trades []OrderFlowTrade) error
}

// BatchWriterConfig bounds the writer's buffering behaviour.
type BatchWriterConfig struct {
	FlushInterval time.Duration // default 1s
	MaxRows       int           // flush when any queue reaches this, default 1000
	QueueDepth    int           // per-queue cap; overflow drops oldest, default 10000
}

// DefaultBatchWriterConfig returns the standard flush discipline.
func DefaultBatchWriterConfig() BatchWriterConfig {
	return BatchWriterConfig{
		FlushInterval: time.Second,
		MaxRows:       1000,
		QueueDepth:    10000,
	}
}

// BatchWriter buffers high-rate time-series rows and flushes them on a
// timer or when a queue fills. Enqueue never blocks the producer: when a
// queue overflows during a store outage the oldest rows are dropped and
// counted.
type BatchWriter struct {
	mu       sync.Mutex
	cfg      BatchWriterConfig
	sink     BatchSink
	log      *logging.Logger
	ticks    []market.Tick
	ofEvents []OrderFlowEvent
	ofTrades []OrderFlowTrade
	dropped  map[string]int64
	kick     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewBatchWriter creates a batch writer over the given sink.
func NewBatchWriter(sink BatchSink, cfg BatchWriterConfig) *BatchWriter {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1000
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 10000
	}
	return &BatchWriter{
		cfg:     cfg,
		sink:    sink,
		log:     logging.WithComponent("batch_writer"),
		dropped: make(map[string]int64),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start runs the flush loop until ctx is cancelled, then drains once.
func (w *BatchWriter) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				w.Flush(drainCtx)
				cancel()
				return
			case <-ticker.C:
				w.Flush(ctx)
			case <-w.kick:
				w.Flush(ctx)
			}
		}
	}()
}

// Wait blocks until the flush loop has drained and exited.
func (w *BatchWriter) Wait() {
	<-w.done
}

// EnqueueTick buffers a raw tick row.
func (w *BatchWriter) EnqueueTick(t market.Tick) {
	w.mu.Lock()
	w.ticks = append(w.ticks, t)
	if len(w.ticks) > w.cfg.QueueDepth {
		over := len(w.ticks) - w.cfg.QueueDepth
		w.ticks = w.ticks[over:]
		w.countDrop("spot_ticks", over)
	}
	full := len(w.ticks) >= w.cfg.MaxRows
	w.mu.Unlock()
	if full {
		w.requestFlush()
	}
}

// EnqueueOrderFlowEvent buffers a raw book event row.
func (w *BatchWriter) EnqueueOrderFlowEvent(e OrderFlowEvent) {
	w.mu.Lock()
	w.ofEvents = append(w.ofEvents, e)
	if len(w.ofEvents) > w.cfg.QueueDepth {
		over := len(w.ofEvents) - w.cfg.QueueDepth
		w.ofEvents = w.ofEvents[over:]
		w.countDrop("order_flow_events", over)
	}
	full := len(w.ofEvents) >= w.cfg.MaxRows
	w.mu.Unlock()
	if full {
		w.requestFlush()
	}
}

// EnqueueOrderFlowTrade buffers an aggressor trade row.
func (w *BatchWriter) EnqueueOrderFlowTrade(t OrderFlowTrade) {
	w.mu.Lock()
	w.ofTrades = append(w.ofTrades, t)
	if len(w.ofTrades) > w.cfg.QueueDepth {
		over := len(w.ofTrades) - w.cfg.QueueDepth
		w.ofTrades = w.ofTrades[over:]
		w.countDrop("order_flow_trades", over)
	}
	full := len(w.ofTrades) >= w.cfg.MaxRows
	w.mu.Unlock()
	if full {
		w.requestFlush()
	}
}

// Backlog returns the number of rows currently queued across all tables.
func (w *BatchWriter) Backlog() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ticks) + len(w.ofEvents) + len(w.ofTrades)
}

// DroppedRows returns the cumulative drop count per table.
func (w *BatchWriter) DroppedRows() map[string]int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int64, len(w.dropped))
	for k, v := range w.dropped {
		out[k] = v
	}
	return out
}

// Flush writes everything currently queued. On sink failure rows are
// requeued at the front so a transient outage loses nothing until the
// queue depth forces drops.
func (w *BatchWriter) Flush(ctx context.Context) {
	w.mu.Lock()
	ticks := w.ticks
	ofEvents := w.ofEvents
	ofTrades := w.ofTrades
	w.ticks = nil
	w.ofEvents = nil
	w.ofTrades = nil
	w.mu.Unlock()

	if len(ticks) > 0 {
		if err := w.sink.InsertTicks(ctx, ticks); err != nil {
			w.log.Error("tick batch flush failed", "rows", len(ticks), "error", err)
			w.requeueTicks(ticks)
		}
	}
	if len(ofEvents) > 0 {
		if err := w.sink.InsertOrderFlowEvents(ctx, ofEvents); err != nil {
			w.log.Error("order flow event batch flush failed", "rows", len(ofEvents), "error", err)
			w.requeueOFEvents(ofEvents)
		}
	}
	if len(ofTrades) > 0 {
		if err := w.sink.InsertOrderFlowTrades(ctx, ofTrades); err != nil {
			w.log.Error("order flow trade batch flush failed", "rows", len(ofTrades), "error", err)
			w.requeueOFTrades(ofTrades)
		}
	}
}

func (w *BatchWriter) requeueTicks(rows []market.Tick) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ticks = append(rows, w.ticks...)
	if len(w.ticks) > w.cfg.QueueDepth {
		over := len(w.ticks) - w.cfg.QueueDepth
		w.ticks = w.ticks[over:]
		w.countDrop("spot_ticks", over)
	}
}

func (w *BatchWriter) requeueOFEvents(rows []OrderFlowEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ofEvents = append(rows, w.ofEvents...)
	if len(w.ofEvents) > w.cfg.QueueDepth {
		over := len(w.ofEvents) - w.cfg.QueueDepth
		w.ofEvents = w.ofEvents[over:]
		w.countDrop("order_flow_events", over)
	}
}

func (w *BatchWriter) requeueOFTrades(rows []OrderFlowTrade) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ofTrades = append(rows, w.ofTrades...)
	if len(w.ofTrades) > w.cfg.QueueDepth {
		over := len(w.ofTrades) - w.cfg.QueueDepth
		w.ofTrades = w.ofTrades[over:]
		w.countDrop("order_flow_trades", over)
	}
}

func (w *BatchWriter) countDrop(table string, n int) {
	w.dropped[table] += int64(n)
	metrics.BatchDrops.WithLabelValues(table).Add(float64(n))
}

func (w *BatchWriter) requestFlush() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}
