// Package ingest holds the three producers feeding the hub and the
// store: the spot tick aggregator, the futures order-flow pipeline and
// the TA indicator poller.
package ingest

import (
	"context"
	"sync"
	"time"

	"fx-scalper-bot/internal/broker"
	"fx-scalper-bot/internal/database"
	"fx-scalper-bot/internal/events"
	"fx-scalper-bot/internal/hub"
	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
	"fx-scalper-bot/internal/metrics"
)

// CandleStore persists finalized candles. Repository satisfies it.
type CandleStore interface {
	UpsertCandle(ctx context.Context, c market.Candle) error
}

type minuteBucket struct {
	openTime time.Time
	open     float64
	high     float64
	low      float64
	close    float64
	volume   float64
}

// SpotIngestor aggregates the broker tick stream into one-minute candles
// and publishes both ticks and candles to the hub. Raw ticks go to the
// batch writer; finalized candles are upserted once, directly.
type SpotIngestor struct {
	hub    hub.Store
	store  CandleStore
	writer *database.BatchWriter
	stream *broker.TickStream
	bus    *events.Bus
	log    *logging.Logger

	mu       sync.Mutex
	buckets  map[string]*minuteBucket
	lastTick map[string]time.Time
}

// NewSpotIngestor creates the spot tick pipeline.
func NewSpotIngestor(h hub.Store, store CandleStore, writer *database.BatchWriter, stream *broker.TickStream, bus *events.Bus) *SpotIngestor {
	ing := &SpotIngestor{
		hub:      h,
		store:    store,
		writer:   writer,
		stream:   stream,
		bus:      bus,
		log:      logging.WithComponent("spot_ingestor"),
		buckets:  make(map[string]*minuteBucket),
		lastTick: make(map[string]time.Time),
	}
	if stream != nil {
		stream.SetTickCallback(ing.HandleTick)
	}
	return ing
}

// Run connects the stream and the gap detector; blocks until ctx ends.
func (ing *SpotIngestor) Run(ctx context.Context) {
	go ing.gapDetector(ctx)
	ing.stream.Run(ctx)
}

// HandleTick processes one tick: raw publish, persistence, aggregation.
func (ing *SpotIngestor) HandleTick(t market.Tick) {
	if t.Bid <= 0 || t.Ask <= 0 {
		metrics.TicksDropped.WithLabelValues(t.Instrument, "bad_quote").Inc()
		return
	}

	ing.hub.UpdateTick(t)
	if ing.writer != nil {
		ing.writer.EnqueueTick(t)
	}
	metrics.TicksIngested.WithLabelValues(t.Instrument).Inc()

	minute := t.Time.UTC().Truncate(time.Minute)
	mid := t.Mid()

	ing.mu.Lock()
	ing.lastTick[t.Instrument] = time.Now()
	b := ing.buckets[t.Instrument]

	switch {
	case b == nil || minute.After(b.openTime):
		var finalized *market.Candle
		if b != nil {
			c := b.candle(t.Instrument, true)
			finalized = &c
		}
		ing.buckets[t.Instrument] = &minuteBucket{
			openTime: minute,
			open:     mid, high: mid, low: mid, close: mid,
			volume: 1,
		}
		forming := ing.buckets[t.Instrument].candle(t.Instrument, false)
		ing.mu.Unlock()

		if finalized != nil {
			ing.finalize(*finalized)
		}
		ing.hub.UpdateCandle(forming)

	case minute.Equal(b.openTime):
		if mid > b.high {
			b.high = mid
		}
		if mid < b.low {
			b.low = mid
		}
		b.close = mid
		b.volume++
		forming := b.candle(t.Instrument, false)
		ing.mu.Unlock()

		ing.hub.UpdateCandle(forming)

	default: // late arrival for an already-finalized minute
		ing.mu.Unlock()
		ing.log.Warn("dropping late tick", "instrument", t.Instrument, "tick_minute", minute)
		metrics.TicksDropped.WithLabelValues(t.Instrument, "late_arrival").Inc()
	}
}

// FlushCurrentBuckets finalizes all in-progress buckets. Shutdown path.
func (ing *SpotIngestor) FlushCurrentBuckets() {
	ing.mu.Lock()
	var pending []market.Candle
	for inst, b := range ing.buckets {
		pending = append(pending, b.candle(inst, true))
		delete(ing.buckets, inst)
	}
	ing.mu.Unlock()

	for _, c := range pending {
		ing.finalize(c)
	}
}

func (ing *SpotIngestor) finalize(c market.Candle) {
	ing.hub.UpdateCandle(c)
	metrics.CandlesFinalized.WithLabelValues(c.Instrument).Inc()

	if ing.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ing.store.UpsertCandle(ctx, c); err != nil {
		ing.log.Error("candle upsert failed", "instrument", c.Instrument,
			"open_time", c.OpenTime, "error", err)
	}
}

// gapDetector warns when an instrument has been silent for over a
// minute. The engine independently rejects on staleness; this is the
// operator-facing signal.
func (ing *SpotIngestor) gapDetector(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	stale := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ing.mu.Lock()
			now := time.Now()
			for inst, last := range ing.lastTick {
				if now.Sub(last) > 60*time.Second {
					if !stale[inst] {
						stale[inst] = true
						ing.log.Warn("feed stale", "instrument", inst, "silent_for", now.Sub(last).String())
						if ing.bus != nil {
							ing.bus.Publish(events.EventFeedStale, map[string]interface{}{"instrument": inst})
						}
					}
				} else if stale[inst] {
					delete(stale, inst)
					ing.log.Info("feed recovered", "instrument", inst)
					if ing.bus != nil {
						ing.bus.Publish(events.EventFeedReconnected, map[string]interface{}{"instrument": inst})
					}
				}
			}
			ing.mu.Unlock()
		}
	}
}

func (b *minuteBucket) candle(instrument string, finalized bool) market.Candle {
	return market.Candle{
		Instrument: instrument,
		Timeframe:  market.Timeframe1m,
		OpenTime:   b.openTime,
		Open:       b.open,
		High:       b.high,
		Low:        b.low,
		Close:      b.close,
		Volume:     b.volume,
		Finalized:  finalized,
	}
}
