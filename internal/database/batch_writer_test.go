package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fx-scalper-bot/internal/market"
)

type fakeSink struct {
	mu       sync.Mutex
	ticks    [][]market.Tick
	ofEvents [][]OrderFlowEvent
	ofTrades [][]OrderFlowTrade
	fail     bool
}

func (s *fakeSink) InsertTicks(ctx context.Context, ticks []market.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	s.ticks = append(s.ticks, ticks)
	return nil
}

func (s *fakeSink) InsertOrderFlowEvents(ctx context.Context, events []OrderFlowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	s.ofEvents = append(s.ofEvents, events)
	return nil
}

func (s *fakeSink) InsertOrderFlowTrades(ctx context.Context, trades []OrderFlowTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	s.ofTrades = append(s.ofTrades, trades)
	return nil
}

func (s *fakeSink) tickBatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

func tickAt(i int) market.Tick {
	return market.Tick{
		Instrument: "EUR_USD",
		Time:       time.Date(2025, 3, 7, 10, 0, i, 0, time.UTC),
		Bid:        1.0850,
		Ask:        1.0851,
	}
}

func TestBatchWriterFlushOnDemand(t *testing.T) {
	sink := &fakeSink{}
	w := NewBatchWriter(sink, DefaultBatchWriterConfig())

	for i := 0; i < 5; i++ {
		w.EnqueueTick(tickAt(i))
	}
	if got := w.Backlog(); got != 5 {
		t.Fatalf("backlog = %d, want 5", got)
	}

	w.Flush(context.Background())

	if got := w.Backlog(); got != 0 {
		t.Errorf("backlog after flush = %d, want 0", got)
	}
	if sink.tickBatches() != 1 || len(sink.ticks[0]) != 5 {
		t.Errorf("sink received %d batches, want 1 batch of 5", sink.tickBatches())
	}
}

func TestBatchWriterRequeuesOnFailure(t *testing.T) {
	sink := &fakeSink{fail: true}
	w := NewBatchWriter(sink, DefaultBatchWriterConfig())

	w.EnqueueTick(tickAt(0))
	w.Flush(context.Background())

	if got := w.Backlog(); got != 1 {
		t.Fatalf("backlog after failed flush = %d, want 1 (requeued)", got)
	}

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()

	w.Flush(context.Background())
	if got := w.Backlog(); got != 0 {
		t.Errorf("backlog after recovery = %d, want 0", got)
	}
}

func TestBatchWriterDropsOldestOnOverflow(t *testing.T) {
	sink := &fakeSink{fail: true}
	w := NewBatchWriter(sink, BatchWriterConfig{
		FlushInterval: time.Hour,
		MaxRows:       1000,
		QueueDepth:    10,
	})

	for i := 0; i < 25; i++ {
		w.EnqueueTick(tickAt(i))
	}

	if got := w.Backlog(); got != 10 {
		t.Errorf("backlog = %d, want capped at 10", got)
	}
	if got := w.DroppedRows()["spot_ticks"]; got != 15 {
		t.Errorf("dropped = %d, want 15", got)
	}

	// Newest rows survive.
	w.mu.Lock()
	first := w.ticks[0]
	w.mu.Unlock()
	if first.Time.Second() != 15 {
		t.Errorf("oldest surviving tick second = %d, want 15", first.Time.Second())
	}
}

func TestBatchWriterFlushLoop(t *testing.T) {
	sink := &fakeSink{}
	w := NewBatchWriter(sink, BatchWriterConfig{
		FlushInterval: 10 * time.Millisecond,
		MaxRows:       1000,
		QueueDepth:    100,
	})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	w.EnqueueTick(tickAt(0))
	w.EnqueueOrderFlowTrade(OrderFlowTrade{Symbol: "6E", Time: time.Now(), Aggressor: "buy", Price: 1.085, Size: 2})

	deadline := time.After(time.Second)
	for w.Backlog() != 0 {
		select {
		case <-deadline:
			t.Fatal("flush loop never drained the queue")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	w.Wait()
}
