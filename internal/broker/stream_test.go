package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fx-scalper-bot/internal/market"
)

// wsBroker upgrades each connection, waits for the subscribe frame and
// then sends one tick per connection.
type wsBroker struct {
	upgrader websocket.Upgrader
	conns    atomic.Int64
}

func (b *wsBroker) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns.Add(1)
		defer conn.Close()

		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		tick := tickMessage{Instrument: "EUR_USD", Time: time.Now().UnixMilli(), Bid: 1.085, Ask: 1.0851}
		if err := conn.WriteJSON(tick); err != nil {
			return
		}
		// Hold the connection open so the client does not reconnect.
		conn.ReadMessage()
	}
}

func newTestTickStream(t *testing.T) (*TickStream, *wsBroker, func()) {
	t.Helper()
	b := &wsBroker{}
	srv := httptest.NewServer(b.handler(t))
	cfg := StreamConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ConnectTimeout: time.Second,
		IdleTimeout:    5 * time.Second,
		BackoffInitial: 10 * time.Millisecond,
		BackoffCap:     50 * time.Millisecond,
	}
	return NewTickStream(cfg, []string{"EUR_USD"}), b, srv.Close
}

func TestTickStreamDeliversTicks(t *testing.T) {
	ts, b, done := newTestTickStream(t)
	defer done()

	got := make(chan market.Tick, 4)
	ts.SetTickCallback(func(tk market.Tick) { got <- tk })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ts.Run(ctx)

	select {
	case tk := <-got:
		if tk.Instrument != "EUR_USD" || tk.Bid != 1.085 {
			t.Fatalf("tick = %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick delivered")
	}
	if n := b.conns.Load(); n != 1 {
		t.Errorf("broker connections = %d, want 1", n)
	}
}

func TestDuplicateRunIsNoOp(t *testing.T) {
	ts, b, done := newTestTickStream(t)
	defer done()

	var invocations atomic.Int64
	ts.SetTickCallback(func(market.Tick) { invocations.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ts.Run(ctx)

	// Wait for the first loop to connect and deliver.
	deadline := time.Now().Add(2 * time.Second)
	for invocations.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if invocations.Load() == 0 {
		t.Fatal("first run loop never delivered a tick")
	}

	// A second run loop on the same stream must refuse to dial.
	returned := make(chan struct{})
	go func() {
		ts.Run(ctx)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("duplicate run did not return immediately")
	}

	if n := b.conns.Load(); n != 1 {
		t.Errorf("broker connections = %d, want 1", n)
	}
	if n := invocations.Load(); n != 1 {
		t.Errorf("handler invocations = %d, want 1", n)
	}
}
