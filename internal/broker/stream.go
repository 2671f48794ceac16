package broker

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
	"fx-scalper-bot/internal/metrics"
)

// StreamConfig holds the shared reconnect discipline for both streams.
type StreamConfig struct {
	URL            string
	ConnectTimeout time.Duration // default 10s
	IdleTimeout    time.Duration // silence before forced reconnect, default 60s
	BackoffInitial time.Duration // default 1s
	BackoffCap     time.Duration // default 60s
}

func (c *StreamConfig) fillDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
}

// stream is the connection core shared by the tick and order-flow
// streams: dial with timeout, jittered exponential backoff, idle
// detection, subscription replay after reconnect.
type stream struct {
	cfg  StreamConfig
	feed string
	log  *logging.Logger

	// subscribe is sent after every (re)connect.
	subscribe func(conn *websocket.Conn) error
	// onMessage handles one raw frame; parse failures are its problem.
	onMessage func(data []byte)
	// refreshAuth is called before redialing after an auth failure.
	refreshAuth func(ctx context.Context) error

	mu         sync.Mutex
	running    bool
	reconnects int
	lastEvent  time.Time
	parseErrs  int64
}

func newStream(cfg StreamConfig, feed string) *stream {
	cfg.fillDefaults()
	return &stream{
		cfg:  cfg,
		feed: feed,
		log:  logging.WithComponent(feed),
	}
}

// run connects and reads until ctx is cancelled, reconnecting on every
// failure with capped exponential backoff and jitter. A second call
// while a run loop is live is a no-op: two loops would double-deliver
// every message.
func (s *stream) run(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("stream already running, ignoring duplicate run")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dial(ctx)
		if err != nil {
			attempt++
			wait := s.backoff(attempt)
			s.log.Warn("connect failed", "attempt", attempt, "retry_in", wait.String(), "error", err)
			metrics.StreamReconnects.WithLabelValues(s.feed).Inc()
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		attempt = 0
		s.mu.Lock()
		s.reconnects++
		s.mu.Unlock()
		s.log.Info("stream connected", "url", s.cfg.URL)

		if s.subscribe != nil {
			if err := s.subscribe(conn); err != nil {
				s.log.Error("subscribe failed", "error", err)
				conn.Close()
				continue
			}
		}

		s.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("connection lost, reconnecting")
		metrics.StreamReconnects.WithLabelValues(s.feed).Inc()

		if s.refreshAuth != nil {
			if err := s.refreshAuth(ctx); err != nil {
				s.log.Error("auth refresh failed", "error", err)
			}
		}
	}
}

func (s *stream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.cfg.URL, nil)
	return conn, err
}

func (s *stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("stream closed by peer")
			}
			return
		}
		s.mu.Lock()
		s.lastEvent = time.Now()
		s.mu.Unlock()
		s.onMessage(message)
	}
}

func (s *stream) backoff(attempt int) time.Duration {
	wait := s.cfg.BackoffInitial << uint(attempt-1)
	if wait > s.cfg.BackoffCap || wait <= 0 {
		wait = s.cfg.BackoffCap
	}
	// Up to 25% jitter so herds of clients do not reconnect in phase.
	jitter := time.Duration(rand.Int63n(int64(wait)/4 + 1))
	return wait + jitter
}

func (s *stream) countParseError() {
	s.mu.Lock()
	s.parseErrs++
	s.mu.Unlock()
}

// Stats reports reconnect and parse-error counters plus last event time.
func (s *stream) Stats() (reconnects int, parseErrs int64, lastEvent time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects, s.parseErrs, s.lastEvent
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ============================================================================
// TICK STREAM
// ============================================================================

type tickMessage struct {
	Instrument string  `json:"instrument"`
	Time       int64   `json:"time"` // unix milliseconds
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
}

type subscribeMessage struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments"`
}

// TickStream subscribes to the broker's spot price stream and delivers
// parsed ticks to the handler.
type TickStream struct {
	*stream
	instruments []string
	onTick      TickHandler
}

// NewTickStream creates a spot tick stream for the given instruments.
func NewTickStream(cfg StreamConfig, instruments []string) *TickStream {
	ts := &TickStream{
		stream:      newStream(cfg, "tick_stream"),
		instruments: instruments,
	}
	ts.stream.subscribe = ts.sendSubscribe
	ts.stream.onMessage = ts.handleMessage
	return ts
}

// SetTickCallback registers the tick handler. Must be set before Run.
func (ts *TickStream) SetTickCallback(cb TickHandler) {
	ts.onTick = cb
}

// SetAuthRefresh registers the session-refresh hook invoked after a
// dropped connection before redialing.
func (ts *TickStream) SetAuthRefresh(fn func(ctx context.Context) error) {
	ts.stream.refreshAuth = fn
}

// Run blocks until ctx is cancelled.
func (ts *TickStream) Run(ctx context.Context) {
	ts.stream.run(ctx)
}

func (ts *TickStream) sendSubscribe(conn *websocket.Conn) error {
	return conn.WriteJSON(subscribeMessage{Type: "subscribe", Instruments: ts.instruments})
}

func (ts *TickStream) handleMessage(data []byte) {
	var msg tickMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Instrument == "" {
		ts.countParseError()
		metrics.TicksDropped.WithLabelValues("unknown", "parse_error").Inc()
		return
	}
	if ts.onTick == nil {
		return
	}
	ts.onTick(market.Tick{
		Instrument: msg.Instrument,
		Time:       time.UnixMilli(msg.Time).UTC(),
		Bid:        msg.Bid,
		Ask:        msg.Ask,
	})
}

// ============================================================================
// ORDER FLOW STREAM
// ============================================================================

type flowMessage struct {
	Symbol         string  `json:"symbol"`
	Time           int64   `json:"time"` // unix milliseconds
	Kind           string  `json:"kind"`
	Side           string  `json:"side"`
	Price          float64 `json:"price"`
	Size           float64 `json:"size"`
	LevelsConsumed int     `json:"levels_consumed"`
}

type flowSubscribeMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// FlowStream subscribes to the futures market-by-price and trade feed
// for the mapped futures symbols.
type FlowStream struct {
	*stream
	symbols []string
	onEvent FlowHandler
}

// NewFlowStream creates a futures order-flow stream.
func NewFlowStream(cfg StreamConfig, symbols []string) *FlowStream {
	fs := &FlowStream{
		stream:  newStream(cfg, "flow_stream"),
		symbols: symbols,
	}
	fs.stream.subscribe = fs.sendSubscribe
	fs.stream.onMessage = fs.handleMessage
	return fs
}

// SetEventCallback registers the event handler. Must be set before Run.
func (fs *FlowStream) SetEventCallback(cb FlowHandler) {
	fs.onEvent = cb
}

// Run blocks until ctx is cancelled.
func (fs *FlowStream) Run(ctx context.Context) {
	fs.stream.run(ctx)
}

func (fs *FlowStream) sendSubscribe(conn *websocket.Conn) error {
	return conn.WriteJSON(flowSubscribeMessage{Type: "subscribe", Symbols: fs.symbols})
}

func (fs *FlowStream) handleMessage(data []byte) {
	var msg flowMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Symbol == "" {
		fs.countParseError()
		return
	}
	if fs.onEvent == nil {
		return
	}
	fs.onEvent(FlowEvent{
		Symbol:         msg.Symbol,
		Time:           time.UnixMilli(msg.Time).UTC(),
		Kind:           msg.Kind,
		Side:           msg.Side,
		Price:          msg.Price,
		Size:           msg.Size,
		LevelsConsumed: msg.LevelsConsumed,
	})
}
