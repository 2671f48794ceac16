// Package broker defines the external trading-venue contracts: a REST
// driver for sessions, candles and orders, plus streaming clients for
// spot ticks and futures order flow.
package broker

import (
	"context"
	"errors"
	"time"

	"fx-scalper-bot/internal/market"
)

// Order submission failures are classified so the engine can decide
// between retrying, recording a terminal rejection, or halting.
var (
	ErrRetryable   = errors.New("broker: transient failure")
	ErrRejected    = errors.New("broker: order rejected")
	ErrAuthInvalid = errors.New("broker: session invalid")
)

// Position is an open position as reported by the broker.
type Position struct {
	DealRef    string  `json:"deal_ref"`
	Instrument string  `json:"instrument"`
	Direction  string  `json:"direction"`
	SizeLots   float64 `json:"size_lots"`
	OpenLevel  float64 `json:"open_level"`
}

// AccountSnapshot is the broker's view of the account.
type AccountSnapshot struct {
	Equity          float64 `json:"equity"`
	Balance         float64 `json:"balance"`
	MarginAvailable float64 `json:"margin_available"`
}

// MarketOrder is a sized market order request. TradeID is the caller's
// idempotency key: resubmitting the same TradeID must not open a second
// position.
type MarketOrder struct {
	TradeID        string
	Instrument     string
	Direction      string
	SizeLots       float64
	SLDistancePips float64
	TPDistancePips float64
}

// Driver is the broker REST contract.
type Driver interface {
	OpenSession(ctx context.Context) error
	RefreshSessionIfExpired(ctx context.Context) error
	FetchCandles(ctx context.Context, instrument, timeframe string, count int) ([]market.Candle, error)
	FetchOpenPositions(ctx context.Context) ([]Position, error)
	PlaceMarketOrder(ctx context.Context, order MarketOrder) (dealRef string, err error)
	ClosePosition(ctx context.Context, dealRef string) error
	AccountSnapshot(ctx context.Context) (AccountSnapshot, error)
}

// TickHandler receives each parsed tick from the spot stream.
type TickHandler func(market.Tick)

// FlowEvent is one futures market-by-price or trade message.
type FlowEvent struct {
	Symbol         string    `json:"symbol"`
	Time           time.Time `json:"time"`
	Kind           string    `json:"kind"` // "trade" or "book"
	Side           string    `json:"side"` // aggressor for trades
	Price          float64   `json:"price"`
	Size           float64   `json:"size"`
	LevelsConsumed int       `json:"levels_consumed"`
}

// FlowHandler receives each parsed futures order-flow event.
type FlowHandler func(FlowEvent)
