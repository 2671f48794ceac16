package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
)

// RESTDriver is a thin HTTP implementation of Driver. The venue's wire
// details stay here; everything above it sees only the Driver contract.
type RESTDriver struct {
	baseURL   string
	apiKey    string
	accountID string
	http      *http.Client
	log       *logging.Logger

	mu           sync.Mutex
	sessionToken string
	sessionExp   time.Time
}

// NewRESTDriver creates a broker REST driver.
func NewRESTDriver(baseURL, apiKey, accountID string) *RESTDriver {
	return &RESTDriver{
		baseURL:   baseURL,
		apiKey:    apiKey,
		accountID: accountID,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       logging.WithComponent("broker"),
	}
}

type sessionResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// OpenSession authenticates and stores the session token.
func (d *RESTDriver) OpenSession(ctx context.Context) error {
	body := map[string]string{"api_key": d.apiKey, "account_id": d.accountID}
	var resp sessionResponse
	if err := d.do(ctx, http.MethodPost, "/session", body, &resp); err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	d.mu.Lock()
	d.sessionToken = resp.Token
	d.sessionExp = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	d.mu.Unlock()
	d.log.Info("broker session opened")
	return nil
}

// RefreshSessionIfExpired reopens the session when the token is within a
// minute of expiry.
func (d *RESTDriver) RefreshSessionIfExpired(ctx context.Context) error {
	d.mu.Lock()
	fresh := time.Until(d.sessionExp) > time.Minute && d.sessionToken != ""
	d.mu.Unlock()
	if fresh {
		return nil
	}
	return d.OpenSession(ctx)
}

type candleResponse struct {
	Candles []struct {
		OpenTime int64   `json:"open_time"`
		Open     float64 `json:"open"`
		High     float64 `json:"high"`
		Low      float64 `json:"low"`
		Close    float64 `json:"close"`
		Volume   float64 `json:"volume"`
	} `json:"candles"`
}

// FetchCandles returns the most recent finalized candles, oldest first.
// Bootstrap and store-fallback use only.
func (d *RESTDriver) FetchCandles(ctx context.Context, instrument, timeframe string, count int) ([]market.Candle, error) {
	path := fmt.Sprintf("/prices/%s/candles?timeframe=%s&count=%d", instrument, timeframe, count)
	var resp candleResponse
	if err := d.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch candles %s: %w", instrument, err)
	}

	candles := make([]market.Candle, 0, len(resp.Candles))
	for _, c := range resp.Candles {
		candles = append(candles, market.Candle{
			Instrument: instrument,
			Timeframe:  timeframe,
			OpenTime:   time.UnixMilli(c.OpenTime).UTC(),
			Open:       c.Open,
			High:       c.High,
			Low:        c.Low,
			Close:      c.Close,
			Volume:     c.Volume,
			Finalized:  true,
		})
	}
	return candles, nil
}

// FetchOpenPositions lists positions currently open at the broker.
func (d *RESTDriver) FetchOpenPositions(ctx context.Context) ([]Position, error) {
	var resp struct {
		Positions []Position `json:"positions"`
	}
	if err := d.do(ctx, http.MethodGet, "/positions", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	return resp.Positions, nil
}

// PlaceMarketOrder submits a market order keyed by the trade ID.
func (d *RESTDriver) PlaceMarketOrder(ctx context.Context, order MarketOrder) (string, error) {
	body := map[string]interface{}{
		"trade_id":         order.TradeID,
		"instrument":       order.Instrument,
		"direction":        order.Direction,
		"size_lots":        order.SizeLots,
		"sl_distance_pips": order.SLDistancePips,
		"tp_distance_pips": order.TPDistancePips,
	}
	var resp struct {
		DealRef string `json:"deal_ref"`
	}
	if err := d.do(ctx, http.MethodPost, "/orders/market", body, &resp); err != nil {
		return "", fmt.Errorf("place order %s: %w", order.Instrument, err)
	}
	return resp.DealRef, nil
}

// ClosePosition closes an open position by deal reference.
func (d *RESTDriver) ClosePosition(ctx context.Context, dealRef string) error {
	if err := d.do(ctx, http.MethodDelete, "/positions/"+dealRef, nil, nil); err != nil {
		return fmt.Errorf("close position %s: %w", dealRef, err)
	}
	return nil
}

// AccountSnapshot returns equity and margin availability.
func (d *RESTDriver) AccountSnapshot(ctx context.Context) (AccountSnapshot, error) {
	var snap AccountSnapshot
	if err := d.do(ctx, http.MethodGet, "/account", nil, &snap); err != nil {
		return AccountSnapshot{}, fmt.Errorf("account snapshot: %w", err)
	}
	return snap, nil
}

// do runs one request and maps the response status onto the broker error
// classification.
func (d *RESTDriver) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", d.apiKey)
	d.mu.Lock()
	if d.sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.sessionToken)
	}
	d.mu.Unlock()

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrAuthInvalid
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrRetryable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
