package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
)

// Client talks to a remote hub over the loopback protocol. It satisfies
// Store, so a process configured with a remote hub address uses it in
// place of an in-process Hub. Update failures are logged and dropped;
// producers must never block on the hub.
type Client struct {
	baseURL string
	tokens  *TokenManager
	process string
	http    *http.Client
	log     *logging.Logger
}

// NewClient creates a loopback hub client for the named process.
func NewClient(addr, secret, process string) *Client {
	return &Client{
		baseURL: "http://" + addr,
		tokens:  NewTokenManager(secret, 5*time.Minute),
		process: process,
		http:    &http.Client{Timeout: 5 * time.Second},
		log:     logging.WithComponent("hub_client"),
	}
}

func (c *Client) post(path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if err := c.authorize(req); err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	return nil
}

// get returns false on 404 without error.
func (c *Client) get(path string, out interface{}) (bool, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	if err := c.authorize(req); err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (c *Client) authorize(req *http.Request) error {
	token, err := c.tokens.Generate(c.process)
	if err != nil {
		return fmt.Errorf("mint hub token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *Client) UpdateTick(t market.Tick) {
	if err := c.post("/hub/tick", t); err != nil {
		c.log.Error("tick update dropped", "instrument", t.Instrument, "error", err)
	}
}

func (c *Client) UpdateCandle(candle market.Candle) {
	if err := c.post("/hub/candle", candle); err != nil {
		c.log.Error("candle update dropped", "instrument", candle.Instrument, "error", err)
	}
}

func (c *Client) UpdateOrderFlow(m market.OrderFlowMetrics) {
	if err := c.post("/hub/orderflow", m); err != nil {
		c.log.Error("order flow update dropped", "instrument", m.Instrument, "error", err)
	}
}

func (c *Client) UpdateTA(s market.TAIndicatorSnapshot) {
	if err := c.post("/hub/ta", s); err != nil {
		c.log.Error("ta update dropped", "instrument", s.Instrument, "error", err)
	}
}

func (c *Client) LatestTick(instrument string) (market.Tick, bool) {
	var t market.Tick
	ok, err := c.get("/hub/tick/"+url.PathEscape(instrument), &t)
	if err != nil {
		c.log.Error("latest tick fetch failed", "instrument", instrument, "error", err)
		return market.Tick{}, false
	}
	return t, ok
}

func (c *Client) LatestCandles(instrument, timeframe string, limit int) []market.Candle {
	var candles []market.Candle
	path := fmt.Sprintf("/hub/candles/%s?timeframe=%s&limit=%d",
		url.PathEscape(instrument), url.QueryEscape(timeframe), limit)
	if _, err := c.get(path, &candles); err != nil {
		c.log.Error("latest candles fetch failed", "instrument", instrument, "error", err)
		return nil
	}
	return candles
}

func (c *Client) LatestOrderFlow(instrument string) (market.OrderFlowMetrics, bool) {
	var m market.OrderFlowMetrics
	ok, err := c.get("/hub/orderflow/"+url.PathEscape(instrument), &m)
	if err != nil {
		c.log.Error("latest order flow fetch failed", "instrument", instrument, "error", err)
		return market.OrderFlowMetrics{}, false
	}
	return m, ok
}

func (c *Client) LatestTA(instrument string) (market.TAIndicatorSnapshot, bool) {
	var s market.TAIndicatorSnapshot
	ok, err := c.get("/hub/ta/"+url.PathEscape(instrument), &s)
	if err != nil {
		c.log.Error("latest ta fetch failed", "instrument", instrument, "error", err)
		return market.TAIndicatorSnapshot{}, false
	}
	return s, ok
}

func (c *Client) CheckStaleness(instrument string) Staleness {
	var st Staleness
	ok, err := c.get("/hub/staleness/"+url.PathEscape(instrument), &st)
	if err != nil || !ok {
		// Unreachable hub means nothing can be trusted.
		return Staleness{TickStale: true, CandleStale: true, OrderFlowStale: true, TAStale: true}
	}
	return st
}
