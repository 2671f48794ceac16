package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"fx-scalper-bot/internal/hub"
	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
	"fx-scalper-bot/internal/ratelimit"
)

// TAClient fetches the aggregate indicator consensus for an instrument.
type TAClient interface {
	FetchAggregateIndicators(ctx context.Context, instrument string) (market.TAIndicatorSnapshot, error)
}

// TAStore persists TA snapshots.
type TAStore interface {
	InsertTASnapshot(ctx context.Context, s market.TAIndicatorSnapshot) error
}

// IndicatorPoller periodically fetches the TA consensus per instrument
// under a global token bucket. An exhausted budget skips the instrument
// for the cycle instead of failing the task.
type IndicatorPoller struct {
	client      TAClient
	hub         hub.Store
	store       TAStore
	bucket      *ratelimit.Bucket
	instruments []string
	interval    time.Duration
	log         *logging.Logger
}

// NewIndicatorPoller creates the TA poller.
func NewIndicatorPoller(client TAClient, h hub.Store, store TAStore, bucket *ratelimit.Bucket, instruments []string, interval time.Duration) *IndicatorPoller {
	if interval <= 0 {
		interval = 120 * time.Second
	}
	return &IndicatorPoller{
		client:      client,
		hub:         h,
		store:       store,
		bucket:      bucket,
		instruments: instruments,
		interval:    interval,
		log:         logging.WithComponent("indicator_poller"),
	}
}

// Run polls until ctx ends. The first pass runs immediately.
func (p *IndicatorPoller) Run(ctx context.Context) {
	p.pollAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *IndicatorPoller) pollAll(ctx context.Context) {
	for _, instrument := range p.instruments {
		if ctx.Err() != nil {
			return
		}
		if ok, wait := p.bucket.TryAcquire(); !ok {
			p.log.Debug("ta budget exhausted, skipping", "instrument", instrument, "retry_in", wait.String())
			continue
		}
		p.pollOne(ctx, instrument)
	}
}

func (p *IndicatorPoller) pollOne(ctx context.Context, instrument string) {
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	snap, err := p.client.FetchAggregateIndicators(callCtx, instrument)
	if err != nil {
		p.log.Warn("ta fetch failed", "instrument", instrument, "error", err)
		return
	}

	p.hub.UpdateTA(snap)
	if p.store != nil {
		if err := p.store.InsertTASnapshot(ctx, snap); err != nil {
			p.log.Error("ta snapshot persist failed", "instrument", instrument, "error", err)
		}
	}
}

// ============================================================================
// HTTP TA CLIENT
// ============================================================================

// HTTPTAClient is a thin JSON client for the external TA aggregator.
type HTTPTAClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPTAClient creates a TA aggregator client.
func NewHTTPTAClient(baseURL, apiKey string) *HTTPTAClient {
	return &HTTPTAClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type taResponse struct {
	Buy        int     `json:"buy"`
	Sell       int     `json:"sell"`
	Neutral    int     `json:"neutral"`
	Consensus  string  `json:"consensus"`
	Confidence float64 `json:"confidence"`
}

// FetchAggregateIndicators fetches and validates one consensus snapshot.
func (c *HTTPTAClient) FetchAggregateIndicators(ctx context.Context, instrument string) (market.TAIndicatorSnapshot, error) {
	endpoint := fmt.Sprintf("%s/indicators?instrument=%s", c.baseURL, url.QueryEscape(instrument))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return market.TAIndicatorSnapshot{}, err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return market.TAIndicatorSnapshot{}, fmt.Errorf("ta request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return market.TAIndicatorSnapshot{}, fmt.Errorf("ta request: status %d", resp.StatusCode)
	}

	var body taResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return market.TAIndicatorSnapshot{}, fmt.Errorf("ta decode: %w", err)
	}

	consensus := body.Consensus
	switch consensus {
	case market.ConsensusBullish, market.ConsensusBearish, market.ConsensusNeutral:
	default:
		consensus = market.ConsensusNeutral
	}
	confidence := body.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return market.TAIndicatorSnapshot{
		Instrument:   instrument,
		ComputeTime:  time.Now().UTC(),
		BuyCount:     body.Buy,
		SellCount:    body.Sell,
		NeutralCount: body.Neutral,
		Consensus:    consensus,
		Confidence:   confidence,
	}, nil
}
