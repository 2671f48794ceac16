package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
)

// CalendarClient fetches scheduled economic events.
type CalendarClient interface {
	FetchCalendar(ctx context.Context, from, to time.Time) ([]market.EconomicEvent, error)
}

// EventStore persists calendar events; Repository satisfies it.
type EventStore interface {
	UpsertEconomicEvent(ctx context.Context, e market.EconomicEvent) error
}

// CalendarPoller refreshes the economic-events table from the provider.
// The gater reads upcoming events from the table, not the provider, so
// a provider outage degrades to a stale calendar instead of no gating.
type CalendarPoller struct {
	client    CalendarClient
	store     EventStore
	interval  time.Duration
	lookahead time.Duration
	log       *logging.Logger
}

// NewCalendarPoller creates the calendar poller.
func NewCalendarPoller(client CalendarClient, store EventStore, interval, lookahead time.Duration) *CalendarPoller {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if lookahead <= 0 {
		lookahead = 24 * time.Hour
	}
	return &CalendarPoller{
		client:    client,
		store:     store,
		interval:  interval,
		lookahead: lookahead,
		log:       logging.WithComponent("calendar_poller"),
	}
}

// Run polls until ctx ends. The first pass runs immediately so the
// gater has a calendar before the first decision cycle.
func (p *CalendarPoller) Run(ctx context.Context) {
	p.pollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *CalendarPoller) pollOnce(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	events, err := p.client.FetchCalendar(callCtx, now, now.Add(p.lookahead))
	if err != nil {
		p.log.Warn("calendar fetch failed", "error", err)
		return
	}

	stored := 0
	for _, ev := range events {
		if ev.EventID == "" || ev.ScheduledTime.IsZero() {
			p.log.Warn("dropping malformed calendar event", "event", ev.EventName)
			continue
		}
		if err := p.store.UpsertEconomicEvent(ctx, ev); err != nil {
			p.log.Error("calendar event persist failed", "event_id", ev.EventID, "error", err)
			continue
		}
		stored++
	}
	p.log.Debug("calendar refreshed", "fetched", len(events), "stored", stored)
}

// HTTPCalendarClient is a thin JSON client for the calendar provider.
type HTTPCalendarClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPCalendarClient creates a calendar provider client.
func NewHTTPCalendarClient(baseURL, apiKey string) *HTTPCalendarClient {
	return &HTTPCalendarClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type calendarRow struct {
	ID       string    `json:"id"`
	Date     time.Time `json:"date"`
	Country  string    `json:"country"`
	Currency string    `json:"currency"`
	Impact   string    `json:"impact"`
	Title    string    `json:"title"`
}

// FetchCalendar fetches events in [from, to] and normalizes the impact
// labels to the stored importance values.
func (c *HTTPCalendarClient) FetchCalendar(ctx context.Context, from, to time.Time) ([]market.EconomicEvent, error) {
	endpoint := fmt.Sprintf("%s/calendar?from=%s&to=%s",
		c.baseURL,
		url.QueryEscape(from.Format(time.RFC3339)),
		url.QueryEscape(to.Format(time.RFC3339)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar request: status %d", resp.StatusCode)
	}

	var rows []calendarRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("calendar decode: %w", err)
	}

	out := make([]market.EconomicEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, market.EconomicEvent{
			EventID:       row.ID,
			ScheduledTime: row.Date.UTC(),
			Country:       row.Country,
			Currency:      strings.ToUpper(row.Currency),
			Importance:    normalizeImpact(row.Impact),
			EventName:     row.Title,
		})
	}
	return out, nil
}

// normalizeImpact folds provider impact labels onto low/medium/high.
func normalizeImpact(impact string) string {
	switch strings.ToLower(strings.TrimSpace(impact)) {
	case "high", "red", "3":
		return market.ImportanceHigh
	case "medium", "orange", "yellow", "2":
		return market.ImportanceMedium
	default:
		return market.ImportanceLow
	}
}
