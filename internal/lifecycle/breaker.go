package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"fx-scalper-bot/internal/events"
	"fx-scalper-bot/internal/market"
)

// BreakerState represents the loss breaker state
type BreakerState string

const (
	StateClosed BreakerState = "closed" // normal operation
	StateOpen   BreakerState = "open"   // new opens halted
)

// BreakerConfig holds the loss breaker thresholds.
type BreakerConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"` // default 5
	CooldownMinutes      int     `json:"cooldown_minutes"`       // default 30
	MaxDailyTrades       int     `json:"max_daily_trades"`       // default 40
	MaxDailyLossPct      float64 `json:"max_daily_loss_pct"`     // of equity; 0 disables
}

// DefaultBreakerConfig returns safe defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:              true,
		MaxConsecutiveLosses: 5,
		CooldownMinutes:      30,
		MaxDailyTrades:       40,
		MaxDailyLossPct:      5.0,
	}
}

// Breaker halts new opens after a losing streak or a blown daily
// budget. Closes are never blocked.
type Breaker struct {
	cfg BreakerConfig
	bus *events.Bus

	mu                sync.Mutex
	state             BreakerState
	consecutiveLosses int
	dailyTrades       int
	dailyPnLCash      float64
	trippedAt         time.Time
	tripReason        string
	dayStart          time.Time
	pausedUntilDay    bool
	nowFn             func() time.Time
}

// NewBreaker creates the breaker.
func NewBreaker(cfg BreakerConfig, bus *events.Bus) *Breaker {
	if cfg.MaxConsecutiveLosses <= 0 {
		cfg.MaxConsecutiveLosses = 5
	}
	if cfg.CooldownMinutes <= 0 {
		cfg.CooldownMinutes = 30
	}
	if cfg.MaxDailyTrades <= 0 {
		cfg.MaxDailyTrades = 40
	}
	b := &Breaker{cfg: cfg, bus: bus, state: StateClosed, nowFn: time.Now}
	b.dayStart = b.nowFn().UTC().Truncate(24 * time.Hour)
	return b
}

// CanOpen reports whether a new trade may be opened.
func (b *Breaker) CanOpen() (bool, string) {
	if !b.cfg.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()

	if b.pausedUntilDay {
		return false, "daily loss limit hit, paused until next session"
	}
	if b.dailyTrades >= b.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade cap %d reached", b.cfg.MaxDailyTrades)
	}
	if b.state == StateOpen {
		cooldown := time.Duration(b.cfg.CooldownMinutes) * time.Minute
		elapsed := b.nowFn().Sub(b.trippedAt)
		if elapsed < cooldown {
			return false, fmt.Sprintf("breaker open, cooldown remaining %v (reason: %s)",
				(cooldown - elapsed).Round(time.Second), b.tripReason)
		}
		b.state = StateClosed
		b.consecutiveLosses = 0
		if b.bus != nil {
			b.bus.Publish(events.EventBreakerReset, map[string]interface{}{})
		}
	}
	return true, ""
}

// RecordOpen counts an accepted trade against the daily cap.
func (b *Breaker) RecordOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()
	b.dailyTrades++
}

// RecordClose feeds a realized result into the streak and daily
// accounting. equity may be zero when the broker snapshot failed.
func (b *Breaker) RecordClose(pnlCash float64, equity float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()

	b.dailyPnLCash += pnlCash
	if pnlCash < 0 {
		b.consecutiveLosses++
	} else {
		b.consecutiveLosses = 0
	}

	if b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses && b.state == StateClosed {
		b.tripLocked(fmt.Sprintf("%d consecutive losses", b.consecutiveLosses))
	}
	if b.cfg.MaxDailyLossPct > 0 && equity > 0 {
		if -b.dailyPnLCash >= equity*b.cfg.MaxDailyLossPct/100 {
			b.pausedUntilDay = true
			b.tripLocked(fmt.Sprintf("daily loss %.2f exceeds %.1f%% of equity", -b.dailyPnLCash, b.cfg.MaxDailyLossPct))
		}
	}
}

func (b *Breaker) tripLocked(reason string) {
	b.state = StateOpen
	b.trippedAt = b.nowFn()
	b.tripReason = reason
	if b.bus != nil {
		b.bus.Publish(events.EventBreakerTripped, map[string]interface{}{"reason": reason})
	}
}

func (b *Breaker) rollDayLocked() {
	day := b.nowFn().UTC().Truncate(24 * time.Hour)
	if day.After(b.dayStart) {
		b.dayStart = day
		b.dailyTrades = 0
		b.dailyPnLCash = 0
		b.pausedUntilDay = false
	}
}

// RestoreDaily rebuilds today's counters from trades already closed
// today, ordered by exit time. Called once on startup before any new
// open so daily caps and loss streaks survive a restart.
func (b *Breaker) RestoreDaily(trades []market.ClosedTrade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked()

	b.dailyTrades = len(trades)
	b.dailyPnLCash = 0
	streak := 0
	for _, t := range trades {
		b.dailyPnLCash += t.PnLCash
		if t.PnLCash < 0 {
			streak++
		} else {
			streak = 0
		}
	}
	b.consecutiveLosses = streak
	if b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses && b.state == StateClosed {
		b.tripLocked(fmt.Sprintf("%d consecutive losses", b.consecutiveLosses))
	}
}

// Stats returns the current counters for the control surface.
func (b *Breaker) Stats() (state BreakerState, consecutiveLosses, dailyTrades int, dailyPnL float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.consecutiveLosses, b.dailyTrades, b.dailyPnLCash
}
