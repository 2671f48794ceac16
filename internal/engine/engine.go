// Package engine runs the decision loop: every cycle interval it fans
// one decision cycle per instrument across a bounded worker pool, with
// at most one in-flight cycle per instrument.
package engine

import (
	"context"
	"sync"
	"time"

	"fx-scalper-bot/internal/agents"
	"fx-scalper-bot/internal/events"
	"fx-scalper-bot/internal/gates"
	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
	"fx-scalper-bot/internal/metrics"
	"fx-scalper-bot/internal/patterns"
)

// Config tunes the scheduler and the per-cycle state machine.
type Config struct {
	CycleInterval time.Duration // default 60s
	WorkerCount   int           // default 3, bounds LLM concurrency
	SoftDeadline  time.Duration // overrun warning, default 10s
	HardDeadline  time.Duration // cycle context timeout, default 30s

	WeekendPause bool
	WeekendClose WeekMark // e.g. Friday 22:00 UTC
	WeekendOpen  WeekMark // e.g. Sunday 22:00 UTC

	Cycle CycleConfig
}

// WeekMark is a recurring weekly instant in UTC.
type WeekMark struct {
	Day    time.Weekday
	Offset time.Duration // from local midnight
}

// DefaultConfig returns scheduler defaults.
func DefaultConfig() Config {
	return Config{
		CycleInterval: 60 * time.Second,
		WorkerCount:   3,
		SoftDeadline:  10 * time.Second,
		HardDeadline:  30 * time.Second,
		WeekendPause:  true,
		WeekendClose:  WeekMark{Day: time.Friday, Offset: 22 * time.Hour},
		WeekendOpen:   WeekMark{Day: time.Sunday, Offset: 22 * time.Hour},
		Cycle: CycleConfig{
			RejectScore:      60,
			BorderlineScore:  70,
			AutoApproveScore: 85,
			DefaultTPPips:    10,
			DefaultSLPips:    6,
			MinRiskReward:    1.5,
			MaxSpreadPips:    1.5,
			BaseSizeLots:     0.1,
			PatternWeight:    0.7,
			LLMWeight:        0.3,
		},
	}
}

// Engine schedules decision cycles.
type Engine struct {
	cfg         Config
	instruments []market.Instrument
	runner      *cycleRunner
	sessions    []gates.Session
	bus         *events.Bus
	log         *logging.Logger
	nowFn       func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

// New creates the engine. sessions supply the opening-range anchor for
// pattern detection; pass the same set the session gate uses.
func New(cfg Config, instruments []market.Instrument, fetcher *Fetcher, g *gates.Gates, detector *patterns.Detector, debate *agents.Orchestrator, opener Opener, store CycleStore, sessions []gates.Session, bus *events.Bus, log *logging.Logger) *Engine {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 60 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.SoftDeadline <= 0 {
		cfg.SoftDeadline = 10 * time.Second
	}
	if cfg.HardDeadline <= 0 {
		cfg.HardDeadline = 30 * time.Second
	}
	gates.ResolveZones(sessions)

	e := &Engine{
		cfg:         cfg,
		instruments: instruments,
		sessions:    sessions,
		bus:         bus,
		log:         log.WithComponent("DecisionEngine"),
		nowFn:       time.Now,
		inFlight:    make(map[string]bool),
	}
	e.runner = &cycleRunner{
		cfg:       cfg.Cycle,
		fetcher:   fetcher,
		gates:     g,
		detector:  detector,
		debate:    debate,
		opener:    opener,
		store:     store,
		bus:       bus,
		log:       e.log,
		nowFn:     e.now,
		sessionFn: e.sessionOpen,
	}
	return e
}

func (e *Engine) now() time.Time { return e.nowFn() }

// Run drives the scheduler until ctx ends. Workers are shared across
// instruments; a slow cycle on one instrument never starves the rest
// beyond the pool size.
func (e *Engine) Run(ctx context.Context) {
	jobs := make(chan market.Instrument)
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inst := range jobs {
				e.runCycle(ctx, inst)
			}
		}()
	}

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	e.dispatch(ctx, jobs)
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case <-ticker.C:
			e.dispatch(ctx, jobs)
		}
	}
}

// dispatch queues one cycle per instrument, skipping instruments whose
// previous cycle is still running.
func (e *Engine) dispatch(ctx context.Context, jobs chan<- market.Instrument) {
	now := e.nowFn()
	if e.cfg.WeekendPause && e.inWeekend(now) {
		e.log.Debug("weekend pause active")
		return
	}

	for _, inst := range e.instruments {
		e.mu.Lock()
		busy := e.inFlight[inst.ID]
		if !busy {
			e.inFlight[inst.ID] = true
		}
		e.mu.Unlock()
		if busy {
			e.log.Warn("cycle still running, skipping tick", "instrument", inst.ID)
			continue
		}

		select {
		case jobs <- inst:
		case <-ctx.Done():
			e.clearInFlight(inst.ID)
			return
		}
	}
}

func (e *Engine) runCycle(ctx context.Context, inst market.Instrument) {
	defer e.clearInFlight(inst.ID)

	started := e.nowFn()
	cycleCtx, cancel := context.WithTimeout(ctx, e.cfg.HardDeadline)
	defer cancel()

	e.runner.run(cycleCtx, inst)

	elapsed := e.nowFn().Sub(started)
	metrics.CycleDuration.WithLabelValues(inst.ID).Observe(elapsed.Seconds())
	if elapsed > e.cfg.SoftDeadline {
		e.log.Warn("cycle overran soft deadline",
			"instrument", inst.ID, "elapsed", elapsed.String())
	}
}

func (e *Engine) clearInFlight(instrument string) {
	e.mu.Lock()
	delete(e.inFlight, instrument)
	e.mu.Unlock()
}

// sessionOpen returns the opening time of the session containing now,
// for the opening-range anchor. Falls back to the UTC midnight when now
// sits outside every session; the session gate has already rejected
// those cycles, so the anchor is never load-bearing there.
func (e *Engine) sessionOpen(now time.Time) time.Time {
	for i := range e.sessions {
		s := &e.sessions[i]
		if s.Contains(now) {
			return s.OpenAt(now)
		}
	}
	return now.UTC().Truncate(24 * time.Hour)
}

// inWeekend reports whether now falls inside the weekly close window.
func (e *Engine) inWeekend(now time.Time) bool {
	utc := now.UTC()
	mark := time.Duration(utc.Weekday())*24*time.Hour +
		time.Duration(utc.Hour())*time.Hour +
		time.Duration(utc.Minute())*time.Minute

	closeMark := time.Duration(e.cfg.WeekendClose.Day)*24*time.Hour + e.cfg.WeekendClose.Offset
	openMark := time.Duration(e.cfg.WeekendOpen.Day)*24*time.Hour + e.cfg.WeekendOpen.Offset

	if closeMark <= openMark {
		return mark >= closeMark && mark < openMark
	}
	// Window wraps across the week boundary (Friday -> Sunday).
	return mark >= closeMark || mark < openMark
}
