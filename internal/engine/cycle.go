package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fx-scalper-bot/internal/agents"
	"fx-scalper-bot/internal/events"
	"fx-scalper-bot/internal/gates"
	"fx-scalper-bot/internal/lifecycle"
	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
	"fx-scalper-bot/internal/metrics"
	"fx-scalper-bot/internal/patterns"
)

// Rejection reasons recorded per cycle.
const (
	ReasonInsufficientData = "insufficient_data"
	ReasonGatesFailed      = "gates_failed"
	ReasonLowPatternScore  = "low_pattern_score"
	ReasonBorderline       = "borderline_pattern"
	ReasonDebateRejected   = "debate_rejected"
	ReasonRiskSkipped      = "risk_skipped"
	ReasonSpreadRecheck    = "spread_recheck_failed"
	ReasonRiskReward       = "risk_reward_too_low"
	ReasonSubmitFailed     = "submit_failed"
	ReasonOpenBlocked      = "open_blocked"
	ReasonCycleTimeout     = "cycle_timeout"
)

// Opener owns trade creation; the lifecycle satisfies it.
type Opener interface {
	Open(ctx context.Context, sig market.Signal) (string, error)
}

// CycleStore persists cycle outcomes; Repository satisfies it.
type CycleStore interface {
	InsertSignal(ctx context.Context, s market.Signal) error
	InsertRejectedCycle(ctx context.Context, cycleID, instrument, reason, detail string, at time.Time) error
	InsertAgentDecision(ctx context.Context, cycleID, instrument, agent string, decidedAt time.Time, outputJSON string) error
}

// cycleRunner executes one decision cycle for one instrument.
type cycleRunner struct {
	cfg       CycleConfig
	fetcher   *Fetcher
	gates     *gates.Gates
	detector  *patterns.Detector
	debate    *agents.Orchestrator
	opener    Opener
	store     CycleStore
	bus       *events.Bus
	log       *logging.Logger
	nowFn     func() time.Time
	sessionFn func(time.Time) time.Time // start of the current session, for ORB
}

// CycleConfig is the per-cycle slice of the engine config.
type CycleConfig struct {
	RejectScore      float64
	BorderlineScore  float64
	AutoApproveScore float64
	DefaultTPPips    float64
	DefaultSLPips    float64
	MinRiskReward    float64
	MaxSpreadPips    float64
	BaseSizeLots     float64
	PatternWeight    float64
	LLMWeight        float64
}

// run drives the state machine:
// fetch -> gates -> pattern -> tiering -> analyst debate -> risk debate
// -> spread recheck -> pricing -> submit -> record.
func (r *cycleRunner) run(ctx context.Context, inst market.Instrument) {
	cycleID := uuid.NewString()
	started := r.nowFn()
	log := r.log.WithField("instrument", inst.ID).WithField("cycle_id", cycleID)

	view := r.fetcher.Fetch(ctx, inst)
	if view.HasWarning(market.WarnInsufficientCandles) {
		r.reject(ctx, cycleID, inst, ReasonInsufficientData, "", started)
		return
	}

	agg := r.gates.Evaluate(view, r.nowFn())
	if !agg.Passed {
		detail, _ := json.Marshal(agg.Failures())
		r.reject(ctx, cycleID, inst, ReasonGatesFailed, string(detail), started)
		return
	}

	_, winner := r.detector.Detect(inst, view.Candles, r.sessionFn(r.nowFn()))
	var patternScore float64
	if winner != nil {
		patternScore = winner.Score
	}

	tier := r.tierFor(patternScore)
	// Degraded data is a red flag: an auto-approval with stale inputs
	// still goes through the judge.
	if tier == market.TierAutoApprove && len(view.Warnings) > 0 {
		tier = market.TierLLMValidate
	}
	switch tier {
	case market.TierReject:
		reason := ReasonLowPatternScore
		if patternScore >= r.cfg.RejectScore {
			reason = ReasonBorderline
			log.Info("shadow candidate", "pattern_score", patternScore)
		}
		r.reject(ctx, cycleID, inst, reason, fmt.Sprintf("score=%.1f", patternScore), started)
		return
	}

	if err := ctx.Err(); err != nil {
		r.reject(ctx, cycleID, inst, ReasonCycleTimeout, "", started)
		return
	}

	// Analyst debate always runs so the audit trail exists even for
	// auto-approvals; it is decisive only for llm_validate.
	in := agents.DebateInput{
		View:         view,
		Pattern:      winner,
		PatternScore: patternScore,
		Tier:         tier,
		BaseSizeLots: r.cfg.BaseSizeLots,
	}
	rec := &agents.DebateRecord{CycleID: cycleID, StartedAt: started}

	analyst, err := r.debate.RunAnalystDebate(ctx, in, rec)
	if err != nil {
		// Model unavailable defaults to the safe side.
		r.recordDebate(ctx, cycleID, inst, rec)
		r.reject(ctx, cycleID, inst, ReasonDebateRejected, err.Error(), started)
		return
	}
	if !analyst.Approved {
		r.recordDebate(ctx, cycleID, inst, rec)
		r.reject(ctx, cycleID, inst, ReasonDebateRejected, analyst.Reasoning, started)
		return
	}

	risk, err := r.debate.RunRiskDebate(ctx, in, analyst, rec)
	if err != nil {
		r.recordDebate(ctx, cycleID, inst, rec)
		r.reject(ctx, cycleID, inst, ReasonRiskSkipped, err.Error(), started)
		return
	}
	r.recordDebate(ctx, cycleID, inst, rec)
	if !risk.Execute {
		r.reject(ctx, cycleID, inst, ReasonRiskSkipped, risk.Reasoning, started)
		return
	}

	// Spread recheck against the freshest tick before committing.
	recheck := r.fetcher.Fetch(ctx, inst)
	if recheck.SpreadPips == nil || *recheck.SpreadPips > r.cfg.MaxSpreadPips {
		r.reject(ctx, cycleID, inst, ReasonSpreadRecheck, "", started)
		return
	}

	tpPips, slPips := r.priceExits(inst, view, analyst)
	if tpPips/slPips < r.cfg.MinRiskReward {
		r.reject(ctx, cycleID, inst, ReasonRiskReward,
			fmt.Sprintf("tp=%.1f sl=%.1f", tpPips, slPips), started)
		return
	}

	entry := (recheck.Bid + recheck.Ask) / 2
	confidence := r.blendConfidence(patternScore, analyst, tier)

	trace, _ := json.Marshal(rec)
	sig := market.Signal{
		Instrument:  inst.ID,
		CycleID:     cycleID,
		GeneratedAt: r.nowFn(),
		Direction:   analyst.Direction,
		EntryPrice:  entry,
		TakeProfit:  exitPrice(inst, entry, analyst.Direction, tpPips, true),
		StopLoss:    exitPrice(inst, entry, analyst.Direction, slPips, false),
		Confidence:  confidence,
		Tier:        tier,
		SizeLots:    risk.SizeLots,
		Reason:      analyst.Reasoning,
		AgentTrace:  string(trace),
	}
	if winner != nil {
		sig.Pattern = string(winner.Type)
		sig.PatternScore = winner.Score
	}

	if _, err := r.opener.Open(ctx, sig); err != nil {
		r.reject(ctx, cycleID, inst, classifyOpenFailure(err), err.Error(), started)
		return
	}

	if err := r.store.InsertSignal(ctx, sig); err != nil {
		log.Error("signal persist failed", "error", err)
	}
	if r.bus != nil {
		r.bus.Publish(events.EventSignalGenerated, map[string]interface{}{
			"instrument": inst.ID, "cycle_id": cycleID,
			"direction": sig.Direction, "tier": tier, "confidence": confidence,
		})
	}
	metrics.Cycles.WithLabelValues(inst.ID, "signal").Inc()
	log.Info("signal generated", "direction", sig.Direction,
		"tier", tier, "confidence", confidence, "size_lots", sig.SizeLots,
		"elapsed", r.nowFn().Sub(started).String())
}

func (r *cycleRunner) tierFor(score float64) string {
	switch {
	case score < r.cfg.BorderlineScore:
		return market.TierReject
	case score >= r.cfg.AutoApproveScore:
		return market.TierAutoApprove
	default:
		return market.TierLLMValidate
	}
}

// priceExits picks TP/SL distances: the judge's when sane, stretched to
// the ATR-derived structure buffer, defaults otherwise.
func (r *cycleRunner) priceExits(inst market.Instrument, view *market.MarketView, analyst *agents.AnalystVerdict) (tpPips, slPips float64) {
	tpPips, slPips = analyst.TPPips, analyst.SLPips
	if tpPips <= 0 {
		tpPips = r.cfg.DefaultTPPips
	}
	if slPips <= 0 {
		slPips = r.cfg.DefaultSLPips
	}

	atr := patterns.ATR(view.Candles, 14)
	if atr > 0 && view.SpreadPips != nil {
		// Swing-anchored buffer keeps the stop out of spread noise.
		buffer := 1.5*(*view.SpreadPips) + 0.1*inst.ToPips(atr)
		if slPips < buffer {
			slPips = buffer
		}
	}
	return tpPips, slPips
}

func (r *cycleRunner) blendConfidence(patternScore float64, analyst *agents.AnalystVerdict, tier string) float64 {
	if tier == market.TierLLMValidate {
		return r.cfg.PatternWeight*(patternScore/100) + r.cfg.LLMWeight*analyst.Confidence
	}
	return patternScore / 100
}

func (r *cycleRunner) reject(ctx context.Context, cycleID string, inst market.Instrument, reason, detail string, started time.Time) {
	metrics.Cycles.WithLabelValues(inst.ID, "rejected").Inc()
	metrics.CycleRejections.WithLabelValues(reason).Inc()
	r.log.Info("cycle rejected", "instrument", inst.ID, "cycle_id", cycleID,
		"reason", reason, "elapsed", r.nowFn().Sub(started).String())

	persistCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := r.store.InsertRejectedCycle(persistCtx, cycleID, inst.ID, reason, detail, r.nowFn()); err != nil {
		r.log.Error("rejection persist failed", "cycle_id", cycleID, "error", err)
	}
	if r.bus != nil {
		r.bus.Publish(events.EventCycleRejected, map[string]interface{}{
			"instrument": inst.ID, "cycle_id": cycleID, "reason": reason,
		})
	}
}

// recordDebate persists every agent verdict present on the record.
func (r *cycleRunner) recordDebate(ctx context.Context, cycleID string, inst market.Instrument, rec *agents.DebateRecord) {
	outputs := map[string]interface{}{
		"fast_momentum":     rec.Momentum,
		"technical":         rec.Technical,
		"validator":         rec.Analyst,
		"risk_aggressive":   rec.Aggro,
		"risk_conservative": rec.Cautious,
		"risk_judge":        rec.Risk,
	}
	now := r.nowFn()
	for agent, out := range outputs {
		if out == nil || isNilPtr(out) {
			continue
		}
		blob, err := json.Marshal(out)
		if err != nil {
			continue
		}
		if err := r.store.InsertAgentDecision(ctx, cycleID, inst.ID, agent, now, string(blob)); err != nil {
			r.log.Error("agent decision persist failed", "cycle_id", cycleID, "agent", agent, "error", err)
		}
	}
}

func isNilPtr(v interface{}) bool {
	switch p := v.(type) {
	case *agents.MomentumView:
		return p == nil
	case *agents.TechnicalView:
		return p == nil
	case *agents.AnalystVerdict:
		return p == nil
	case *agents.RiskStance:
		return p == nil
	case *agents.RiskVerdict:
		return p == nil
	}
	return false
}

// exitPrice converts a pip distance to an absolute TP or SL price.
func exitPrice(inst market.Instrument, entry float64, direction string, pips float64, takeProfit bool) float64 {
	delta := inst.FromPips(pips)
	long := direction == market.DirectionLong
	if long == takeProfit {
		return entry + delta
	}
	return entry - delta
}

func classifyOpenFailure(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, lifecycle.ErrOpenBlocked) {
		return ReasonOpenBlocked
	}
	return ReasonSubmitFailed
}
