package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fx-scalper-bot/internal/ai/llm"
	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
)

// completer is the slice of the LLM client the debate needs.
type completer interface {
	CompleteJSON(ctx context.Context, agent, systemPrompt, userPrompt string, out interface{}) error
	IsConfigured() bool
}

// Orchestrator runs both debate rounds against one LLM client.
type Orchestrator struct {
	client completer
	log    *logging.Logger
}

// NewOrchestrator creates the debate orchestrator.
func NewOrchestrator(client *llm.Client) *Orchestrator {
	return &Orchestrator{client: client, log: logging.WithComponent("agents")}
}

// RunAnalystDebate runs the momentum and technical agents concurrently,
// then the validator judge over both outputs. The judge is decisive for
// tier llm_validate; an auto_approve tier survives a judge rejection
// and only takes the judge's trade parameters.
func (o *Orchestrator) RunAnalystDebate(ctx context.Context, in DebateInput, rec *DebateRecord) (*AnalystVerdict, error) {
	if !o.client.IsConfigured() {
		verdict := o.heuristicVerdict(in)
		rec.Analyst = verdict
		return verdict, nil
	}

	ctx, cancel := WithDebateDeadline(ctx)
	defer cancel()
	summary := marketSummary(in)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var momentum *MomentumView
	var technical *TechnicalView

	wg.Add(1)
	go func() {
		defer wg.Done()
		var out MomentumView
		if err := o.client.CompleteJSON(ctx, "fast_momentum", momentumSystemPrompt, summary, &out); err != nil {
			o.recordError(rec, &mu, fmt.Errorf("fast-momentum agent: %w", err))
			return
		}
		mu.Lock()
		momentum = &out
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		var out TechnicalView
		if err := o.client.CompleteJSON(ctx, "technical", technicalSystemPrompt, summary, &out); err != nil {
			o.recordError(rec, &mu, fmt.Errorf("technical agent: %w", err))
			return
		}
		mu.Lock()
		technical = &out
		mu.Unlock()
	}()

	wg.Wait()
	rec.Momentum = momentum
	rec.Technical = technical

	var verdict AnalystVerdict
	if err := o.client.CompleteJSON(ctx, "validator", validatorSystemPrompt,
		validatorPrompt(in, momentum, technical), &verdict); err != nil {
		if in.Tier == market.TierAutoApprove {
			// Auto-approvals do not die on judge unavailability; fall
			// back to packaged defaults.
			o.recordError(rec, &mu, fmt.Errorf("validator judge: %w", err))
			v := o.heuristicVerdict(in)
			rec.Analyst = v
			return v, nil
		}
		return nil, fmt.Errorf("validator judge: %w", err)
	}

	sanitizeVerdict(&verdict, in)
	rec.Analyst = &verdict
	return &verdict, nil
}

// RunRiskDebate runs the aggressive and conservative officers
// concurrently, then the risk judge. Only called for approved trades.
func (o *Orchestrator) RunRiskDebate(ctx context.Context, in DebateInput, analyst *AnalystVerdict, rec *DebateRecord) (*RiskVerdict, error) {
	if !o.client.IsConfigured() {
		verdict := heuristicRiskVerdict(in, analyst)
		rec.Risk = verdict
		return verdict, nil
	}

	ctx, cancel := WithDebateDeadline(ctx)
	defer cancel()
	prompt := riskPrompt(in, analyst)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var aggro, cautious *RiskStance

	wg.Add(1)
	go func() {
		defer wg.Done()
		var out RiskStance
		if err := o.client.CompleteJSON(ctx, "risk_aggressive", aggressiveRiskSystemPrompt, prompt, &out); err != nil {
			o.recordError(rec, &mu, fmt.Errorf("aggressive risk agent: %w", err))
			return
		}
		mu.Lock()
		aggro = &out
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		var out RiskStance
		if err := o.client.CompleteJSON(ctx, "risk_conservative", conservativeRiskSystemPrompt, prompt, &out); err != nil {
			o.recordError(rec, &mu, fmt.Errorf("conservative risk agent: %w", err))
			return
		}
		mu.Lock()
		cautious = &out
		mu.Unlock()
	}()

	wg.Wait()
	rec.Aggro = aggro
	rec.Cautious = cautious

	var verdict RiskVerdict
	if err := o.client.CompleteJSON(ctx, "risk_judge", riskJudgeSystemPrompt,
		riskJudgePrompt(in, analyst, aggro, cautious), &verdict); err != nil {
		return nil, fmt.Errorf("risk judge: %w", err)
	}

	sanitizeRiskVerdict(&verdict, in)
	rec.Risk = &verdict
	return &verdict, nil
}

func (o *Orchestrator) recordError(rec *DebateRecord, mu *sync.Mutex, err error) {
	o.log.Warn("debate agent failed", "error", err)
	mu.Lock()
	rec.Errors = append(rec.Errors, err.Error())
	mu.Unlock()
}

// sanitizeVerdict clamps model output into tradable bounds.
func sanitizeVerdict(v *AnalystVerdict, in DebateInput) {
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	if v.TPPips <= 0 {
		v.TPPips = 10
	}
	if v.SLPips <= 0 {
		v.SLPips = 6
	}
	if v.Direction != market.DirectionLong && v.Direction != market.DirectionShort {
		v.Approved = false
	}
	// The judge cannot overturn an auto-approval; it only packages it.
	if in.Tier == market.TierAutoApprove && !v.Approved {
		v.Approved = true
		if v.Direction != market.DirectionLong && v.Direction != market.DirectionShort && in.Pattern != nil {
			v.Direction = in.Pattern.Direction
		}
	}
}

func sanitizeRiskVerdict(v *RiskVerdict, in DebateInput) {
	switch {
	case v.ConfidenceTier <= 1:
		v.ConfidenceTier = 1
		v.SizeLots = in.BaseSizeLots
	case v.ConfidenceTier == 2:
		v.SizeLots = 0.75 * in.BaseSizeLots
	default:
		v.ConfidenceTier = 3
		v.Execute = false
		v.SizeLots = 0
	}
	if !v.Execute {
		v.SizeLots = 0
	}
}

// heuristicVerdict packages a trade from the pattern alone, used when
// no LLM is configured or an auto-approval loses its judge.
func (o *Orchestrator) heuristicVerdict(in DebateInput) *AnalystVerdict {
	v := &AnalystVerdict{
		Tier:      in.Tier,
		TPPips:    10,
		SLPips:    6,
		Reasoning: "packaged from pattern without model consultation",
	}
	if in.Pattern != nil && in.Pattern.Detected {
		v.Direction = in.Pattern.Direction
		v.Confidence = in.PatternScore / 100
		v.Approved = in.Tier == market.TierAutoApprove
	}
	return v
}

func heuristicRiskVerdict(in DebateInput, analyst *AnalystVerdict) *RiskVerdict {
	tier := 2
	if analyst.Confidence >= 0.8 {
		tier = 1
	}
	v := &RiskVerdict{
		Execute:        true,
		ConfidenceTier: tier,
		Reasoning:      "sized from confidence without model consultation",
	}
	sanitizeRiskVerdict(v, in)
	return v
}

// Deadline bounds one debate round.
const debateDeadline = 60 * time.Second

// WithDebateDeadline derives the per-round context.
func WithDebateDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, debateDeadline)
}
