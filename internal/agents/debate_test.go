package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
	"fx-scalper-bot/internal/patterns"
)

// fakeCompleter replies with canned JSON per agent label.
type fakeCompleter struct {
	replies map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, agent, _, _ string, out interface{}) error {
	f.calls = append(f.calls, agent)
	if err, ok := f.errs[agent]; ok {
		return err
	}
	reply, ok := f.replies[agent]
	if !ok {
		return errors.New("no canned reply for " + agent)
	}
	return json.Unmarshal([]byte(reply), out)
}

func (f *fakeCompleter) IsConfigured() bool { return true }

func debateInput(tier string, score float64) DebateInput {
	return DebateInput{
		View: &market.MarketView{
			Instrument: market.Instrument{ID: "EUR_USD", Base: "EUR", Quote: "USD", PipSize: 0.0001, DecimalFactor: 100000},
			Bid:        1.0850, Ask: 1.0851,
		},
		Pattern:      &patterns.Result{Type: patterns.PatternORB, Detected: true, Score: score, Direction: market.DirectionLong},
		PatternScore: score,
		Tier:         tier,
		BaseSizeLots: 1.0,
	}
}

func newTestOrchestrator(f *fakeCompleter) *Orchestrator {
	return &Orchestrator{client: f, log: logging.WithComponent("agents_test")}
}

func TestAnalystDebateApproval(t *testing.T) {
	f := &fakeCompleter{replies: map[string]string{
		"fast_momentum": `{"setup":"breakout","direction":"long","strength":0.8,"reasoning":"momentum up"}`,
		"technical":     `{"support":true,"confidence":0.7,"reasoning":"consensus bullish"}`,
		"validator":     `{"approved":true,"direction":"long","confidence":0.75,"tp_pips":10,"sl_pips":6,"tier":"llm_validate","reasoning":"both agree"}`,
	}}
	o := newTestOrchestrator(f)
	rec := &DebateRecord{}

	v, err := o.RunAnalystDebate(context.Background(), debateInput(market.TierLLMValidate, 78), rec)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Approved || v.Direction != market.DirectionLong {
		t.Errorf("verdict = %+v, want approved long", v)
	}
	if rec.Momentum == nil || rec.Technical == nil || rec.Analyst == nil {
		t.Error("record must carry all three analyst outputs")
	}
}

func TestAnalystDebateJudgeIsDecisiveForValidateTier(t *testing.T) {
	f := &fakeCompleter{replies: map[string]string{
		"fast_momentum": `{"setup":"breakout","direction":"long","strength":0.9,"reasoning":"x"}`,
		"technical":     `{"support":true,"confidence":0.9,"reasoning":"x"}`,
		"validator":     `{"approved":false,"direction":"long","confidence":0.3,"tp_pips":10,"sl_pips":6,"tier":"reject","reasoning":"spread risk"}`,
	}}
	o := newTestOrchestrator(f)

	v, err := o.RunAnalystDebate(context.Background(), debateInput(market.TierLLMValidate, 78), &DebateRecord{})
	if err != nil {
		t.Fatal(err)
	}
	if v.Approved {
		t.Error("judge rejection must stand for llm_validate tier")
	}
}

func TestAnalystDebateJudgeCannotOverturnAutoApprove(t *testing.T) {
	f := &fakeCompleter{replies: map[string]string{
		"fast_momentum": `{"setup":"breakout","direction":"long","strength":0.9,"reasoning":"x"}`,
		"technical":     `{"support":false,"confidence":0.4,"reasoning":"x"}`,
		"validator":     `{"approved":false,"direction":"","confidence":0.4,"tp_pips":8,"sl_pips":5,"tier":"reject","reasoning":"doubt"}`,
	}}
	o := newTestOrchestrator(f)

	v, err := o.RunAnalystDebate(context.Background(), debateInput(market.TierAutoApprove, 88), &DebateRecord{})
	if err != nil {
		t.Fatal(err)
	}
	if !v.Approved {
		t.Error("auto-approval must survive a judge rejection")
	}
	if v.Direction != market.DirectionLong {
		t.Errorf("direction = %q, want pattern direction long", v.Direction)
	}
}

func TestAnalystDebateSurvivesOneAgentFailure(t *testing.T) {
	f := &fakeCompleter{
		replies: map[string]string{
			"technical": `{"support":true,"confidence":0.7,"reasoning":"x"}`,
			"validator": `{"approved":true,"direction":"long","confidence":0.6,"tp_pips":10,"sl_pips":6,"tier":"llm_validate","reasoning":"x"}`,
		},
		errs: map[string]error{"fast_momentum": errors.New("timeout")},
	}
	o := newTestOrchestrator(f)
	rec := &DebateRecord{}

	v, err := o.RunAnalystDebate(context.Background(), debateInput(market.TierLLMValidate, 72), rec)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Approved {
		t.Error("judge should still rule with one analyst missing")
	}
	if len(rec.Errors) != 1 {
		t.Errorf("record errors = %v, want the momentum failure", rec.Errors)
	}
}

func TestRiskDebateTierSizing(t *testing.T) {
	cases := []struct {
		name     string
		judge    string
		execute  bool
		sizeLots float64
	}{
		{"tier one full size", `{"execute":true,"confidence_tier":1,"size_lots":9,"reasoning":"x"}`, true, 1.0},
		{"tier two reduced", `{"execute":true,"confidence_tier":2,"size_lots":9,"reasoning":"x"}`, true, 0.75},
		{"tier three skips", `{"execute":true,"confidence_tier":3,"size_lots":9,"reasoning":"x"}`, false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeCompleter{replies: map[string]string{
				"risk_aggressive":   `{"size_multiplier":1.2,"reasoning":"x"}`,
				"risk_conservative": `{"size_multiplier":0.6,"concerns":["vpin elevated"],"reasoning":"x"}`,
				"risk_judge":        tc.judge,
			}}
			o := newTestOrchestrator(f)
			analyst := &AnalystVerdict{Approved: true, Direction: market.DirectionLong, Confidence: 0.8, TPPips: 10, SLPips: 6}

			v, err := o.RunRiskDebate(context.Background(), debateInput(market.TierLLMValidate, 78), analyst, &DebateRecord{})
			if err != nil {
				t.Fatal(err)
			}
			if v.Execute != tc.execute {
				t.Errorf("execute = %v, want %v", v.Execute, tc.execute)
			}
			if v.SizeLots != tc.sizeLots {
				t.Errorf("size = %v lots, want %v", v.SizeLots, tc.sizeLots)
			}
		})
	}
}

func TestRiskDebateJudgeFailureIsFatal(t *testing.T) {
	f := &fakeCompleter{
		replies: map[string]string{
			"risk_aggressive":   `{"size_multiplier":1.2,"reasoning":"x"}`,
			"risk_conservative": `{"size_multiplier":0.6,"reasoning":"x"}`,
		},
		errs: map[string]error{"risk_judge": errors.New("timeout")},
	}
	o := newTestOrchestrator(f)
	analyst := &AnalystVerdict{Approved: true, Direction: market.DirectionLong, Confidence: 0.8}

	if _, err := o.RunRiskDebate(context.Background(), debateInput(market.TierLLMValidate, 78), analyst, &DebateRecord{}); err == nil {
		t.Error("risk judge failure must fail the debate")
	}
}
