// Package agents runs the two-stage decision debate: an analyst round
// (fast-momentum and technical agents merged by a validator judge) and
// a risk round (aggressive and conservative sizers merged by a risk
// judge). Agents speak JSON; every verdict is kept for the audit trail.
package agents

import (
	"time"

	"fx-scalper-bot/internal/market"
	"fx-scalper-bot/internal/patterns"
)

// MomentumView is the fast-momentum agent's read of candles and order
// flow.
type MomentumView struct {
	Setup     string  `json:"setup"`
	Direction string  `json:"direction"` // long, short, none
	Strength  float64 `json:"strength"`  // 0..1
	Reasoning string  `json:"reasoning"`
}

// TechnicalView is the technical agent's verdict on the proposed setup.
type TechnicalView struct {
	Support    bool    `json:"support"`
	Confidence float64 `json:"confidence"` // 0..1
	Reasoning  string  `json:"reasoning"`
}

// AnalystVerdict is the validator judge's merged output. Sole authority
// for tier llm_validate; for auto_approve it packages the trade only.
type AnalystVerdict struct {
	Approved   bool    `json:"approved"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"` // 0..1
	TPPips     float64 `json:"tp_pips"`
	SLPips     float64 `json:"sl_pips"`
	Tier       string  `json:"tier"`
	Reasoning  string  `json:"reasoning"`
}

// RiskStance is one risk agent's sizing position.
type RiskStance struct {
	SizeMultiplier float64  `json:"size_multiplier"` // vs base size
	Concerns       []string `json:"concerns,omitempty"`
	Reasoning      string   `json:"reasoning"`
}

// RiskVerdict is the risk judge's final call. ConfidenceTier 1 trades
// full size, tier 2 three-quarters, tier 3 skips the trade.
type RiskVerdict struct {
	Execute        bool    `json:"execute"`
	ConfidenceTier int     `json:"confidence_tier"`
	SizeLots       float64 `json:"size_lots"`
	Reasoning      string  `json:"reasoning"`
}

// DebateInput is the evidence both rounds argue over.
type DebateInput struct {
	View         *market.MarketView
	Pattern      *patterns.Result
	PatternScore float64
	Tier         string
	BaseSizeLots float64
}

// DebateRecord is the full trace of one debate, persisted with the
// signal for audit.
type DebateRecord struct {
	CycleID   string          `json:"cycle_id"`
	StartedAt time.Time       `json:"started_at"`
	Momentum  *MomentumView   `json:"momentum,omitempty"`
	Technical *TechnicalView  `json:"technical,omitempty"`
	Analyst   *AnalystVerdict `json:"analyst,omitempty"`
	Aggro     *RiskStance     `json:"aggressive,omitempty"`
	Cautious  *RiskStance     `json:"conservative,omitempty"`
	Risk      *RiskVerdict    `json:"risk,omitempty"`
	Errors    []string        `json:"errors,omitempty"`
}
