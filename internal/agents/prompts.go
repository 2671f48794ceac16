package agents

import (
	"fmt"
	"strings"

	"fx-scalper-bot/internal/market"
)

const momentumSystemPrompt = `You are a fast-momentum FX scalping analyst. You read one-minute candles
and futures order flow for a spot pair and name the momentum setup, if any.
Respond with ONLY a JSON object:
{"setup": "<short name or none>", "direction": "long|short|none", "strength": 0.0-1.0, "reasoning": "<2-3 sentences>"}`

const technicalSystemPrompt = `You are a technical FX analyst. You judge whether the aggregate indicator
consensus and recent price structure support the proposed scalp setup.
Respond with ONLY a JSON object:
{"support": true|false, "confidence": 0.0-1.0, "reasoning": "<2-3 sentences>"}`

const validatorSystemPrompt = `You are the validating judge of an FX scalping desk. Two analysts have
spoken; you merge their views with the detected chart pattern into one
trade decision. Keep take-profit and stop-loss between 4 and 20 pips and
reward at least 1.5x risk.
Respond with ONLY a JSON object:
{"approved": true|false, "direction": "long|short", "confidence": 0.0-1.0,
 "tp_pips": <number>, "sl_pips": <number>, "tier": "auto_approve|llm_validate|reject",
 "reasoning": "<3-4 sentences>"}`

const aggressiveRiskSystemPrompt = `You are the aggressive risk officer of an FX scalping desk. You argue for
the largest defensible position size on an approved trade.
Respond with ONLY a JSON object:
{"size_multiplier": 0.0-1.5, "reasoning": "<2-3 sentences>"}`

const conservativeRiskSystemPrompt = `You are the conservative risk officer of an FX scalping desk. You list the
concerns with an approved trade and the size reduction they warrant.
Respond with ONLY a JSON object:
{"size_multiplier": 0.0-1.0, "concerns": ["<concern>", ...], "reasoning": "<2-3 sentences>"}`

const riskJudgeSystemPrompt = `You are the chief risk judge of an FX scalping desk. Two risk officers
have argued size; you issue the final execution call using confidence
tiers: tier 1 trades the base size, tier 2 trades 0.75x, tier 3 skips.
Respond with ONLY a JSON object:
{"execute": true|false, "confidence_tier": 1|2|3, "size_lots": <number>, "reasoning": "<2-3 sentences>"}`

// marketSummary renders the view as compact prompt text.
func marketSummary(in DebateInput) string {
	v := in.View
	var b strings.Builder

	fmt.Fprintf(&b, "Instrument: %s\n", v.Instrument.ID)
	fmt.Fprintf(&b, "Bid/Ask: %.5f / %.5f\n", v.Bid, v.Ask)
	if v.SpreadPips != nil {
		fmt.Fprintf(&b, "Spread: %.1f pips\n", *v.SpreadPips)
	}

	b.WriteString(recentCandles(v.Candles, 12))

	if v.OrderFlow != nil {
		of := v.OrderFlow
		fmt.Fprintf(&b, "Order flow (60s): imbalance %+.2f, delta %+.0f, buy %.0f, sell %.0f, vwap %.5f, sweep %v, vpin %.2f\n",
			of.OFI60s, of.VolumeDelta, of.BuyVolume, of.SellVolume, of.VWAP, of.SweepFlag, of.VPIN)
	}
	if v.TA != nil {
		fmt.Fprintf(&b, "Indicator consensus: %s (buy %d / sell %d / neutral %d, confidence %.2f)\n",
			v.TA.Consensus, v.TA.BuyCount, v.TA.SellCount, v.TA.NeutralCount, v.TA.Confidence)
	}
	if in.Pattern != nil && in.Pattern.Detected {
		fmt.Fprintf(&b, "Detected pattern: %s %s, score %.0f/100\n",
			in.Pattern.Type, in.Pattern.Direction, in.Pattern.Score)
	}
	if len(v.Warnings) > 0 {
		fmt.Fprintf(&b, "Data warnings: %s\n", strings.Join(v.Warnings, ", "))
	}
	return b.String()
}

func recentCandles(candles []market.Candle, n int) string {
	if len(candles) == 0 {
		return "No candles available.\n"
	}
	if len(candles) > n {
		candles = candles[len(candles)-n:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Last %d one-minute candles (oldest first):\n", len(candles))
	for _, c := range candles {
		fmt.Fprintf(&b, "  %s O %.5f H %.5f L %.5f C %.5f V %.0f\n",
			c.OpenTime.Format("15:04"), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	return b.String()
}

func validatorPrompt(in DebateInput, momentum *MomentumView, technical *TechnicalView) string {
	var b strings.Builder
	b.WriteString(marketSummary(in))
	fmt.Fprintf(&b, "\nDecision tier so far: %s (pattern score %.0f)\n", in.Tier, in.PatternScore)

	if momentum != nil {
		fmt.Fprintf(&b, "\nFast-momentum analyst: setup %q, direction %s, strength %.2f.\n%s\n",
			momentum.Setup, momentum.Direction, momentum.Strength, momentum.Reasoning)
	} else {
		b.WriteString("\nFast-momentum analyst: unavailable.\n")
	}
	if technical != nil {
		fmt.Fprintf(&b, "\nTechnical analyst: support=%v, confidence %.2f.\n%s\n",
			technical.Support, technical.Confidence, technical.Reasoning)
	} else {
		b.WriteString("\nTechnical analyst: unavailable.\n")
	}
	return b.String()
}

func riskPrompt(in DebateInput, analyst *AnalystVerdict) string {
	var b strings.Builder
	b.WriteString(marketSummary(in))
	fmt.Fprintf(&b, "\nApproved trade: %s, confidence %.2f, TP %.1f pips, SL %.1f pips, base size %.2f lots.\n%s\n",
		analyst.Direction, analyst.Confidence, analyst.TPPips, analyst.SLPips, in.BaseSizeLots, analyst.Reasoning)
	return b.String()
}

func riskJudgePrompt(in DebateInput, analyst *AnalystVerdict, aggro, cautious *RiskStance) string {
	var b strings.Builder
	b.WriteString(riskPrompt(in, analyst))
	if aggro != nil {
		fmt.Fprintf(&b, "\nAggressive officer proposes %.2fx base size.\n%s\n", aggro.SizeMultiplier, aggro.Reasoning)
	}
	if cautious != nil {
		fmt.Fprintf(&b, "\nConservative officer proposes %.2fx base size. Concerns: %s.\n%s\n",
			cautious.SizeMultiplier, strings.Join(cautious.Concerns, "; "), cautious.Reasoning)
	}
	return b.String()
}
