package strategy

import (
	"time"

	"spot-autotrader/ai"
)

// RiskParams are the per-trade risk settings in force for one action.
type RiskParams struct {
	StopLossPct    float64
	TakeProfitPct  float64
	ConfidenceGate float64
	MaxHold        time.Duration
}

// DefaultRiskParams returns the baseline settings; zero arguments fall
// back to the built-in defaults.
func DefaultRiskParams(slPct, tpPct, gate float64) RiskParams {
	p := RiskParams{
		StopLossPct:    3,
		TakeProfitPct:  5,
		ConfidenceGate: 0.70,
		MaxHold:        24 * time.Hour,
	}
	if slPct > 0 {
		p.StopLossPct = slPct
	}
	if tpPct > 0 {
		p.TakeProfitPct = tpPct
	}
	if gate > 0 {
		p.ConfidenceGate = gate
	}
	return p
}

// Adjust perturbs the baseline for the upcoming action only, based on
// the signal's risk grading. The baseline itself is never mutated.
func (p RiskParams) Adjust(sig *ai.Signal) RiskParams {
	out := p

	// Explicit strategy overrides (ATR-derived stops) replace the
	// percentage defaults before grading is applied.
	if sig.StopLossPct > 0 {
		out.StopLossPct = sig.StopLossPct
	}
	if sig.TakeProfitPct > 0 {
		out.TakeProfitPct = sig.TakeProfitPct
	}

	switch sig.RiskLevel {
	case ai.RiskHigh:
		out.StopLossPct = 2
		out.TakeProfitPct = 3
	case ai.RiskLow:
		out.StopLossPct = 4
		out.TakeProfitPct = 8
	}

	switch sig.Urgency {
	case ai.UrgencyImmediate:
		out.ConfidenceGate = 0.50
	case ai.UrgencyHigh:
		out.ConfidenceGate = 0.65
	}

	switch {
	case sig.Sentiment == ai.SentimentVeryBullish && sig.Confidence >= 0.85:
		out.MaxHold = 48 * time.Hour
	case sig.Sentiment == ai.SentimentVeryBearish && sig.Confidence >= 0.75:
		out.MaxHold = 12 * time.Hour
	}

	return out
}
