package strategy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"spot-autotrader/ai"
)

func TestDefaultRiskParams(t *testing.T) {
	p := DefaultRiskParams(0, 0, 0)
	assert.Equal(t, 3.0, p.StopLossPct)
	assert.Equal(t, 5.0, p.TakeProfitPct)
	assert.Equal(t, 0.70, p.ConfidenceGate)
	assert.Equal(t, 24*time.Hour, p.MaxHold)

	p = DefaultRiskParams(2.5, 6, 0.6)
	assert.Equal(t, 2.5, p.StopLossPct)
	assert.Equal(t, 6.0, p.TakeProfitPct)
	assert.Equal(t, 0.6, p.ConfidenceGate)
}

func TestAdjustRiskTable(t *testing.T) {
	base := DefaultRiskParams(0, 0, 0)

	tests := []struct {
		name string
		sig  ai.Signal
		want RiskParams
	}{
		{
			name: "high risk tightens stops",
			sig:  ai.Signal{RiskLevel: ai.RiskHigh},
			want: RiskParams{StopLossPct: 2, TakeProfitPct: 3, ConfidenceGate: 0.70, MaxHold: 24 * time.Hour},
		},
		{
			name: "low risk widens stops",
			sig:  ai.Signal{RiskLevel: ai.RiskLow},
			want: RiskParams{StopLossPct: 4, TakeProfitPct: 8, ConfidenceGate: 0.70, MaxHold: 24 * time.Hour},
		},
		{
			name: "immediate urgency lowers gate",
			sig:  ai.Signal{Urgency: ai.UrgencyImmediate},
			want: RiskParams{StopLossPct: 3, TakeProfitPct: 5, ConfidenceGate: 0.50, MaxHold: 24 * time.Hour},
		},
		{
			name: "high urgency lowers gate",
			sig:  ai.Signal{Urgency: ai.UrgencyHigh},
			want: RiskParams{StopLossPct: 3, TakeProfitPct: 5, ConfidenceGate: 0.65, MaxHold: 24 * time.Hour},
		},
		{
			name: "very bullish extends hold",
			sig:  ai.Signal{Sentiment: ai.SentimentVeryBullish, Confidence: 0.85},
			want: RiskParams{StopLossPct: 3, TakeProfitPct: 5, ConfidenceGate: 0.70, MaxHold: 48 * time.Hour},
		},
		{
			name: "very bullish below threshold keeps hold",
			sig:  ai.Signal{Sentiment: ai.SentimentVeryBullish, Confidence: 0.84},
			want: RiskParams{StopLossPct: 3, TakeProfitPct: 5, ConfidenceGate: 0.70, MaxHold: 24 * time.Hour},
		},
		{
			name: "very bearish compresses hold",
			sig:  ai.Signal{Sentiment: ai.SentimentVeryBearish, Confidence: 0.75},
			want: RiskParams{StopLossPct: 3, TakeProfitPct: 5, ConfidenceGate: 0.70, MaxHold: 12 * time.Hour},
		},
		{
			name: "combined adjustment",
			sig:  ai.Signal{RiskLevel: ai.RiskLow, Urgency: ai.UrgencyImmediate, Sentiment: ai.SentimentVeryBullish, Confidence: 0.85},
			want: RiskParams{StopLossPct: 4, TakeProfitPct: 8, ConfidenceGate: 0.50, MaxHold: 48 * time.Hour},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Adjust(&tt.sig))
			// The baseline itself is untouched.
			assert.Equal(t, DefaultRiskParams(0, 0, 0), base)
		})
	}
}

func TestAdjustSignalOverrides(t *testing.T) {
	base := DefaultRiskParams(0, 0, 0)

	// ATR-derived stops from a technical signal replace the defaults.
	out := base.Adjust(&ai.Signal{StopLossPct: 2.4, TakeProfitPct: 4.8})
	assert.Equal(t, 2.4, out.StopLossPct)
	assert.Equal(t, 4.8, out.TakeProfitPct)

	// Risk grading wins over the explicit override.
	out = base.Adjust(&ai.Signal{StopLossPct: 2.4, RiskLevel: ai.RiskHigh})
	assert.Equal(t, 2.0, out.StopLossPct)
}

func TestSizeFromATR(t *testing.T) {
	assert.Equal(t, 1.0, sizeFromATR(1.0))
	assert.Equal(t, 0.75, sizeFromATR(2.0))
	assert.Equal(t, 0.5, sizeFromATR(3.0))
	assert.Equal(t, 0.3, sizeFromATR(5.0))
}

func TestConfidenceFromScore(t *testing.T) {
	assert.InDelta(t, 0.70, confidenceFromScore(50), 1e-9)
	assert.InDelta(t, 1.0, confidenceFromScore(100), 1e-9)
	assert.InDelta(t, 0.70, confidenceFromScore(-50), 1e-9)
}

func TestStrategyFactory(t *testing.T) {
	log := zerolog.Nop()

	s, err := New("technical", nil, log)
	assert.NoError(t, err)
	assert.Equal(t, SymbolModeFixed, s.SymbolMode())

	s, err = New("autonomous", nil, log)
	assert.NoError(t, err)
	assert.Equal(t, SymbolModeAdvisory, s.SymbolMode())

	_, err = New("martingale", nil, log)
	assert.Error(t, err)
}
