package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"spot-autotrader/ai"
	"spot-autotrader/indicators"
)

const (
	// minKlines is the warm-up the slowest indicator (ADX 14) needs
	// plus margin.
	minKlines = 50

	// buyThreshold is the composite score (out of 100) at which the
	// strategy commits to a direction. SELL mirrors it at -50.
	buyThreshold = 50
)

// Technical scores the symbol with a weighted multi-indicator vote and
// sizes the stop distance from ATR. It never looks at news.
type Technical struct {
	log zerolog.Logger
}

func NewTechnical(log zerolog.Logger) *Technical {
	return &Technical{log: log.With().Str("strategy", "technical").Logger()}
}

func (t *Technical) Name() string           { return "technical" }
func (t *Technical) SymbolMode() SymbolMode { return SymbolModeFixed }

func (t *Technical) Analyse(_ context.Context, sc *Context) (*ai.Signal, error) {
	if len(sc.Klines) < minKlines {
		return nil, fmt.Errorf("need %d klines, have %d", minKlines, len(sc.Klines))
	}

	closes := make([]float64, len(sc.Klines))
	highs := make([]float64, len(sc.Klines))
	lows := make([]float64, len(sc.Klines))
	opens := make([]float64, len(sc.Klines))
	volumes := make([]float64, len(sc.Klines))
	for i, k := range sc.Klines {
		closes[i] = k.Close
		highs[i] = k.High
		lows[i] = k.Low
		opens[i] = k.Open
		volumes[i] = k.Volume
	}

	last := len(closes) - 1
	score := 0.0

	rsi := latest(indicators.RSI(closes, 14))
	switch {
	case rsi < 30:
		score += 25
	case rsi < 45:
		score += 10
	case rsi > 70:
		score -= 25
	case rsi > 55:
		score -= 10
	}

	_, _, hist := indicators.MACD(closes)
	if h := latest(hist); !math.IsNaN(h) {
		if h > 0 {
			score += 20
		} else if h < 0 {
			score -= 20
		}
	}

	ema20 := latest(indicators.EMA(closes, 20))
	if !math.IsNaN(ema20) {
		if closes[last] > ema20 {
			score += 15
		} else {
			score -= 15
		}
	}

	_, upper, lower := indicators.Bollinger(closes, 20, 2)
	if u, l := latest(upper), latest(lower); !math.IsNaN(u) {
		if closes[last] <= l {
			score += 15
		} else if closes[last] >= u {
			score -= 15
		}
	}

	obv := indicators.OBV(closes, volumes)
	if len(obv) >= 5 {
		if obv[last] > obv[last-4] {
			score += 10
		} else if obv[last] < obv[last-4] {
			score -= 10
		}
	}

	// Strong trend plus a decisive candle confirms the direction.
	adx := latest(indicators.ADX(highs, lows, closes, 14))
	volRatio := latest(indicators.VolumeRatio(volumes, 20))
	if adx >= 25 && volRatio >= 1.5 {
		if closes[last] > opens[last] {
			score += 15
		} else if closes[last] < opens[last] {
			score -= 15
		}
	}

	atr := latest(indicators.ATR(highs, lows, closes, 14))
	atrPct := 0.0
	if !math.IsNaN(atr) && sc.Price > 0 {
		atrPct = atr / sc.Price * 100
	}

	t.log.Debug().
		Str("symbol", sc.Symbol).
		Float64("score", score).
		Float64("rsi", rsi).
		Float64("atr_pct", atrPct).
		Msg("technical evaluation")

	if math.Abs(score) < buyThreshold {
		return ai.Hold(), nil
	}

	signal := &ai.Signal{
		Confidence:   confidenceFromScore(score),
		SizeFraction: sizeFromATR(atrPct),
		Reasoning:    fmt.Sprintf("composite score %.0f/100, RSI %.1f, ATR %.2f%%", score, rsi, atrPct),
	}
	if score > 0 {
		signal.Action = ai.ActionBuy
	} else {
		signal.Action = ai.ActionSell
	}
	if atrPct > 0 {
		signal.StopLossPct = 2 * atrPct
		signal.TakeProfitPct = 4 * atrPct
	}
	return signal, nil
}

// confidenceFromScore maps the committed range [50,100] onto [0.70,1.0]
// so a threshold-crossing score clears the default gate.
func confidenceFromScore(score float64) float64 {
	c := 0.70 + (math.Abs(score)-buyThreshold)*0.30/(100-buyThreshold)
	return math.Min(c, 1)
}

// sizeFromATR scales the position by volatility band.
func sizeFromATR(atrPct float64) float64 {
	switch {
	case atrPct <= 0:
		return 1.0
	case atrPct < 1.5:
		return 1.0
	case atrPct < 2.5:
		return 0.75
	case atrPct < 4:
		return 0.5
	default:
		return 0.3
	}
}

func latest(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}
