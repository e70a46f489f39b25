package strategy

import (
	"context"

	"github.com/rs/zerolog"

	"spot-autotrader/ai"
)

// Autonomous is symbol-agnostic: it scans the whole news batch and lets
// the model nominate the best USDT pair. The trading loop validates the
// recommendation against the exchange before acting.
type Autonomous struct {
	analyzer *ai.Analyzer
	log      zerolog.Logger
}

func NewAutonomous(analyzer *ai.Analyzer, log zerolog.Logger) *Autonomous {
	return &Autonomous{
		analyzer: analyzer,
		log:      log.With().Str("strategy", "autonomous").Logger(),
	}
}

func (a *Autonomous) Name() string           { return "autonomous" }
func (a *Autonomous) SymbolMode() SymbolMode { return SymbolModeAdvisory }

func (a *Autonomous) Analyse(ctx context.Context, sc *Context) (*ai.Signal, error) {
	hint := "any"
	if sc.Position.Open() {
		// An open position pins the symbol until it closes.
		hint = sc.Position.Symbol
	}

	signal := a.analyzer.AnalyzeBatch(ctx, hint, sc.Articles)
	if signal.Action == ai.ActionBuy && hint == "any" && signal.RecommendedSymbol == "" {
		a.log.Warn().Msg("buy signal without a recommended symbol, holding")
		return ai.Hold(), nil
	}
	return signal, nil
}
