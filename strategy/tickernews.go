package strategy

import (
	"context"

	"github.com/rs/zerolog"

	"spot-autotrader/ai"
)

// TickerNews trades one pair on news sentiment. News controls entries
// and add-buys; a news SELL only closes the position when the
// technicals agree, so a single bearish headline cannot shake out a
// position the chart still supports.
type TickerNews struct {
	analyzer  *ai.Analyzer
	technical *Technical
	log       zerolog.Logger
}

func NewTickerNews(analyzer *ai.Analyzer, log zerolog.Logger) *TickerNews {
	return &TickerNews{
		analyzer:  analyzer,
		technical: NewTechnical(log),
		log:       log.With().Str("strategy", "ticker_news").Logger(),
	}
}

func (t *TickerNews) Name() string           { return "ticker_news" }
func (t *TickerNews) SymbolMode() SymbolMode { return SymbolModeFixed }

func (t *TickerNews) Analyse(ctx context.Context, sc *Context) (*ai.Signal, error) {
	signal := t.analyzer.AnalyzeBatch(ctx, sc.Symbol, sc.Articles)

	if signal.Action == ai.ActionSell && sc.Position.Open() {
		tech, err := t.technical.Analyse(ctx, sc)
		if err != nil {
			t.log.Warn().Err(err).Str("symbol", sc.Symbol).Msg("technical gate unavailable, keeping news exit")
			return signal, nil
		}
		if tech.Action == ai.ActionBuy {
			t.log.Info().
				Str("symbol", sc.Symbol).
				Float64("news_confidence", signal.Confidence).
				Msg("news exit vetoed by technicals")
			return ai.Hold(), nil
		}
	}
	return signal, nil
}
