package strategy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"spot-autotrader/ai"
	"spot-autotrader/exchange"
	"spot-autotrader/news"
	"spot-autotrader/store"
)

// SymbolMode declares whether a strategy trades the bot's configured
// pair or may recommend a different one.
type SymbolMode string

const (
	SymbolModeFixed    SymbolMode = "fixed"
	SymbolModeAdvisory SymbolMode = "advisory"
)

// Context carries everything a strategy may look at for one cycle.
// Strategies never call the exchange themselves; the trading loop
// gathers the inputs so a cycle makes a bounded number of network
// calls.
type Context struct {
	Symbol    string
	Klines    []exchange.Kline
	Price     float64
	Position  *store.Snapshot
	FreeQuote float64
	Articles  []news.Article
}

// Strategy produces at most one signal per cycle.
type Strategy interface {
	Name() string
	SymbolMode() SymbolMode
	Analyse(ctx context.Context, sc *Context) (*ai.Signal, error)
}

// New builds the strategy for a registry tag.
func New(tag string, analyzer *ai.Analyzer, log zerolog.Logger) (Strategy, error) {
	switch tag {
	case store.StrategyTechnical:
		return NewTechnical(log), nil
	case store.StrategyTickerNews:
		return NewTickerNews(analyzer, log), nil
	case store.StrategyAutonomous:
		return NewAutonomous(analyzer, log), nil
	}
	return nil, fmt.Errorf("unknown strategy %q", tag)
}
