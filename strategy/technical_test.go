package strategy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-autotrader/ai"
	"spot-autotrader/exchange"
)

// downtrendKlines walks price from start steadily down, which drives
// RSI oversold, price below EMA20 and a negative MACD histogram.
func downtrendKlines(n int, start, step float64) []exchange.Kline {
	klines := make([]exchange.Kline, n)
	price := start
	for i := range klines {
		klines[i] = exchange.Kline{
			Open:   price,
			High:   price + step/4,
			Low:    price - step,
			Close:  price - step/2,
			Volume: 1000,
		}
		price -= step
	}
	return klines
}

func uptrendKlines(n int, start, step float64) []exchange.Kline {
	klines := make([]exchange.Kline, n)
	price := start
	for i := range klines {
		klines[i] = exchange.Kline{
			Open:   price,
			High:   price + step,
			Low:    price - step/4,
			Close:  price + step/2,
			Volume: 1000,
		}
		price += step
	}
	return klines
}

func TestTechnicalNeedsWarmup(t *testing.T) {
	tech := NewTechnical(zerolog.Nop())

	_, err := tech.Analyse(context.Background(), &Context{
		Symbol: "BTCUSDT",
		Klines: uptrendKlines(10, 100, 1),
		Price:  105,
	})
	assert.Error(t, err)
}

func TestTechnicalUptrendSellsOverbought(t *testing.T) {
	tech := NewTechnical(zerolog.Nop())

	// A relentless uptrend is overbought: RSI and Bollinger vote SELL
	// while MACD and EMA vote BUY, so no side reaches the threshold.
	sig, err := tech.Analyse(context.Background(), &Context{
		Symbol: "BTCUSDT",
		Klines: uptrendKlines(60, 100, 1),
		Price:  160,
	})
	require.NoError(t, err)
	assert.Contains(t, []ai.Action{ai.ActionHold, ai.ActionSell}, sig.Action)
}

func TestTechnicalSignalCarriesStops(t *testing.T) {
	tech := NewTechnical(zerolog.Nop())

	sig, err := tech.Analyse(context.Background(), &Context{
		Symbol: "BTCUSDT",
		Klines: downtrendKlines(60, 200, 1),
		Price:  140,
	})
	require.NoError(t, err)

	if sig.Action != ai.ActionHold {
		assert.GreaterOrEqual(t, sig.Confidence, 0.70)
		assert.Greater(t, sig.StopLossPct, 0.0)
		assert.Greater(t, sig.TakeProfitPct, sig.StopLossPct)
		assert.Greater(t, sig.SizeFraction, 0.0)
	}
}

func TestStrategyMetadata(t *testing.T) {
	tn := NewTickerNews(nil, zerolog.Nop())
	assert.Equal(t, SymbolModeFixed, tn.SymbolMode())
	assert.Equal(t, "ticker_news", tn.Name())

	auto := NewAutonomous(nil, zerolog.Nop())
	assert.Equal(t, SymbolModeAdvisory, auto.SymbolMode())
	assert.Equal(t, "autonomous", auto.Name())
}
