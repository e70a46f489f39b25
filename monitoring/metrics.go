package monitoring

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Trading metrics
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spot_bot_cycles_total",
			Help: "Total number of trading cycles executed",
		},
		[]string{"bot", "state"},
	)

	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spot_bot_trades_total",
			Help: "Total number of trades executed",
		},
		[]string{"bot", "symbol", "side", "reason"},
	)

	// A gauge, not a counter: losing closes subtract from it.
	realizedPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spot_bot_realized_pnl",
			Help: "Cumulative realized PnL in quote currency",
		},
		[]string{"bot", "symbol"},
	)

	// Market data metrics
	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spot_bot_current_price",
			Help: "Last sampled price of a bot's trading symbol",
		},
		[]string{"bot", "symbol"},
	)

	// Allocation metrics
	allocatedQuote = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spot_bot_allocated_quote",
			Help: "Total quote currency allocated across all bots",
		},
	)

	freeQuote = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spot_bot_free_quote",
			Help: "Free quote currency on the exchange account",
		},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spot_bot_errors_total",
			Help: "Total number of errors by kind",
		},
		[]string{"bot", "kind"},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(tradesTotal)
	prometheus.MustRegister(realizedPnL)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(allocatedQuote)
	prometheus.MustRegister(freeQuote)
	prometheus.MustRegister(errorsTotal)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCycle records one trading cycle completion.
func RecordCycle(botID int64, state string) {
	cyclesTotal.WithLabelValues(botLabel(botID), state).Inc()
}

// RecordTrade records an executed trade.
func RecordTrade(botID int64, symbol, side, reason string) {
	tradesTotal.WithLabelValues(botLabel(botID), symbol, side, reason).Inc()
}

// RecordPnL accumulates realized PnL.
func RecordPnL(botID int64, symbol string, pnl float64) {
	realizedPnL.WithLabelValues(botLabel(botID), symbol).Add(pnl)
}

// UpdatePrice updates the last sampled price.
func UpdatePrice(botID int64, symbol string, price float64) {
	currentPrice.WithLabelValues(botLabel(botID), symbol).Set(price)
}

// UpdateAllocation updates the account-level allocation gauges.
func UpdateAllocation(allocated, free float64) {
	allocatedQuote.Set(allocated)
	freeQuote.Set(free)
}

// RecordError records an error by kind.
func RecordError(botID int64, kind string) {
	errorsTotal.WithLabelValues(botLabel(botID), kind).Inc()
}

func botLabel(botID int64) string {
	return strconv.FormatInt(botID, 10)
}
