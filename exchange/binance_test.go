package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *BinanceClient {
	return &BinanceClient{
		apiKey:     "test-key",
		secretKey:  "test-secret",
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		log:        zerolog.Nop(),
		filters: map[string]SymbolFilters{
			"BTCUSDT": {
				Symbol:      "BTCUSDT",
				MinNotional: 10,
				QtyStep:     0.001,
				PriceStep:   0.01,
				BaseAsset:   "BTC",
				QuoteAsset:  "USDT",
			},
		},
	}
}

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		step  float64
		want  float64
	}{
		{"truncates down", 0.0015873, 0.001, 0.001},
		{"exact multiple", 0.002, 0.001, 0.002},
		{"buy 100 usdt at 63k", 100.0 / 63000.0, 0.001, 0.001},
		{"no step", 1.2345, 0, 1.2345},
		{"price step", 63123.456, 0.01, 63123.45},
		{"larger step", 7.9, 0.5, 7.5},
		{"float drift guard", 0.3, 0.1, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RoundToStep(tt.value, tt.step), 1e-9)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		apiErr apiError
		want   Kind
	}{
		{"unauthorized", 401, apiError{}, KindAuth},
		{"forbidden", 403, apiError{}, KindAuth},
		{"bad api key", 200, apiError{Code: -2015}, KindAuth},
		{"invalid signature", 200, apiError{Code: -2014}, KindAuth},
		{"invalid symbol", 400, apiError{Code: -1121}, KindBadSymbol},
		{"insufficient balance", 400, apiError{Code: -2010, Msg: "Account has insufficient balance"}, KindInsufficientBalance},
		{"filter failure", 400, apiError{Code: -1013, Msg: "Filter failure: LOT_SIZE"}, KindFilterReject},
		{"order reject", 400, apiError{Code: -2010, Msg: "Order would trigger immediately"}, KindFilterReject},
		{"rate limited", 429, apiError{}, KindTransient},
		{"banned", 418, apiError{}, KindTransient},
		{"server error", 503, apiError{}, KindUnavailable},
		{"unknown", 400, apiError{Code: -9999}, KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.status, tt.apiErr))
		})
	}
}

func TestErrorKinds(t *testing.T) {
	err := newError(KindAuth, "GET /api/v3/account", assert.AnError)
	assert.True(t, IsKind(err, KindAuth))
	assert.False(t, IsKind(err, KindTransient))
	assert.Equal(t, KindAuth, KindOf(err))

	// Unclassified errors default to transient.
	assert.Equal(t, KindTransient, KindOf(assert.AnError))

	assert.True(t, Retriable(newError(KindTransient, "op", assert.AnError)))
	assert.True(t, Retriable(newError(KindUnavailable, "op", assert.AnError)))
	assert.False(t, Retriable(newError(KindFilterReject, "op", assert.AnError)))
	assert.False(t, Retriable(newError(KindAuth, "op", assert.AnError)))
}

func TestMarketOrderValidatesAmounts(t *testing.T) {
	c := testClient("")

	_, err := c.MarketOrder(context.Background(), "BTCUSDT", "BUY", 100, 0.5)
	assert.True(t, IsKind(err, KindFilterReject), "both amounts set must be rejected")

	_, err = c.MarketOrder(context.Background(), "BTCUSDT", "BUY", 0, 0)
	assert.True(t, IsKind(err, KindFilterReject), "no amount set must be rejected")
}

func TestMarketOrderMinNotionalRejectedLocally(t *testing.T) {
	// The server must never be reached: rejection happens before any
	// network round-trip.
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.MarketOrder(context.Background(), "BTCUSDT", "BUY", 3.96, 0)

	require.Error(t, err)
	assert.True(t, IsKind(err, KindFilterReject))
	assert.False(t, called, "order below min notional must not hit the exchange")
}

func TestMarketOrderQuantityRoundsToZero(t *testing.T) {
	c := testClient("")
	_, err := c.MarketOrder(context.Background(), "BTCUSDT", "SELL", 0, 0.0004)
	assert.True(t, IsKind(err, KindFilterReject))
}

func TestMarketOrderParsesFill(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/order", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "BTCUSDT", r.PostForm.Get("symbol"))
		assert.Equal(t, "BUY", r.PostForm.Get("side"))
		assert.Equal(t, "MARKET", r.PostForm.Get("type"))
		assert.Equal(t, "100.00", r.PostForm.Get("quoteOrderQty"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"orderId": 12345,
			"clientOrderId": "sat-abc",
			"symbol": "BTCUSDT",
			"side": "BUY",
			"executedQty": "0.00158000",
			"cummulativeQuoteQty": "99.54000000",
			"transactTime": 1700000000000,
			"fills": [{"price": "63000.00", "qty": "0.00158000"}]
		}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	order, err := c.MarketOrder(context.Background(), "BTCUSDT", "BUY", 100, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(12345), order.OrderID)
	assert.InDelta(t, 0.00158, order.FilledQty, 1e-9)
	assert.InDelta(t, 99.54, order.QuoteSpent, 1e-9)
	assert.InDelta(t, 99.54/0.00158, order.FillPrice, 1e-6)
}

func TestGetBalanceFindsAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/account", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"balances": [
			{"asset": "BTC", "free": "0.50000000", "locked": "0.00000000"},
			{"asset": "USDT", "free": "454.38000000", "locked": "10.00000000"}
		]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	balance, err := c.GetBalance(context.Background(), "USDT")

	require.NoError(t, err)
	assert.InDelta(t, 454.38, balance.Free, 1e-9)
	assert.InDelta(t, 10.0, balance.Locked, 1e-9)
}
