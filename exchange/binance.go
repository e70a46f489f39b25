package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	BinanceMainnetURL = "https://api.binance.com"
	BinanceTestnetURL = "https://testnet.binance.vision"
)

type BinanceClient struct {
	apiKey           string
	secretKey        string
	baseURL          string
	httpClient       *http.Client
	log              zerolog.Logger
	serverTimeOffset int64 // offset between local time and server time (ms)

	filtersMu sync.RWMutex
	filters   map[string]SymbolFilters
}

type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free,string"`
	Locked float64 `json:"locked,string"`
}

type Kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// SymbolFilters holds the order constraints the exchange enforces for a
// trading pair. Quantities and prices must be rounded down to the steps
// before submission; notionals below MinNotional are rejected locally.
type SymbolFilters struct {
	Symbol      string
	MinNotional float64
	QtyStep     float64
	PriceStep   float64
	BaseAsset   string
	QuoteAsset  string
}

type OrderResult struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          string
	FillPrice     float64
	FilledQty     float64
	QuoteSpent    float64
	Time          time.Time
}

func NewBinanceClient(apiKey, secretKey string, testnet bool, log zerolog.Logger) *BinanceClient {
	baseURL := BinanceMainnetURL
	if testnet {
		baseURL = BinanceTestnetURL
	}

	client := &BinanceClient{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:     log.With().Str("component", "exchange").Logger(),
		filters: make(map[string]SymbolFilters),
	}

	client.syncServerTime()

	return client
}

// syncServerTime fetches server time and records the offset so signed
// request timestamps stay within the recv window.
func (c *BinanceClient) syncServerTime() {
	localTime := time.Now().UnixMilli()

	resp, err := c.httpClient.Get(c.baseURL + "/api/v3/time")
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to sync server time")
		return
	}
	defer resp.Body.Close()

	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.log.Warn().Err(err).Msg("failed to parse server time")
		return
	}

	c.serverTimeOffset = result.ServerTime - localTime
	c.log.Debug().Int64("offset_ms", c.serverTimeOffset).Msg("server time synced")
}

func (c *BinanceClient) sign(params url.Values) string {
	timestamp := time.Now().UnixMilli() + c.serverTimeOffset
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", "10000")

	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(params.Encode()))
	return hex.EncodeToString(h.Sum(nil))
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// classify maps an HTTP status and Binance error code onto an error kind.
func classify(status int, apiErr apiError) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case apiErr.Code == -2014 || apiErr.Code == -2015:
		return KindAuth
	case apiErr.Code == -1121:
		return KindBadSymbol
	case apiErr.Code == -2010 && strings.Contains(strings.ToLower(apiErr.Msg), "insufficient"):
		return KindInsufficientBalance
	case apiErr.Code == -1013 || apiErr.Code == -2010:
		return KindFilterReject
	case status == http.StatusTooManyRequests || status == 418:
		return KindTransient
	case status >= 500:
		return KindUnavailable
	}
	return KindTransient
}

func (c *BinanceClient) doRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	op := method + " " + endpoint

	if signed {
		signature := c.sign(params)
		params.Set("signature", signature)
	}

	var reqURL string
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		reqURL = c.baseURL + endpoint
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	} else {
		reqURL = c.baseURL + endpoint
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, newError(KindTransient, op, err)
	}

	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(KindTransient, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindTransient, op, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		json.Unmarshal(respBody, &apiErr)
		kind := classify(resp.StatusCode, apiErr)
		return nil, newError(kind, op, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	return respBody, nil
}

// doRead wraps doRequest with exponential backoff for retriable read
// failures. Base 1s, doubling to a 30s cap, at most 5 attempts.
func (c *BinanceClient) doRead(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	const maxAttempts = 5
	backoff := time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Re-encode per attempt: signing mutates params.
		p := url.Values{}
		for k, v := range params {
			p[k] = v
		}

		body, err := c.doRequest(ctx, method, endpoint, p, signed)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !Retriable(err) || attempt == maxAttempts {
			break
		}

		c.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("read failed, retrying")
		select {
		case <-ctx.Done():
			return nil, newError(KindTransient, method+" "+endpoint, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
	return nil, lastErr
}

// GetBalance returns free and locked amounts for one asset.
func (c *BinanceClient) GetBalance(ctx context.Context, asset string) (Balance, error) {
	balances, err := c.GetBalances(ctx)
	if err != nil {
		return Balance{}, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b, nil
		}
	}
	return Balance{Asset: asset}, nil
}

// GetBalances returns all non-zero account balances.
func (c *BinanceClient) GetBalances(ctx context.Context) ([]Balance, error) {
	body, err := c.doRead(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true)
	if err != nil {
		return nil, err
	}

	var account struct {
		Balances []Balance `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, newError(KindTransient, "parse account", err)
	}

	var out []Balance
	for _, b := range account.Balances {
		if b.Free != 0 || b.Locked != 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

// GetPrice returns the last trade price for a symbol.
func (c *BinanceClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doRead(ctx, http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, err
	}

	var ticker struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price,string"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return 0, newError(KindTransient, "parse ticker", err)
	}
	return ticker.Price, nil
}

// GetKlines retrieves candlestick data, ordered oldest to newest.
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.doRead(ctx, http.MethodGet, "/api/v3/klines", params, false)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, newError(KindTransient, "parse klines", err)
	}

	var klines []Kline
	for _, k := range raw {
		if len(k) < 7 {
			continue
		}
		klines = append(klines, Kline{
			OpenTime:  int64(k[0].(float64)),
			Open:      parseFloat(k[1]),
			High:      parseFloat(k[2]),
			Low:       parseFloat(k[3]),
			Close:     parseFloat(k[4]),
			Volume:    parseFloat(k[5]),
			CloseTime: int64(k[6].(float64)),
		})
	}
	return klines, nil
}

// GetSymbolFilters returns the min-notional and step sizes for a symbol.
// Results are cached: exchangeInfo is a heavy endpoint and filters change
// rarely.
func (c *BinanceClient) GetSymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	c.filtersMu.RLock()
	if f, ok := c.filters[symbol]; ok {
		c.filtersMu.RUnlock()
		return f, nil
	}
	c.filtersMu.RUnlock()

	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doRead(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return SymbolFilters{}, err
	}

	var info struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			Status     string `json:"status"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType  string `json:"filterType"`
				MinNotional string `json:"minNotional"`
				StepSize    string `json:"stepSize"`
				TickSize    string `json:"tickSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return SymbolFilters{}, newError(KindTransient, "parse exchangeInfo", err)
	}
	if len(info.Symbols) == 0 {
		return SymbolFilters{}, newError(KindBadSymbol, "exchangeInfo", fmt.Errorf("symbol %s not found", symbol))
	}

	s := info.Symbols[0]
	if s.Status != "TRADING" {
		return SymbolFilters{}, newError(KindBadSymbol, "exchangeInfo", fmt.Errorf("symbol %s status %s", symbol, s.Status))
	}

	f := SymbolFilters{Symbol: s.Symbol, BaseAsset: s.BaseAsset, QuoteAsset: s.QuoteAsset}
	for _, flt := range s.Filters {
		switch flt.FilterType {
		case "LOT_SIZE":
			f.QtyStep, _ = strconv.ParseFloat(flt.StepSize, 64)
		case "PRICE_FILTER":
			f.PriceStep, _ = strconv.ParseFloat(flt.TickSize, 64)
		case "NOTIONAL", "MIN_NOTIONAL":
			f.MinNotional, _ = strconv.ParseFloat(flt.MinNotional, 64)
		}
	}

	c.filtersMu.Lock()
	c.filters[symbol] = f
	c.filtersMu.Unlock()

	return f, nil
}

// MarketOrder submits a market order spending quoteAmount (BUY) or
// selling baseQty (SELL side, or a quote-less BUY). Exactly one of the
// two amounts must be non-zero. Quantities are rounded down to the
// symbol's step and notionals below the minimum are rejected locally
// without a network round-trip. Submission is never retried.
func (c *BinanceClient) MarketOrder(ctx context.Context, symbol, side string, quoteAmount, baseQty float64) (*OrderResult, error) {
	if (quoteAmount > 0) == (baseQty > 0) {
		return nil, newError(KindFilterReject, "order", fmt.Errorf("exactly one of quote amount and base qty must be set"))
	}

	filters, err := c.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("newOrderRespType", "FULL")
	params.Set("newClientOrderId", "sat-"+uuid.New().String()[:18])

	if quoteAmount > 0 {
		if filters.MinNotional > 0 && quoteAmount < filters.MinNotional {
			return nil, newError(KindFilterReject, "order",
				fmt.Errorf("quote amount %.2f below min notional %.2f", quoteAmount, filters.MinNotional))
		}
		params.Set("quoteOrderQty", formatStep(RoundToStep(quoteAmount, 0.01), 0.01))
	} else {
		qty := RoundToStep(baseQty, filters.QtyStep)
		if qty <= 0 {
			return nil, newError(KindFilterReject, "order",
				fmt.Errorf("quantity %.8f rounds to zero at step %.8f", baseQty, filters.QtyStep))
		}
		params.Set("quantity", formatStep(qty, filters.QtyStep))
	}

	c.log.Info().Str("symbol", symbol).Str("side", side).
		Float64("quote", quoteAmount).Float64("qty", baseQty).Msg("placing market order")

	body, err := c.doRequest(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		OrderID             int64  `json:"orderId"`
		ClientOrderID       string `json:"clientOrderId"`
		Symbol              string `json:"symbol"`
		Side                string `json:"side"`
		ExecutedQty         float64 `json:"executedQty,string"`
		CummulativeQuoteQty float64 `json:"cummulativeQuoteQty,string"`
		TransactTime        int64  `json:"transactTime"`
		Fills               []struct {
			Price float64 `json:"price,string"`
			Qty   float64 `json:"qty,string"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newError(KindTransient, "parse order", err)
	}

	result := &OrderResult{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          resp.Side,
		FilledQty:     resp.ExecutedQty,
		QuoteSpent:    resp.CummulativeQuoteQty,
		Time:          time.UnixMilli(resp.TransactTime).UTC(),
	}
	if resp.ExecutedQty > 0 {
		result.FillPrice = resp.CummulativeQuoteQty / resp.ExecutedQty
	}

	c.log.Info().Int64("order_id", result.OrderID).Float64("fill_price", result.FillPrice).
		Float64("filled_qty", result.FilledQty).Msg("order filled")

	return result, nil
}

// RoundToStep truncates a value down to a multiple of step.
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	steps := int64(value / step * (1 + 1e-9)) // guard against 0.0999.. float drift
	return float64(steps) * step
}

// formatStep renders a value with the number of decimals implied by step.
func formatStep(value, step float64) string {
	decimals := 0
	for step < 1 && decimals < 8 {
		step *= 10
		decimals++
	}
	return strconv.FormatFloat(value, 'f', decimals, 64)
}

func parseFloat(v interface{}) float64 {
	switch val := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case float64:
		return val
	default:
		return 0
	}
}
