package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spot-autotrader/ai"
	"spot-autotrader/events"
	"spot-autotrader/exchange"
	"spot-autotrader/monitoring"
	"spot-autotrader/news"
	"spot-autotrader/store"
	"spot-autotrader/strategy"
)

// Loop states. FLAT/LONG follow the snapshot; COOLDOWN and HALTED are
// loop-local.
const (
	StateFlat     = "FLAT"
	StateLong     = "LONG"
	StateCooldown = "COOLDOWN"
	StateHalted   = "HALTED"
)

const (
	// DefaultInterval between trading cycles.
	DefaultInterval = 15 * time.Minute

	// CooldownDuration after an insufficient-balance buy attempt.
	CooldownDuration = 300 * time.Second

	// quoteReserve is quote currency an add-buy always leaves behind.
	quoteReserve = 20.0

	// addBuyFloor is the minimum add-buy size regardless of filters.
	addBuyFloor = 10.0

	klineInterval = "1h"
	klineLimit    = 100
)

// Exchange is the surface the loop consumes; tests provide a scripted
// fake.
type Exchange interface {
	GetBalance(ctx context.Context, asset string) (exchange.Balance, error)
	GetBalances(ctx context.Context) ([]exchange.Balance, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error)
	GetSymbolFilters(ctx context.Context, symbol string) (exchange.SymbolFilters, error)
	MarketOrder(ctx context.Context, symbol, side string, quoteAmount, baseQty float64) (*exchange.OrderResult, error)
}

// TradeRecorder persists executed trades.
type TradeRecorder interface {
	Record(trade *store.Trade) error
}

// Notifier broadcasts events to dashboard clients.
type Notifier interface {
	Broadcast(evt events.Event)
}

// EngineConfig is the per-bot loop configuration.
type EngineConfig struct {
	Interval       time.Duration
	Risk           strategy.RiskParams
	QuoteAsset     string
	ResetHoldOnAdd bool
}

// Engine runs one bot's trading loop: a periodic cycle that gathers
// signals, enforces the position state machine and persists every
// transition before moving on.
type Engine struct {
	bot       *store.Bot
	cfg       EngineConfig
	exchange  Exchange
	strat     strategy.Strategy
	newsCache *news.Cache
	snapshots *store.SnapshotStore
	trades    TradeRecorder
	bots      *store.BotStore
	notifier  Notifier
	clock     Clock
	log       zerolog.Logger

	mu            sync.RWMutex
	running       bool
	snap          *store.Snapshot
	cooldownUntil time.Time
	halted        bool
	haltReason    string
	lastSignal    *ai.Signal

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewEngine(bot *store.Bot, cfg EngineConfig, ex Exchange, strat strategy.Strategy,
	newsCache *news.Cache, snapshots *store.SnapshotStore, trades TradeRecorder,
	bots *store.BotStore, notifier Notifier, clock Clock, log zerolog.Logger) *Engine {

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Engine{
		bot:       bot,
		cfg:       cfg,
		exchange:  ex,
		strat:     strat,
		newsCache: newsCache,
		snapshots: snapshots,
		trades:    trades,
		bots:      bots,
		notifier:  notifier,
		clock:     clock,
		log:       log.With().Int64("bot", bot.ID).Str("name", bot.Name).Logger(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run executes the trading loop until Stop or a halting error. It
// returns nil on cooperative stop and the halt cause otherwise.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.doneCh)

	snap, err := e.snapshots.Load(e.bot.ID)
	if err != nil {
		e.halt("snapshot load", err)
		return err
	}
	if snap == nil {
		snap = &store.Snapshot{}
	}
	e.mu.Lock()
	e.snap = snap
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.log.Info().
		Str("strategy", e.strat.Name()).
		Str("symbol", e.bot.Symbol).
		Dur("interval", e.cfg.Interval).
		Bool("has_position", snap.Open()).
		Msg("trading loop started")

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.runCycle(ctx)
	for {
		if e.isHalted() {
			return fmt.Errorf("halted: %s", e.HaltReason())
		}
		select {
		case <-e.stopCh:
			e.log.Info().Msg("trading loop stopped")
			return nil
		case <-ctx.Done():
			e.log.Info().Msg("context cancelled, stopping trading loop")
			return nil
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// Stop requests cooperative shutdown. The loop finishes the cycle in
// flight, flushes the snapshot and exits.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
}

// Done is closed once the loop has fully drained.
func (e *Engine) Done() <-chan struct{} { return e.doneCh }

func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) isHalted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

func (e *Engine) HaltReason() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.haltReason
}

// State reports the loop state for the dashboard.
func (e *Engine) State() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() string {
	// An open position outranks a pending cooldown: stop-loss and
	// take-profit sampling must never be suppressed while LONG.
	switch {
	case e.halted:
		return StateHalted
	case e.snap.Open():
		return StateLong
	case e.clock.Now().Before(e.cooldownUntil):
		return StateCooldown
	default:
		return StateFlat
	}
}

// Snapshot returns a copy of the in-memory position snapshot.
func (e *Engine) Snapshot() store.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.snap == nil {
		return store.Snapshot{}
	}
	return *e.snap
}

// Status summarises the engine for the dashboard.
func (e *Engine) Status() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := map[string]interface{}{
		"running": e.running,
		"state":   e.stateLocked(),
	}
	if e.halted {
		status["halt_reason"] = e.haltReason
	}
	if e.clock.Now().Before(e.cooldownUntil) {
		status["cooldown_until"] = e.cooldownUntil
	}
	if e.snap != nil {
		status["snapshot"] = *e.snap
	}
	if e.lastSignal != nil {
		status["last_signal"] = e.lastSignal
	}
	return status
}

func (e *Engine) runCycle(ctx context.Context) {
	stateBefore := e.State()

	if stateBefore == StateCooldown {
		e.log.Info().
			Str("state_before", stateBefore).
			Str("state_after", stateBefore).
			Time("cooldown_until", e.cooldownUntil).
			Msg("cycle skipped, cooling down")
		monitoring.RecordCycle(e.bot.ID, stateBefore)
		return
	}

	balance, err := e.exchange.GetBalance(ctx, e.cfg.QuoteAsset)
	if err != nil {
		e.handleError("balance refresh", err)
		monitoring.RecordCycle(e.bot.ID, e.State())
		return
	}
	freeQuote := balance.Free

	var sig *ai.Signal
	var price float64
	snap := e.Snapshot()
	if snap.Open() {
		sig, price, err = e.cycleLong(ctx, freeQuote)
	} else {
		sig, price, err = e.cycleFlat(ctx, freeQuote)
	}
	if err != nil {
		e.handleError("cycle", err)
	}

	e.mu.Lock()
	e.lastSignal = sig
	e.mu.Unlock()

	stateAfter := e.State()
	line := e.log.Info().
		Str("state_before", stateBefore).
		Str("state_after", stateAfter).
		Float64("free_quote", freeQuote)
	if sig != nil {
		line = line.Str("signal", string(sig.Action)).Float64("confidence", sig.Confidence)
	}
	if price > 0 {
		line = line.Float64("price", price)
	}
	line.Msg("cycle complete")
	monitoring.RecordCycle(e.bot.ID, stateAfter)
}

// strategyContext gathers the cycle inputs a strategy may inspect.
func (e *Engine) strategyContext(ctx context.Context, symbol string, freeQuote float64) (*strategy.Context, error) {
	sc := &strategy.Context{
		Symbol:    symbol,
		FreeQuote: freeQuote,
	}

	e.mu.RLock()
	sc.Position = e.snap
	e.mu.RUnlock()

	klines, err := e.exchange.GetKlines(ctx, symbol, klineInterval, klineLimit)
	if err != nil {
		return nil, err
	}
	sc.Klines = klines

	price, err := e.exchange.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	sc.Price = price

	if e.newsCache != nil {
		switch {
		case e.strat.SymbolMode() == strategy.SymbolModeAdvisory:
			sc.Articles = e.newsCache.Articles(ctx)
		case e.strat.Name() == "ticker_news":
			sc.Articles = e.newsCache.ForTicker(ctx, symbol)
		}
	}
	return sc, nil
}

func (e *Engine) cycleFlat(ctx context.Context, freeQuote float64) (*ai.Signal, float64, error) {
	symbol := e.bot.Symbol

	sc, err := e.strategyContext(ctx, symbol, freeQuote)
	if err != nil {
		return nil, 0, err
	}

	sig, err := e.strat.Analyse(ctx, sc)
	if err != nil {
		return nil, sc.Price, err
	}
	risk := e.cfg.Risk.Adjust(sig)

	if sig.Action != ai.ActionBuy || sig.Confidence < risk.ConfidenceGate {
		return sig, sc.Price, nil
	}

	// Advisory strategies may nominate a different pair; it must be
	// tradeable or the signal degrades to HOLD.
	if e.strat.SymbolMode() == strategy.SymbolModeAdvisory && sig.RecommendedSymbol != "" {
		symbol = sig.RecommendedSymbol
		if _, err := e.exchange.GetSymbolFilters(ctx, symbol); err != nil {
			if exchange.IsKind(err, exchange.KindBadSymbol) {
				e.log.Warn().Str("symbol", symbol).Msg("recommended symbol not tradeable, holding")
				return ai.Hold(), sc.Price, nil
			}
			return sig, sc.Price, err
		}
	}

	filters, err := e.exchange.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return sig, sc.Price, err
	}

	// Target the full allocation, capped by what the account actually
	// holds so a shortage is caught by the min-notional guard here
	// instead of being bounced by the exchange.
	quoteToSpend := math.Min(freeQuote*0.99, e.bot.Allocated)
	if sig.SizeFraction > 0 && sig.SizeFraction < 1 {
		quoteToSpend *= sig.SizeFraction
	}

	if quoteToSpend < filters.MinNotional {
		e.log.Warn().
			Float64("quote_to_spend", quoteToSpend).
			Float64("min_notional", filters.MinNotional).
			Msg("insufficient balance for entry, cooling down")
		e.enterCooldown()
		e.notify(events.Event{
			Type:    events.TypeError,
			BotID:   e.bot.ID,
			Symbol:  symbol,
			Message: fmt.Sprintf("insufficient balance: %.2f below min notional %.2f", quoteToSpend, filters.MinNotional),
		})
		return sig, sc.Price, nil
	}

	order, err := e.exchange.MarketOrder(ctx, symbol, "BUY", quoteToSpend, 0)
	if err != nil {
		return sig, sc.Price, err
	}

	now := e.clock.Now()
	e.mu.Lock()
	e.snap.Position = store.PositionLong
	e.snap.Symbol = symbol
	e.snap.EntryPrice = order.FillPrice
	e.snap.Quantity = order.FilledQty
	e.snap.StopLossPrice = order.FillPrice * (1 - risk.StopLossPct/100)
	e.snap.TakeProfitPrice = order.FillPrice * (1 + risk.TakeProfitPct/100)
	e.snap.OpenedAt = now
	e.snap.MaxHoldUntil = now.Add(risk.MaxHold)
	e.snap.InitialInvestment = order.QuoteSpent
	e.snap.CapitalAdditions = nil
	e.snap.AddBuys = nil
	e.snap.HasTraded = true
	saved := *e.snap
	e.mu.Unlock()

	if err := e.snapshots.Save(e.bot.ID, &saved); err != nil {
		e.halt("snapshot save", err)
		return sig, sc.Price, nil
	}

	e.recordTrade(&store.Trade{
		BotID:       e.bot.ID,
		Timestamp:   now,
		Side:        "BUY",
		Symbol:      symbol,
		Price:       order.FillPrice,
		Quantity:    order.FilledQty,
		QuoteAmount: order.QuoteSpent,
		Reason:      store.ReasonEntry,
		OrderID:     order.OrderID,
	})
	e.log.Info().
		Str("symbol", symbol).
		Float64("entry", order.FillPrice).
		Float64("qty", order.FilledQty).
		Float64("quote_spent", order.QuoteSpent).
		Float64("stop_loss", saved.StopLossPrice).
		Float64("take_profit", saved.TakeProfitPrice).
		Int64("order_id", order.OrderID).
		Msg("position opened")
	e.notify(events.Event{
		Type:    events.TypeTrade,
		BotID:   e.bot.ID,
		Symbol:  symbol,
		Message: fmt.Sprintf("opened LONG %s: %.8f @ %.4f", symbol, order.FilledQty, order.FillPrice),
		Data:    saved,
	})
	return sig, order.FillPrice, nil
}

func (e *Engine) cycleLong(ctx context.Context, freeQuote float64) (*ai.Signal, float64, error) {
	snap := e.Snapshot()

	price, err := e.exchange.GetPrice(ctx, snap.Symbol)
	if err != nil {
		return nil, 0, err
	}
	monitoring.UpdatePrice(e.bot.ID, snap.Symbol, price)

	now := e.clock.Now()

	// Exit triggers in strict priority; stop-loss wins any tie.
	switch {
	case price <= snap.StopLossPrice:
		return nil, price, e.closePosition(ctx, store.ReasonStopLoss, price)
	case price >= snap.TakeProfitPrice:
		return nil, price, e.closePosition(ctx, store.ReasonTakeProfit, price)
	case !snap.MaxHoldUntil.IsZero() && !now.Before(snap.MaxHoldUntil):
		return nil, price, e.closePosition(ctx, store.ReasonMaxHold, price)
	}

	sc, err := e.strategyContext(ctx, snap.Symbol, freeQuote)
	if err != nil {
		return nil, price, err
	}
	sc.Price = price

	sig, err := e.strat.Analyse(ctx, sc)
	if err != nil {
		return nil, price, err
	}
	risk := e.cfg.Risk.Adjust(sig)

	switch {
	case sig.Action == ai.ActionSell && sig.Confidence >= risk.ConfidenceGate:
		return sig, price, e.closePosition(ctx, store.ReasonStrategySell, price)
	case sig.Action == ai.ActionBuy && sig.Confidence >= risk.ConfidenceGate:
		return sig, price, e.addToPosition(ctx, freeQuote, risk)
	}
	return sig, price, nil
}

func (e *Engine) closePosition(ctx context.Context, reason string, price float64) error {
	snap := e.Snapshot()

	order, err := e.exchange.MarketOrder(ctx, snap.Symbol, "SELL", 0, snap.Quantity)
	if err != nil {
		return err
	}

	realized := order.QuoteSpent - snap.CostBasis()
	now := e.clock.Now()

	e.mu.Lock()
	e.snap.Position = ""
	e.snap.Symbol = ""
	e.snap.EntryPrice = 0
	e.snap.Quantity = 0
	e.snap.StopLossPrice = 0
	e.snap.TakeProfitPrice = 0
	e.snap.OpenedAt = time.Time{}
	e.snap.MaxHoldUntil = time.Time{}
	saved := *e.snap
	e.mu.Unlock()

	if err := e.snapshots.Save(e.bot.ID, &saved); err != nil {
		e.halt("snapshot save", err)
		return nil
	}

	e.recordTrade(&store.Trade{
		BotID:       e.bot.ID,
		Timestamp:   now,
		Side:        "SELL",
		Symbol:      snap.Symbol,
		Price:       order.FillPrice,
		Quantity:    order.FilledQty,
		QuoteAmount: order.QuoteSpent,
		RealizedPnL: realized,
		Reason:      reason,
		OrderID:     order.OrderID,
	})
	monitoring.RecordPnL(e.bot.ID, snap.Symbol, realized)
	e.log.Info().
		Str("symbol", snap.Symbol).
		Str("reason", reason).
		Float64("exit", order.FillPrice).
		Float64("realized_pnl", realized).
		Int64("order_id", order.OrderID).
		Msg("position closed")
	e.notify(events.Event{
		Type:    events.TypeTrade,
		BotID:   e.bot.ID,
		Symbol:  snap.Symbol,
		Message: fmt.Sprintf("closed LONG %s (%s): PnL %.2f", snap.Symbol, reason, realized),
	})
	return nil
}

func (e *Engine) addToPosition(ctx context.Context, freeQuote float64, risk strategy.RiskParams) error {
	snap := e.Snapshot()

	addQuote := math.Min(freeQuote*0.5, freeQuote-quoteReserve)

	filters, err := e.exchange.GetSymbolFilters(ctx, snap.Symbol)
	if err != nil {
		return err
	}
	if addQuote < math.Max(filters.MinNotional, addBuyFloor) {
		e.log.Debug().
			Float64("add_quote", addQuote).
			Float64("min_notional", filters.MinNotional).
			Msg("add-buy too small, skipping")
		return nil
	}

	order, err := e.exchange.MarketOrder(ctx, snap.Symbol, "BUY", addQuote, 0)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	e.mu.Lock()
	newQty := e.snap.Quantity + order.FilledQty
	e.snap.EntryPrice = (e.snap.Quantity*e.snap.EntryPrice + order.FilledQty*order.FillPrice) / newQty
	e.snap.Quantity = newQty
	e.snap.StopLossPrice = e.snap.EntryPrice * (1 - risk.StopLossPct/100)
	e.snap.TakeProfitPrice = e.snap.EntryPrice * (1 + risk.TakeProfitPct/100)
	if e.cfg.ResetHoldOnAdd {
		e.snap.MaxHoldUntil = now.Add(risk.MaxHold)
	}
	e.snap.AddBuys = append(e.snap.AddBuys, store.CapitalAddition{Amount: order.QuoteSpent, Timestamp: now})
	saved := *e.snap
	e.mu.Unlock()

	if err := e.snapshots.Save(e.bot.ID, &saved); err != nil {
		e.halt("snapshot save", err)
		return nil
	}

	e.recordTrade(&store.Trade{
		BotID:       e.bot.ID,
		Timestamp:   now,
		Side:        "BUY",
		Symbol:      snap.Symbol,
		Price:       order.FillPrice,
		Quantity:    order.FilledQty,
		QuoteAmount: order.QuoteSpent,
		Reason:      store.ReasonAddBuy,
		OrderID:     order.OrderID,
	})
	e.log.Info().
		Str("symbol", snap.Symbol).
		Float64("add_quote", order.QuoteSpent).
		Float64("new_entry", saved.EntryPrice).
		Float64("new_qty", saved.Quantity).
		Int64("order_id", order.OrderID).
		Msg("added to position")
	return nil
}

// AddFunds records operator capital pushed into a running bot. The
// allocation check happens at the API layer before this is called.
func (e *Engine) AddFunds(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	now := e.clock.Now()

	e.mu.Lock()
	if e.snap == nil {
		// The loop has not loaded its snapshot yet.
		e.snap = &store.Snapshot{}
	}
	e.snap.CapitalAdditions = append(e.snap.CapitalAdditions, store.CapitalAddition{Amount: amount, Timestamp: now})
	saved := *e.snap
	e.mu.Unlock()

	if err := e.snapshots.Save(e.bot.ID, &saved); err != nil {
		return err
	}
	e.log.Info().Float64("amount", amount).Msg("capital added")
	return nil
}

func (e *Engine) enterCooldown() {
	e.mu.Lock()
	e.cooldownUntil = e.clock.Now().Add(CooldownDuration)
	e.mu.Unlock()
}

// handleError applies the recovery policy for a cycle error: halting
// kinds stop the loop, balance shortage cools down, everything else is
// logged and the cycle skipped.
func (e *Engine) handleError(op string, err error) {
	kind := exchange.KindOf(err)
	if errors.Is(err, store.ErrCorrupt) {
		kind = "corrupt"
	}
	monitoring.RecordError(e.bot.ID, string(kind))

	switch kind {
	case exchange.KindAuth, exchange.KindBadSymbol, "corrupt":
		e.halt(op, err)
	case exchange.KindInsufficientBalance:
		e.log.Warn().Err(err).Str("op", op).Msg("insufficient balance, cooling down")
		e.enterCooldown()
	case exchange.KindFilterReject:
		e.log.Warn().Err(err).Str("op", op).Msg("order rejected by filters, skipping cycle")
	default:
		e.log.Warn().Err(err).Str("op", op).Str("kind", string(kind)).Msg("cycle error, will retry next cycle")
	}
}

func (e *Engine) halt(op string, err error) {
	reason := fmt.Sprintf("%s: %v", op, err)

	e.mu.Lock()
	e.halted = true
	e.haltReason = reason
	e.mu.Unlock()

	e.log.Error().Err(err).Str("op", op).Msg("unrecoverable error, halting")
	if e.bots != nil {
		if uerr := e.bots.UpdateState(e.bot.ID, store.StateCrashed, reason); uerr != nil {
			e.log.Error().Err(uerr).Msg("failed to persist crashed state")
		}
	}
	e.notify(events.Event{
		Type:    events.TypeError,
		BotID:   e.bot.ID,
		Symbol:  e.bot.Symbol,
		Message: "bot halted: " + reason,
	})
}

func (e *Engine) recordTrade(trade *store.Trade) {
	if err := e.trades.Record(trade); err != nil {
		e.log.Error().Err(err).Msg("failed to record trade")
	}
	monitoring.RecordTrade(e.bot.ID, trade.Symbol, trade.Side, trade.Reason)
}

func (e *Engine) notify(evt events.Event) {
	if e.notifier != nil {
		e.notifier.Broadcast(evt)
	}
}
