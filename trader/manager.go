package trader

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spot-autotrader/ai"
	"spot-autotrader/config"
	"spot-autotrader/events"
	"spot-autotrader/exchange"
	"spot-autotrader/news"
	"spot-autotrader/store"
	"spot-autotrader/strategy"
)

// stopDrainTimeout caps how long Stop waits for a loop to flush its
// snapshot before abandoning it.
const stopDrainTimeout = 10 * time.Second

// Manager supervises trading engines: spawn, cooperative stop, crash
// bookkeeping and orphan adoption. Crashed bots are never restarted
// automatically; an order lost in the submit/persist gap must not
// cascade.
type Manager struct {
	cfg       *config.Config
	exchange  Exchange
	analyzer  *ai.Analyzer
	newsCache *news.Cache
	allocator *Allocator
	hub       *events.Hub
	clock     Clock
	log       zerolog.Logger

	bots      *store.BotStore
	trades    *store.TradeStore
	snapshots *store.SnapshotStore

	mu      sync.RWMutex
	engines map[int64]*Engine
}

func NewManager(cfg *config.Config, ex Exchange, analyzer *ai.Analyzer, newsCache *news.Cache,
	db *sql.DB, snapshots *store.SnapshotStore, hub *events.Hub, clock Clock, log zerolog.Logger) *Manager {

	if clock == nil {
		clock = SystemClock()
	}
	bots := store.NewBotStore(db)
	return &Manager{
		cfg:       cfg,
		exchange:  ex,
		analyzer:  analyzer,
		newsCache: newsCache,
		allocator: NewAllocator(bots),
		hub:       hub,
		clock:     clock,
		log:       log.With().Str("component", "manager").Logger(),
		bots:      bots,
		trades:    store.NewTradeStore(db),
		snapshots: snapshots,
		engines:   make(map[int64]*Engine),
	}
}

func (m *Manager) Allocator() *Allocator           { return m.allocator }
func (m *Manager) Bots() *store.BotStore           { return m.bots }
func (m *Manager) Trades() *store.TradeStore       { return m.trades }
func (m *Manager) Snapshots() *store.SnapshotStore { return m.snapshots }

// RefreshAllocations pulls the current free quote balance and sums the
// cost basis of every open position so the allocator reasons over live
// figures. Called by the API before allocation checks.
func (m *Manager) RefreshAllocations(ctx context.Context) error {
	balance, err := m.exchange.GetBalance(ctx, "USDT")
	if err != nil {
		return fmt.Errorf("failed to fetch quote balance: %w", err)
	}

	bots, err := m.bots.List()
	if err != nil {
		return err
	}
	var positionsCost float64
	for _, b := range bots {
		snap, err := m.snapshots.Load(b.ID)
		if err != nil || snap == nil {
			continue
		}
		if snap.Open() {
			positionsCost += snap.CostBasis()
		}
	}

	m.allocator.Update(balance.Free, positionsCost)
	return nil
}

// Start spawns a fresh trading loop for the bot.
func (m *Manager) Start(botID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if engine, exists := m.engines[botID]; exists && engine.IsRunning() {
		return fmt.Errorf("bot %d is already running", botID)
	}

	bot, err := m.bots.Get(botID)
	if err != nil {
		return fmt.Errorf("failed to load bot: %w", err)
	}

	strat, err := strategy.New(bot.Strategy, m.analyzer, m.log)
	if err != nil {
		return err
	}

	if err := m.bots.UpdateState(botID, store.StateStarting, ""); err != nil {
		return err
	}

	engine := NewEngine(bot, EngineConfig{
		Interval:       time.Duration(m.cfg.CheckIntervalSeconds) * time.Second,
		Risk:           strategy.DefaultRiskParams(m.cfg.DefaultSLPct, m.cfg.DefaultTPPct, m.cfg.MinConfidence),
		ResetHoldOnAdd: m.cfg.ResetHoldOnAdd,
	}, m.exchange, strat, m.newsCache, m.snapshots, m.trades, m.bots, m.hub, m.clock, m.log)

	m.engines[botID] = engine

	go func() {
		defer func() {
			if r := recover(); r != nil {
				reason := fmt.Sprintf("panic: %v", r)
				m.log.Error().Int64("bot", botID).Str("panic", reason).Msg("trading loop crashed")
				m.bots.UpdateState(botID, store.StateCrashed, reason)
				m.broadcastState(botID, bot.Symbol, store.StateCrashed)
			}
		}()

		m.bots.UpdateState(botID, store.StateRunning, "")
		m.broadcastState(botID, bot.Symbol, store.StateRunning)

		if err := engine.Run(context.Background()); err != nil {
			// Engine.Run already persisted the crashed state.
			m.log.Warn().Int64("bot", botID).Err(err).Msg("trading loop halted")
			m.broadcastState(botID, bot.Symbol, store.StateCrashed)
			return
		}
		m.bots.UpdateState(botID, store.StateStopped, "")
		m.broadcastState(botID, bot.Symbol, store.StateStopped)
	}()

	m.log.Info().Int64("bot", botID).Str("name", bot.Name).Str("strategy", bot.Strategy).Msg("started bot")
	return nil
}

// Stop requests cooperative shutdown and waits up to the drain cap.
func (m *Manager) Stop(botID int64) error {
	m.mu.Lock()
	engine, exists := m.engines[botID]
	if exists {
		delete(m.engines, botID)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("bot %d is not running", botID)
	}

	engine.Stop()
	select {
	case <-engine.Done():
		m.log.Info().Int64("bot", botID).Msg("stopped bot")
	case <-time.After(stopDrainTimeout):
		m.log.Warn().Int64("bot", botID).Msg("bot did not drain in time, abandoning loop")
	}
	return nil
}

// StopAll stops every running bot, used on process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	engines := m.engines
	m.engines = make(map[int64]*Engine)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for id, engine := range engines {
		wg.Add(1)
		go func(id int64, engine *Engine) {
			defer wg.Done()
			engine.Stop()
			select {
			case <-engine.Done():
			case <-time.After(stopDrainTimeout):
				m.log.Warn().Int64("bot", id).Msg("bot did not drain in time")
			}
		}(id, engine)
	}
	wg.Wait()
	m.log.Info().Msg("all bots stopped")
}

func (m *Manager) IsRunning(botID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if engine, exists := m.engines[botID]; exists {
		return engine.IsRunning()
	}
	return false
}

// Engine returns the live engine for a bot, if any.
func (m *Manager) Engine(botID int64) (*Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	engine, exists := m.engines[botID]
	return engine, exists
}

// Status reports a bot's live loop status for the dashboard.
func (m *Manager) Status(botID int64) map[string]interface{} {
	if engine, ok := m.Engine(botID); ok {
		return engine.Status()
	}
	return map[string]interface{}{"running": false}
}

// AdoptOrphans scans the account for base-asset balances no bot is
// managing and registers a stopped bot per orphan with a pre-seeded
// position, awaiting operator confirmation.
func (m *Manager) AdoptOrphans(ctx context.Context) error {
	balances, err := m.exchange.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("failed to list balances: %w", err)
	}

	bots, err := m.bots.List()
	if err != nil {
		return err
	}
	managed := make(map[string]bool, len(bots))
	for _, b := range bots {
		managed[b.Symbol] = true
	}

	var freeQuote float64
	var orphans []exchange.Balance
	for _, b := range balances {
		if b.Asset == "USDT" {
			freeQuote = b.Free
			continue
		}
		if b.Free <= 0 {
			continue
		}
		if !managed[b.Asset+"USDT"] {
			orphans = append(orphans, b)
		}
	}
	if len(orphans) == 0 {
		return nil
	}

	m.log.Info().Int("count", len(orphans)).Float64("free_quote", freeQuote).Msg("adopting orphan balances")

	for _, orphan := range orphans {
		symbol := orphan.Asset + "USDT"

		filters, err := m.exchange.GetSymbolFilters(ctx, symbol)
		if err != nil {
			m.log.Warn().Err(err).Str("symbol", symbol).Msg("orphan symbol not tradeable, skipping")
			continue
		}
		price, err := m.exchange.GetPrice(ctx, symbol)
		if err != nil {
			m.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to price orphan, skipping")
			continue
		}

		allocation := DefaultOrphanAllocation(freeQuote, len(orphans), filters.MinNotional)
		bot := &store.Bot{
			Name:      "adopted-" + orphan.Asset,
			Symbol:    symbol,
			Strategy:  store.StrategyTechnical,
			Allocated: allocation,
			State:     store.StateStopped,
		}
		if err := m.bots.Create(bot); err != nil {
			m.log.Error().Err(err).Str("symbol", symbol).Msg("failed to register orphan bot")
			continue
		}

		risk := strategy.DefaultRiskParams(m.cfg.DefaultSLPct, m.cfg.DefaultTPPct, m.cfg.MinConfidence)
		now := m.clock.Now()
		initial := allocation
		if m.cfg.OrphanCostBasis == config.OrphanCostBasisMarket {
			initial = orphan.Free * price
		}
		snap := &store.Snapshot{
			Position:          store.PositionLong,
			Symbol:            symbol,
			EntryPrice:        price,
			Quantity:          orphan.Free,
			StopLossPrice:     price * (1 - risk.StopLossPct/100),
			TakeProfitPrice:   price * (1 + risk.TakeProfitPct/100),
			OpenedAt:          now,
			MaxHoldUntil:      now.Add(risk.MaxHold),
			HasTraded:         true,
			InitialInvestment: initial,
		}
		if err := m.snapshots.Save(bot.ID, snap); err != nil {
			m.log.Error().Err(err).Int64("bot", bot.ID).Msg("failed to seed orphan snapshot")
			continue
		}

		m.log.Info().
			Int64("bot", bot.ID).
			Str("symbol", symbol).
			Float64("qty", orphan.Free).
			Float64("entry", price).
			Float64("allocated", allocation).
			Msg("orphan adopted, awaiting operator start")
		m.hub.Broadcast(events.Event{
			Type:    events.TypeInfo,
			BotID:   bot.ID,
			Symbol:  symbol,
			Message: fmt.Sprintf("adopted orphan %s balance %.8f, allocated %.2f", orphan.Asset, orphan.Free, allocation),
		})
	}
	return nil
}

func (m *Manager) broadcastState(botID int64, symbol, state string) {
	m.hub.Broadcast(events.Event{
		Type:    events.TypeBotState,
		BotID:   botID,
		Symbol:  symbol,
		Message: state,
	})
}
