package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBotStoreCRUD(t *testing.T) {
	bots := NewBotStore(testDB(t))

	bot := &Bot{Name: "alpha", Symbol: "BTCUSDT", Strategy: StrategyTechnical, Allocated: 100}
	require.NoError(t, bots.Create(bot))
	require.NotZero(t, bot.ID)
	assert.Equal(t, StateStopped, bot.State)

	got, err := bots.Get(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, 100.0, got.Allocated)

	require.NoError(t, bots.UpdateState(bot.ID, StateCrashed, "order submit failed"))
	got, err = bots.Get(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCrashed, got.State)
	assert.Equal(t, "order submit failed", got.LastError)

	total, err := bots.TotalAllocated()
	require.NoError(t, err)
	assert.Equal(t, 100.0, total)

	require.NoError(t, bots.Delete(bot.ID))
	_, err = bots.Get(bot.ID)
	assert.Error(t, err)
}

func TestBotStoreRejectsUnknownStrategy(t *testing.T) {
	bots := NewBotStore(testDB(t))

	err := bots.Create(&Bot{Name: "x", Symbol: "BTCUSDT", Strategy: "martingale"})
	assert.Error(t, err)
}

func TestStoreHandlesAreIndependent(t *testing.T) {
	a := NewBotStore(testDB(t))
	b := NewBotStore(testDB(t))

	require.NoError(t, a.Create(&Bot{Name: "x", Symbol: "BTCUSDT", Strategy: StrategyTechnical, Allocated: 10}))

	list, err := b.List()
	require.NoError(t, err)
	assert.Empty(t, list, "separate database handles must not share state")
}

func TestTradeStoreStats(t *testing.T) {
	db := testDB(t)
	trades := NewTradeStore(db)

	require.NoError(t, trades.Record(&Trade{BotID: 1, Side: "BUY", Symbol: "BTCUSDT", Price: 60000, Quantity: 0.00166, QuoteAmount: 99.60, Reason: ReasonEntry}))
	require.NoError(t, trades.Record(&Trade{BotID: 1, Side: "SELL", Symbol: "BTCUSDT", Price: 63100, Quantity: 0.00166, QuoteAmount: 104.75, RealizedPnL: 5.15, Reason: ReasonTakeProfit}))
	require.NoError(t, trades.Record(&Trade{BotID: 1, Side: "SELL", Symbol: "BTCUSDT", Price: 58100, Quantity: 0.001, QuoteAmount: 58.10, RealizedPnL: -1.90, Reason: ReasonStopLoss}))

	pnl, err := trades.TotalPnL(1)
	require.NoError(t, err)
	assert.InDelta(t, 3.25, pnl, 1e-9)

	stats, err := trades.Stats(1)
	require.NoError(t, err)
	assert.Equal(t, 3, stats["total_trades"])
	assert.Equal(t, 1, stats["winning_trades"])
	assert.Equal(t, 1, stats["losing_trades"])
	assert.InDelta(t, 50.0, stats["win_rate"].(float64), 1e-9)

	listed, err := trades.ListByBot(1, 10)
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestSettingsStoreRoundTrip(t *testing.T) {
	settings := NewSettingsStore(testDB(t))

	require.NoError(t, settings.Set("min_confidence", "0.65"))
	require.NoError(t, settings.Set("min_confidence", "0.70"))

	val, err := settings.Get("min_confidence")
	require.NoError(t, err)
	assert.Equal(t, "0.70", val)

	// Missing keys read as empty, not as an error.
	val, err = settings.Get("absent")
	require.NoError(t, err)
	assert.Empty(t, val)

	all, err := settings.GetAll()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"min_confidence": "0.70"}, all)
}
