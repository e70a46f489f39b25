package trader

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-autotrader/store"
)

func allocatorFixture(t *testing.T, allocations ...float64) *Allocator {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bots := store.NewBotStore(db)
	for _, alloc := range allocations {
		require.NoError(t, bots.Create(&store.Bot{
			Name:      "bot",
			Symbol:    "BTCUSDT",
			Strategy:  store.StrategyTechnical,
			Allocated: alloc,
		}))
	}
	return NewAllocator(bots)
}

func TestAllocatorSnapshot(t *testing.T) {
	a := allocatorFixture(t, 100, 150)
	a.Update(300, 120)

	free, allocated, available, err := a.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 300.0, free)
	assert.Equal(t, 250.0, allocated)
	// Open positions count at cost basis: 300 + 120 - 250.
	assert.Equal(t, 170.0, available)
}

func TestCheckAllocation(t *testing.T) {
	a := allocatorFixture(t, 100)
	a.Update(150, 0)

	// 150 free + 0 in positions - 100 allocated leaves 50.
	assert.NoError(t, a.CheckAllocation(50))
	err := a.CheckAllocation(50.01)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOverAllocation))

	// Decreases and no-ops always pass.
	assert.NoError(t, a.CheckAllocation(0))
	assert.NoError(t, a.CheckAllocation(-25))
}

func TestCheckAllocationCountsPositions(t *testing.T) {
	a := allocatorFixture(t, 100)

	// Everything is deployed: no free quote, but the position's cost
	// basis still covers the books.
	a.Update(5, 95)
	assert.NoError(t, a.CheckAllocation(0))
	assert.Error(t, a.CheckAllocation(10))

	a.Update(5, 195)
	assert.NoError(t, a.CheckAllocation(100))
}

func TestDefaultOrphanAllocation(t *testing.T) {
	// 454.38 free split across three orphans.
	per := DefaultOrphanAllocation(454.38, 3, 10)
	assert.InDelta(t, 136.31, per, 0.01)

	// The floor keeps tiny accounts tradeable.
	assert.Equal(t, 20.0, DefaultOrphanAllocation(30, 5, 10))

	assert.Zero(t, DefaultOrphanAllocation(500, 0, 10))
}
