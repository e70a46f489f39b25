package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *Snapshot {
	opened := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	return &Snapshot{
		Position:          PositionLong,
		Symbol:            "BTCUSDT",
		EntryPrice:        60000,
		Quantity:          0.00166,
		StopLossPrice:     58200,
		TakeProfitPrice:   63000,
		OpenedAt:          opened,
		MaxHoldUntil:      opened.Add(24 * time.Hour),
		HasTraded:         true,
		InitialInvestment: 100,
		CapitalAdditions:  []CapitalAddition{{Amount: 50, Timestamp: opened.Add(time.Hour)}},
		AddBuys:           []CapitalAddition{{Amount: 75, Timestamp: opened.Add(2 * time.Hour)}},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)

	want := testSnapshot()
	require.NoError(t, s.Save(7, want))

	got, err := s.Load(7)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSnapshotLoadMissing(t *testing.T) {
	s, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)

	got, err := s.Load(99)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotSaveOverwrites(t *testing.T) {
	s, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)

	first := testSnapshot()
	require.NoError(t, s.Save(1, first))

	// Position closed: fields cleared, accounting retained.
	second := &Snapshot{HasTraded: true, InitialInvestment: 100}
	require.NoError(t, s.Save(1, second))

	got, err := s.Load(1)
	require.NoError(t, err)
	assert.False(t, got.Open())
	assert.True(t, got.HasTraded)
	assert.Equal(t, 100.0, got.InitialInvestment)
}

func TestSnapshotCorruptQuarantined(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSnapshotStore(dir)
	require.NoError(t, err)

	path := filepath.Join(dir, "snapshots", "bot_3.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err = s.Load(3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))

	// The broken file was moved aside for inspection.
	_, statErr := os.Stat(path + ".corrupt")
	assert.NoError(t, statErr)
	_, statErr = os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSnapshotDelete(t *testing.T) {
	s, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save(5, testSnapshot()))
	require.NoError(t, s.Delete(5))

	got, err := s.Load(5)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting again is a no-op.
	assert.NoError(t, s.Delete(5))
}

func TestSnapshotAccounting(t *testing.T) {
	snap := testSnapshot()

	assert.True(t, snap.Open())
	assert.Equal(t, 50.0, snap.AddedCapital())
	// 100 initial + 50 added + 75 add-buy.
	assert.Equal(t, 225.0, snap.CostBasis())

	// ROI excludes add-buys from the denominator: they recycle
	// proceeds, not new money.
	assert.InDelta(t, (180.0-150.0)/150.0, snap.ROI(180), 1e-9)

	var flat *Snapshot
	assert.False(t, flat.Open())
}

func TestSnapshotROIZeroInvestment(t *testing.T) {
	snap := &Snapshot{}
	assert.Zero(t, snap.ROI(100))
}
