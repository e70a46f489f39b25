package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrCorrupt marks a snapshot file that could not be decoded. The file
// is quarantined, not overwritten, so the operator can inspect it.
var ErrCorrupt = errors.New("snapshot corrupt")

const (
	PositionLong = "LONG"
)

// CapitalAddition records quote currency added to a position after it
// was opened, either by the operator (add-funds) or by an add-buy.
type CapitalAddition struct {
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the durable per-bot position record. It exists even when
// the bot is flat (Position empty) because HasTraded and the trade
// accounting must survive restarts.
type Snapshot struct {
	Position        string    `json:"position"` // "LONG" or "" when flat
	Symbol          string    `json:"symbol,omitempty"`
	EntryPrice      float64   `json:"entry_price,omitempty"`
	Quantity        float64   `json:"quantity,omitempty"`
	StopLossPrice   float64   `json:"stop_loss_price,omitempty"`
	TakeProfitPrice float64   `json:"take_profit_price,omitempty"`
	OpenedAt        time.Time `json:"opened_at,omitempty"`
	MaxHoldUntil    time.Time `json:"max_hold_until,omitempty"`

	HasTraded         bool              `json:"has_traded"`
	InitialInvestment float64           `json:"initial_investment"`
	CapitalAdditions  []CapitalAddition `json:"capital_additions,omitempty"`
	AddBuys           []CapitalAddition `json:"add_buys,omitempty"`
}

// Open reports whether the snapshot carries a live position.
func (s *Snapshot) Open() bool {
	return s != nil && s.Position == PositionLong
}

// AddedCapital sums operator capital additions.
func (s *Snapshot) AddedCapital() float64 {
	var total float64
	for _, a := range s.CapitalAdditions {
		total += a.Amount
	}
	return total
}

// CostBasis is initial investment + capital additions + add-buy spends.
func (s *Snapshot) CostBasis() float64 {
	basis := s.InitialInvestment + s.AddedCapital()
	for _, a := range s.AddBuys {
		basis += a.Amount
	}
	return basis
}

// ROI relates current value to invested capital (initial investment
// plus operator additions; add-buys are recycled proceeds, not new
// money).
func (s *Snapshot) ROI(currentValue float64) float64 {
	invested := s.InitialInvestment + s.AddedCapital()
	if invested <= 0 {
		return 0
	}
	return (currentValue - invested) / invested
}

// SnapshotStore persists one JSON snapshot file per bot, rewritten
// atomically (write temp, fsync, rename) on every state transition.
type SnapshotStore struct {
	dir string
}

func NewSnapshotStore(dataDir string) (*SnapshotStore, error) {
	dir := filepath.Join(dataDir, "snapshots")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) path(botID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("bot_%d.json", botID))
}

// Load reads a bot's snapshot. A missing file returns (nil, nil). An
// unreadable file is quarantined with a .corrupt suffix and reported as
// ErrCorrupt; the bot must halt and surface it.
func (s *SnapshotStore) Load(botID int64) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(botID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		quarantine := s.path(botID) + ".corrupt"
		os.Rename(s.path(botID), quarantine)
		return nil, fmt.Errorf("%w: quarantined to %s: %v", ErrCorrupt, quarantine, err)
	}
	return &snap, nil
}

// Save atomically rewrites a bot's snapshot.
func (s *SnapshotStore) Save(botID int64, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf("bot_%d_*.tmp", botID))
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path(botID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Delete removes a bot's snapshot file entirely (bot deletion/reset;
// closing a position keeps the file with the position fields cleared).
func (s *SnapshotStore) Delete(botID int64) error {
	err := os.Remove(s.path(botID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
