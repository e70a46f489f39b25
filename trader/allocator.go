package trader

import (
	"errors"
	"fmt"
	"sync"

	"spot-autotrader/store"
)

// ErrOverAllocation rejects operations that would allocate more quote
// currency than the account can cover.
var ErrOverAllocation = errors.New("over-allocation")

// Allocator tracks the cross-bot quote-currency budget: how much the
// operator has earmarked versus how much the account actually holds
// (free plus at-cost value locked in open positions).
type Allocator struct {
	bots *store.BotStore

	mu            sync.RWMutex
	freeQuote     float64
	positionsCost float64
}

func NewAllocator(bots *store.BotStore) *Allocator {
	return &Allocator{bots: bots}
}

// Update refreshes the account figures the allocator reasons over.
// freeQuote comes from the exchange; positionsCost is the summed cost
// basis of all open positions.
func (a *Allocator) Update(freeQuote, positionsCost float64) {
	a.mu.Lock()
	a.freeQuote = freeQuote
	a.positionsCost = positionsCost
	a.mu.Unlock()
}

func (a *Allocator) FreeQuote() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.freeQuote
}

// Snapshot returns (free, total allocated, available for allocation).
func (a *Allocator) Snapshot() (free, allocated, available float64, err error) {
	allocated, err = a.bots.TotalAllocated()
	if err != nil {
		return 0, 0, 0, err
	}
	a.mu.RLock()
	free = a.freeQuote
	available = a.freeQuote + a.positionsCost - allocated
	a.mu.RUnlock()
	return free, allocated, available, nil
}

// CheckAllocation verifies that increasing total allocation by delta
// keeps the books covered.
func (a *Allocator) CheckAllocation(delta float64) error {
	if delta <= 0 {
		return nil
	}
	_, _, available, err := a.Snapshot()
	if err != nil {
		return err
	}
	if delta > available {
		return fmt.Errorf("%w: requested %.2f but only %.2f available", ErrOverAllocation, delta, available)
	}
	return nil
}

// DefaultOrphanAllocation splits 90% of the free quote across adopted
// orphans, leaving a buffer, with a floor of twice the min notional so
// each bot can actually trade.
func DefaultOrphanAllocation(freeQuote float64, orphanCount int, minNotional float64) float64 {
	if orphanCount <= 0 {
		return 0
	}
	per := freeQuote * 0.9 / float64(orphanCount)
	if floor := minNotional * 2; per < floor {
		per = floor
	}
	return per
}
